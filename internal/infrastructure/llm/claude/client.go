// Package claude implements the Claude cloud provider on anthropic-sdk-go.
package claude

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/infrastructure/llm"
	"github.com/kirillkom/docpipe/internal/infrastructure/resilience"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 4096
)

type Options struct {
	APIKey            string
	DefaultModel      string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	BaseURL           string
	Executor          *resilience.Executor
	Logger            *slog.Logger
}

type Client struct {
	apiKey       string
	defaultModel string
	maxTokens    int64
	temperature  float64
	timeout      time.Duration
	baseURL      string
	limiter      *rate.Limiter
	executor     *resilience.Executor
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[string]anthropic.Client
}

func New(options Options) *Client {
	model := strings.TrimSpace(options.DefaultModel)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:       options.APIKey,
		defaultModel: model,
		maxTokens:    int64(maxTokens),
		temperature:  options.Temperature,
		timeout:      timeout,
		baseURL:      options.BaseURL,
		limiter:      llm.NewLimiter(options.RequestsPerMinute),
		executor:     options.Executor,
		logger:       logger,
		clients:      make(map[string]anthropic.Client),
	}
}

func (c *Client) CheckCredentials(credential string) error {
	_, err := llm.ResolveKey(c.apiKey, credential)
	return err
}

func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	key, err := llm.ResolveKey(c.apiKey, req.Credential)
	if err != nil {
		return "", err
	}
	client := c.client(key)
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if err := llm.Wait(ctx, c.limiter); err != nil {
		return "", err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	start := time.Now()
	msg, err := resilience.Call(ctx, c.executor, "claude.generate", func(ctx context.Context) (*anthropic.Message, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := client.Messages.New(callCtx, params)
		if err != nil {
			return nil, classify(err)
		}
		return resp, nil
	}, resilience.ClassifyByKind)
	if err != nil {
		return "", resilience.OpenCircuitError("claude generate", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	c.logger.Info("claude_generate_completed",
		"model", model,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"stop_reason", msg.StopReason,
	)
	return strings.TrimSpace(text.String()), nil
}

func (c *Client) client(key string) anthropic.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	client := anthropic.NewClient(opts...)
	c.clients[key] = client
	return client
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus("claude generate", apiErr.StatusCode, err)
	}
	return llm.ClassifyTransport("claude generate", err)
}
