package ollama

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/infrastructure/resilience"
)

const (
	defaultTimeout = 300 * time.Second
	pingTimeout    = 5 * time.Second
)

// Client talks to a local Ollama server. It implements ports.LLMClient and
// ports.ReachabilityChecker.
type Client struct {
	baseURL      string
	defaultModel string
	temperature  float64
	httpClient   *http.Client
	executor     *resilience.Executor
	logger       *slog.Logger
}

type Options struct {
	DefaultModel string
	Temperature  float64
	Timeout      time.Duration
	Executor     *resilience.Executor
	Logger       *slog.Logger
}

func New(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: options.DefaultModel,
		temperature:  options.Temperature,
		httpClient:   &http.Client{Timeout: timeout},
		executor:     options.Executor,
		logger:       logger,
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration"`
	LoadDuration    int64  `json:"load_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return "", domain.WrapError(domain.ErrConfiguration, "ollama generate", errors.New("no model requested and no default configured"))
	}

	payload := generateRequest{
		Model:   model,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: map[string]any{"temperature": c.temperature},
	}

	start := time.Now()
	resp, err := resilience.Call(ctx, c.executor, "ollama.generate", func(ctx context.Context) (generateResponse, error) {
		var out generateResponse
		if err := c.postJSON(ctx, "/api/generate", payload, &out, "generate"); err != nil {
			return generateResponse{}, classifyError("ollama generate", err)
		}
		return out, nil
	}, resilience.ClassifyByKind)
	if err != nil {
		return "", resilience.OpenCircuitError("ollama generate", err)
	}

	c.logger.Info("ollama_generate_completed",
		"model", model,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"total_duration", time.Duration(resp.TotalDuration).String(),
		"load_duration", time.Duration(resp.LoadDuration).String(),
		"prompt_eval_count", resp.PromptEvalCount,
		"eval_count", resp.EvalCount,
	)
	return strings.TrimSpace(resp.Response), nil
}

// Ping checks that the server answers on /api/tags.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &tags, "tags"); err != nil {
		return domain.WrapError(domain.ErrUnreachable, "ollama ping", err)
	}
	return nil
}

// Models lists the model names the server has pulled.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &tags, "tags"); err != nil {
		return nil, classifyError("ollama list models", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
