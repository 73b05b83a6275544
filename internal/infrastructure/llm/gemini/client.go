// Package gemini implements the Gemini cloud provider on google.golang.org/genai.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/infrastructure/llm"
	"github.com/kirillkom/docpipe/internal/infrastructure/resilience"
)

const DefaultModel = "gemini-2.0-flash"

const (
	clientCacheSize = 64
	clientCacheTTL  = 15 * time.Minute
)

type Options struct {
	APIKey            string
	DefaultModel      string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	BaseURL           string
	Executor          *resilience.Executor
	Logger            *slog.Logger
}

// Client calls the Gemini API. Documents may carry their own key, so genai
// clients are cached by key digest and expire after clientCacheTTL.
type Client struct {
	apiKey       string
	defaultModel string
	temperature  float32
	timeout      time.Duration
	baseURL      string
	limiter      *rate.Limiter
	executor     *resilience.Executor
	logger       *slog.Logger

	mu      sync.Mutex
	clients *ristretto.Cache[string, *genai.Client]
}

func New(options Options) *Client {
	model := strings.TrimSpace(options.DefaultModel)
	if model == "" {
		model = DefaultModel
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
		temperature:  float32(options.Temperature),
		timeout:      timeout,
		baseURL:      options.BaseURL,
		limiter:      llm.NewLimiter(options.RequestsPerMinute),
		executor:     options.Executor,
		logger:       logger,
		clients:      mustClientCache(),
	}
}

func mustClientCache() *ristretto.Cache[string, *genai.Client] {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *genai.Client]{
		NumCounters: clientCacheSize * 10,
		MaxCost:     clientCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
	return cache
}

// cacheKey keeps raw API keys out of the cache index.
func cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
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
	client, err := c.client(ctx, key)
	if err != nil {
		return "", err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if err := llm.Wait(ctx, c.limiter); err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}

	start := time.Now()
	text, err := resilience.Call(ctx, c.executor, "gemini.generate", func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := client.Models.GenerateContent(callCtx, model, genai.Text(req.Prompt), config)
		if err != nil {
			return "", classify(err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			return "", domain.WrapError(domain.ErrProvider, "gemini generate", errors.New("response has no candidates"))
		}
		return resp.Text(), nil
	}, resilience.ClassifyByKind)
	if err != nil {
		return "", resilience.OpenCircuitError("gemini generate", err)
	}

	c.logger.Info("gemini_generate_completed", "model", model, "elapsed_ms", time.Since(start).Milliseconds())
	return strings.TrimSpace(text), nil
}

func (c *Client) client(ctx context.Context, key string) (*genai.Client, error) {
	id := cacheKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients.Get(id); ok {
		return client, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "create gemini client", err)
	}
	c.clients.SetWithTTL(id, client, 1, clientCacheTTL)
	c.clients.Wait()
	return client, nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyStatus("gemini generate", apiErr.Code, err)
	}
	return llm.ClassifyTransport("gemini generate", err)
}
