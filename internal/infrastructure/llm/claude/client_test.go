package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

func TestCheckCredentials(t *testing.T) {
	assert.True(t, domain.IsKind(New(Options{}).CheckCredentials(""), domain.ErrConfiguration))
	assert.NoError(t, New(Options{APIKey: "configured"}).CheckCredentials(""))
}

func TestGenerateJoinsTextBlocks(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "doc-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
			"content":[{"type":"text","text":"empresa: Acme\n"},{"type":"text","text":"CNPJ: 1"}],
			"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer server.Close()

	client := New(Options{BaseURL: server.URL, Temperature: 0.2})
	reply, err := client.Generate(context.Background(), domain.GenerateRequest{Prompt: "p", Credential: "doc-key"})
	require.NoError(t, err)
	assert.Equal(t, "empresa: Acme\nCNPJ: 1", reply)
	assert.Equal(t, DefaultModel, body["model"])
	assert.EqualValues(t, defaultMaxTokens, body["max_tokens"])
	assert.EqualValues(t, 0.2, body["temperature"])
}

func TestGenerateClassifiesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	client := New(Options{APIKey: "k", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), domain.GenerateRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary), "got %v", err)
	assert.True(t, domain.IsRetryable(err))
}
