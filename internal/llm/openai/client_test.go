package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/pdf2schema/internal/common"
	"github.com/joseph-ayodele/pdf2schema/internal/llm"
)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o-mini", Temperature: 0.2}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg, nil)
}

func TestComplete_OK(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  tables: []\n"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":3}}`))
	})

	out, err := c.Complete(context.Background(), "describe this", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "tables: []", out)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "describe this", msgs[1].(map[string]any)["content"])
	assert.NotContains(t, got, "response_format")
}

func TestComplete_StructuredOutput(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"tables\":[]}"}}]}`))
	}, func(cfg *Config) { cfg.StructuredOutput = true })

	_, err := c.Complete(context.Background(), "p", 0)
	require.NoError(t, err)
	rf := got["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", rf["type"])
	js := rf["json_schema"].(map[string]any)
	assert.Equal(t, "schema_document", js["name"])
	assert.Contains(t, js["schema"].(map[string]any)["required"], "tables")
}

func TestComplete_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		kind      llm.ErrorKind
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, llm.KindRateLimit, true},
		{"overloaded", http.StatusServiceUnavailable, `oops`, llm.KindRateLimit, true},
		{"gateway timeout", http.StatusGatewayTimeout, ``, llm.KindTimeout, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, llm.KindOther, false},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"no access"}}`, llm.KindOther, false},
		{"server error", http.StatusInternalServerError, `{}`, llm.KindRateLimit, true},
		{"bad gateway", http.StatusBadGateway, `<html>upstream</html>`, llm.KindRateLimit, true},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, llm.KindOther, false},
		{"bad body", http.StatusOK, `not json`, llm.KindMalformed, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, llm.KindMalformed, false},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, llm.KindMalformed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Complete(context.Background(), "p", time.Second)
			require.Error(t, err)
			var ce *llm.CompletionError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.kind, ce.Kind)
			assert.Equal(t, tc.retryable, ce.Retryable())
		})
	}
}

func TestComplete_APIErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	})
	_, err := c.Complete(context.Background(), "p", time.Second)
	require.Error(t, err)
	assert.Equal(t, "completion OTHER (status 401): Incorrect API key provided", err.Error())
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestComplete_ServerErrorIsNotUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Complete(context.Background(), "p", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrUnauthorized)
	assert.True(t, llm.AsCompletionError(err).Retryable())
}

func TestComplete_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	_, err := c.Complete(context.Background(), "p", 20*time.Millisecond)
	require.Error(t, err)
	ce := llm.AsCompletionError(err)
	assert.Equal(t, llm.KindTimeout, ce.Kind)
	assert.True(t, ce.Retryable())
}

func TestNewClientDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	c := NewClient(Config{}, nil)
	assert.Equal(t, "from-env", c.cfg.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", c.cfg.BaseURL)
	assert.Equal(t, "gpt-4o-mini", c.Model())
	assert.NotEmpty(t, c.cfg.SystemPrompt)
}
