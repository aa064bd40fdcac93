package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/config"
	"IssueAssembler/internal/domain"
)

func newServer(t *testing.T, answer string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": answer}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(endpoint string) *ChatGPTClient {
	return NewChatGPTClient(config.LLMConfig{
		Endpoint: endpoint,
		Model:    "test-model",
		APIKey:   "key",
		Prompts:  map[string]string{"article_title": "write a title"},
	})
}

func TestGenerateDecodesFencedAnswer(t *testing.T) {
	t.Parallel()
	var seen chatRequest
	srv := newServer(t, "```json\n{\"headline\":\"Models ship\"}\n```", &seen)

	var out struct {
		Headline string `json:"headline"`
	}
	err := newClient(srv.URL).Generate(context.Background(), "article_title", map[string]string{"title": "x"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Models ship", out.Headline)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "write a title", seen.Messages[0].Content)
	assert.JSONEq(t, `{"title":"x"}`, seen.Messages[1].Content)
	assert.Equal(t, "json_object", seen.ResponseFormat["type"])
}

func TestGenerateRejectsProse(t *testing.T) {
	t.Parallel()
	srv := newServer(t, "Sure! Here is your headline.", nil)

	var out map[string]any
	err := newClient(srv.URL).Generate(context.Background(), "unknown_key", nil, &out)
	require.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	var out map[string]any
	err := newClient(srv.URL).Generate(context.Background(), "welcome", nil, &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "429")
}

func TestMisconfiguredClient(t *testing.T) {
	t.Parallel()
	var out map[string]any
	err := NewChatGPTClient(config.LLMConfig{}).Generate(context.Background(), "welcome", nil, &out)
	require.Error(t, err)
}
