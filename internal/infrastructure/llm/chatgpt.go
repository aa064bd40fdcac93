package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"IssueAssembler/internal/config"
	"IssueAssembler/internal/domain"
	"IssueAssembler/internal/ports"
)

const defaultSystemPrompt = "You are a newsletter editor. Answer with a single JSON object and nothing else."

// ChatGPTClient implements ports.Generator backed by OpenAI-compatible chat completions.
type ChatGPTClient struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	prompts     map[string]string
	httpClient  *http.Client
}

var _ ports.Generator = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.LLMConfig) *ChatGPTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &ChatGPTClient{
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		prompts:     cfg.Prompts,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends input as the user message under the prompt's system instructions
// and decodes the JSON answer into out.
func (c *ChatGPTClient) Generate(ctx context.Context, promptKey string, input any, out any) error {
	if c == nil {
		return fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return fmt.Errorf("chatgpt client misconfigured")
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal %s input: %w", promptKey, err)
	}

	var resp chatResponse
	err = c.post(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt(promptKey)},
			{Role: "user", Content: string(payload)},
		},
		Temperature:    c.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}, &resp)
	if err != nil {
		return fmt.Errorf("generate %s: %w", promptKey, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("generate %s: no choices: %w", promptKey, domain.ErrMalformedResponse)
	}
	if err := DecodeJSON(resp.Choices[0].Message.Content, out); err != nil {
		return fmt.Errorf("generate %s: %w", promptKey, err)
	}
	return nil
}

// DecodeJSON parses a model answer, tolerating markdown code fences around the object.
func DecodeJSON(content string, out any) error {
	text := stripFences(content)
	if text == "" {
		return fmt.Errorf("empty answer: %w", domain.ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	return nil
}

func stripFences(content string) string {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func (c *ChatGPTClient) systemPrompt(key string) string {
	prompt := strings.TrimSpace(c.prompts[key])
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}

func (c *ChatGPTClient) post(ctx context.Context, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty response body: %w", domain.ErrMalformedResponse)
		}
		return fmt.Errorf("decode response: %w: %w", domain.ErrMalformedResponse, err)
	}
	return nil
}
