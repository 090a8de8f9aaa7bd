package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseSize caps the response body read from the API (10 MB).
const maxResponseSize = 10 * 1024 * 1024

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// WebSearch selects the Responses API with the web_search tool. Without it
	// the prompt goes to Chat Completions.
	WebSearch bool
}

type OpenAI struct {
	config OpenAIConfig
	client *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-5.2"
	}
	// no client timeout: the caller's context carries the run budget
	return &OpenAI{config: cfg, client: &http.Client{}}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// statusError is returned for non-2xx responses.
type statusError struct {
	Code int
	Msg  string
}

func (e *statusError) Error() string { return fmt.Sprintf("openai: HTTP %d: %s", e.Code, e.Msg) }

type responsesRequest struct {
	Model   string           `json:"model"`
	Input   string           `json:"input"`
	Tools   []map[string]any `json:"tools,omitempty"`
	Include []string         `json:"include,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if !o.config.WebSearch {
		return o.chat(ctx, prompt)
	}
	out, err := o.responses(ctx, prompt)
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		// account or endpoint without Responses API access
		return o.chat(ctx, prompt)
	}
	return out, err
}

func (o *OpenAI) responses(ctx context.Context, prompt string) (string, error) {
	req := responsesRequest{
		Model:   o.config.Model,
		Input:   prompt,
		Tools:   []map[string]any{{"type": "web_search"}},
		Include: []string{"web_search_call.action.sources"},
	}
	var resp responsesResponse
	if err := o.post(ctx, "/responses", req, &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (o *OpenAI) chat(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:    o.config.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	var resp chatResponse
	if err := o.post(ctx, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &statusError{Code: resp.StatusCode, Msg: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("openai: unmarshal response: %w", err)
	}
	return nil
}
