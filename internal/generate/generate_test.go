package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kumar-ayush101/prompt-scheduler/internal/config"
)

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(config.GeneratorConfig{Provider: config.GeneratorOpenAI}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("openai without key error = %v", err)
	}
	if _, err := New(config.GeneratorConfig{Provider: config.GeneratorAnthropic}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("anthropic without key error = %v", err)
	}
	if _, err := New(config.GeneratorConfig{Provider: "llama"}); err == nil {
		t.Error("unknown provider accepted")
	}
	g, err := New(config.GeneratorConfig{Provider: config.GeneratorAnthropic, AnthropicAPIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(*Anthropic); !ok {
		t.Errorf("got %T, want *Anthropic", g)
	}
}

func TestOpenAI_ResponsesWithWebSearch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var req responsesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "gpt-test" || req.Input != "what's new?" || len(req.Tools) != 1 || req.Tools[0]["type"] != "web_search" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"output":[
			{"type":"web_search_call","status":"completed"},
			{"type":"message","content":[{"type":"output_text","text":"# News\n"},{"type":"output_text","text":"- item"}]}
		]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL + "/", WebSearch: true})
	out, err := o.Generate(context.Background(), "what's new?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "# News\n- item" {
		t.Errorf("output = %q", out)
	}
}

func TestOpenAI_ChatCompletions(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	out, err := o.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Errorf("output = %q", out)
	}
}

func TestOpenAI_FallsBackWhenResponsesMissing(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/responses" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"fallback"}}]}`))
	}))
	defer srv.Close()

	out, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, WebSearch: true}).Generate(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if out != "fallback" || strings.Join(paths, ",") != "/responses,/chat/completions" {
		t.Errorf("output = %q, paths = %v", out, paths)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chat/completions" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"output":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}).Generate(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("error = %v", err)
	}

	_, err = NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, WebSearch: true}).Generate(context.Background(), "hi")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropic_Generate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "claude-test" {
			t.Errorf("model = %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"content": [{"type": "text", "text": "Hello!"}],
			"model": "claude-test",
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	a := NewAnthropic(AnthropicConfig{APIKey: "k", Model: "claude-test", BaseURL: srv.URL})
	out, err := a.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Hello!" {
		t.Errorf("output = %q", out)
	}
}

func TestAnthropic_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL}).Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
}
