package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/tierroute/internal/models"
)

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "bedrock", APIKey: "k"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("New() error = %v, want ErrUnsupportedProvider", err)
	}
	if !strings.Contains(err.Error(), "bedrock") {
		t.Errorf("error should name the provider: %v", err)
	}
}

func TestNew_Variants(t *testing.T) {
	tests := []struct {
		cfg  Config
		want models.Provider
	}{
		{Config{Provider: "anthropic", APIKey: "k"}, models.ProviderAnthropic},
		{Config{Provider: "OpenAI", APIKey: "k"}, models.ProviderOpenAI},
		{Config{Provider: "custom", BaseURL: "http://localhost:11434/v1", DefaultModel: "llama3"}, models.ProviderCustom},
	}
	for _, tt := range tests {
		adapter, err := New(context.Background(), tt.cfg)
		if err != nil {
			t.Fatalf("New(%s) error = %v", tt.cfg.Provider, err)
		}
		if adapter.Name() != tt.want {
			t.Errorf("Name() = %s, want %s", adapter.Name(), tt.want)
		}
	}

	if _, err := New(context.Background(), Config{Provider: "custom"}); err == nil {
		t.Error("custom without base_url should fail")
	}
	if _, err := New(context.Background(), Config{Provider: "openai"}); err == nil {
		t.Error("openai without api key should fail")
	}
}

func TestOpenAIAdapter_Chat(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	adapter, err := NewOpenAI(Config{APIKey: "test", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	resp, err := adapter.Chat(context.Background(), &Request{
		Model:    "gpt-4o-mini",
		System:   "be brief",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "hello there" || resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("Chat() = %+v", resp)
	}
	if resp.StopReason != "stop" {
		t.Errorf("StopReason = %q, want stop", resp.StopReason)
	}

	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system + user messages, got %v", gotBody["messages"])
	}
	if first, _ := messages[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

func TestOpenAIAdapter_ChatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error": {"message": "overloaded", "type": "server_error"}}`)
	}))
	defer server.Close()

	adapter, _ := NewOpenAI(Config{APIKey: "test", BaseURL: server.URL + "/v1"})
	_, err := adapter.Chat(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hi"}}})

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if providerErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", providerErr.Status)
	}
	if !providerErr.Retryable() {
		t.Error("503 should be retryable")
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("original message should be preserved: %v", err)
	}
}

func TestOpenAIAdapter_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter, _ := NewOpenAI(Config{APIKey: "test", BaseURL: server.URL + "/v1"})
	chunks, err := adapter.Stream(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var text strings.Builder
	var usage Chunk
	var done bool
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			t.Fatalf("stream error: %v", chunk.Err)
		case chunk.Type == ChunkText:
			text.WriteString(chunk.Text)
		case chunk.Type == ChunkUsage:
			usage = chunk
		case chunk.Type == ChunkDone:
			done = true
		}
	}

	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}
	if usage.InputTokens != 5 || usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", usage)
	}
	if !done {
		t.Error("expected done chunk")
	}
}

func TestAnthropicAdapter_Chat(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "fast answer"}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 20, "output_tokens": 4}
		}`)
	}))
	defer server.Close()

	adapter, err := NewAnthropic(Config{APIKey: "test", BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("NewAnthropic() error = %v", err)
	}

	temp := 0.2
	resp, err := adapter.Chat(context.Background(), &Request{
		Model:       "claude-3-5-haiku-latest",
		Messages:    []Message{{Role: "system", Content: "classify"}, {Role: "user", Content: "hi"}},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "fast answer" || resp.InputTokens != 20 || resp.OutputTokens != 4 {
		t.Errorf("Chat() = %+v", resp)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
	if gotBody["system"] == nil {
		t.Error("system message should be sent out of band")
	}
	if messages, _ := gotBody["messages"].([]any); len(messages) != 1 {
		t.Errorf("messages = %v, want only the user turn", gotBody["messages"])
	}
}

func TestAnthropicAdapter_ChatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`)
	}))
	defer server.Close()

	adapter, _ := NewAnthropic(Config{APIKey: "test", BaseURL: server.URL + "/"})
	_, err := adapter.Chat(context.Background(), &Request{Messages: []Message{{Role: "user", Content: "hi"}}})

	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %T: %v", err, err)
	}
	if providerErr.Reason != FailureRateLimit {
		t.Errorf("Reason = %s, want rate_limit", providerErr.Reason)
	}
	if providerErr.Message != "slow down" {
		t.Errorf("Message = %q, want slow down", providerErr.Message)
	}
}

func TestAdapters_RejectEmptyRequest(t *testing.T) {
	adapter, _ := NewOpenAI(Config{APIKey: "k"})
	if _, err := adapter.Chat(context.Background(), &Request{}); err == nil {
		t.Error("expected error for request without messages")
	}
	if _, err := adapter.Stream(context.Background(), nil); err == nil {
		t.Error("expected error for nil request")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want FailureReason
	}{
		{errors.New("context deadline exceeded"), FailureTimeout},
		{errors.New("429 Too Many Requests"), FailureRateLimit},
		{errors.New("invalid api key"), FailureAuth},
		{errors.New("502 bad gateway"), FailureServerError},
		{errors.New("model not found"), FailureModelUnavailable},
		{errors.New("something odd"), FailureUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%q) = %s, want %s", tt.err, got, tt.want)
		}
	}

	if IsRetryable(errors.New("invalid api key")) {
		t.Error("auth errors should not be retryable")
	}
	wrapped := fmt.Errorf("call: %w", NewProviderError("openai", "gpt-4o", errors.New("x")).WithStatus(500))
	if !IsRetryable(wrapped) {
		t.Error("wrapped 500 should be retryable")
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad request", NewProviderError("openai", "gpt-4o", errors.New("bad")).WithStatus(400), true},
		{"auth", NewProviderError("anthropic", "m", errors.New("nope")).WithStatus(401), true},
		{"rate limited", NewProviderError("openai", "gpt-4o", errors.New("slow down")).WithStatus(429), false},
		{"server error", NewProviderError("google", "m", errors.New("oops")).WithStatus(503), false},
		{"plain error", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}
