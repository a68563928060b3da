package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type anthropicCall struct {
	Model    string `json:"model"`
	System   []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role string `json:"role"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func newFakeAnthropic(t *testing.T, rejectModel string) (*httptest.Server, func() []anthropicCall) {
	var (
		mu    sync.Mutex
		calls []anthropicCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		var c anthropicCall
		_ = json.NewDecoder(r.Body).Decode(&c)
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if c.Model == rejectModel {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"unknown model"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "` + c.Model + `",
			"content": [{"type": "text", "text": "hello from claude"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []anthropicCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]anthropicCall(nil), calls...)
	}
}

func TestAnthropicBackendSendsSystemPrompt(t *testing.T) {
	srv, calls := newFakeAnthropic(t, "")

	b := NewAnthropicBackend(AnthropicConfig{APIKey: "test", BaseURL: srv.URL, DefaultModel: "claude-default"})
	got, err := b.Complete(context.Background(), &Request{
		Model: "claude-x",
		Messages: []Message{
			{Role: "system", Content: "You are ZIA."},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "again"},
		},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "hello from claude" {
		t.Fatalf("Complete() = %q", got)
	}

	c := calls()[0]
	if c.Model != "claude-x" || c.MaxTokens != 100 {
		t.Fatalf("unexpected request %+v", c)
	}
	if len(c.System) != 1 || c.System[0].Text != "You are ZIA." {
		t.Fatalf("system prompt not sent as system parameter: %+v", c.System)
	}
	if len(c.Messages) != 3 || c.Messages[0].Role != "user" || c.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected turns %+v", c.Messages)
	}
}

func TestAnthropicRetryUsesDefaultModel(t *testing.T) {
	srv, calls := newFakeAnthropic(t, "bad-model")

	r := New([]Backend{
		NewAnthropicBackend(AnthropicConfig{APIKey: "test", BaseURL: srv.URL, DefaultModel: "claude-default"}),
	}, time.Second, testLogger())

	got, err := r.Send(context.Background(), prompt, "bad-model", 50)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != "hello from claude" {
		t.Fatalf("Send() = %q", got)
	}

	cs := calls()
	if len(cs) != 2 {
		t.Fatalf("expected 2 calls (SDK retries must be off), got %d", len(cs))
	}
	if cs[1].Model != "claude-default" {
		t.Fatalf("model-less attempt used %q, want claude-default", cs[1].Model)
	}
}

func TestAnthropicBackendStatusError(t *testing.T) {
	srv, _ := newFakeAnthropic(t, "claude-x")

	b := NewAnthropicBackend(AnthropicConfig{APIKey: "test", BaseURL: srv.URL})
	_, err := b.Complete(context.Background(), &Request{Model: "claude-x", Messages: prompt, MaxTokens: 10})

	var ee *EndpointError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *EndpointError, got %v", err)
	}
	if ee.Kind != ErrorStatus || ee.Status != http.StatusBadRequest {
		t.Fatalf("got kind %s status %d", ee.Kind, ee.Status)
	}
}
