package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 4 << 20

// HTTPBackend posts chat-completions JSON to a full endpoint URL.
type HTTPBackend struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPBackend creates a backend for url. A nil client means http.DefaultClient.
func NewHTTPBackend(url, apiKey string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{url: url, apiKey: apiKey, client: client}
}

// Name returns the endpoint URL.
func (b *HTTPBackend) Name() string {
	return b.url
}

type completionPayload struct {
	Model     string    `json:"model,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// Complete succeeds only on HTTP 200 with choices[0].message.content set.
func (b *HTTPBackend) Complete(ctx context.Context, req *Request) (string, error) {
	body, err := json.Marshal(completionPayload{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", b.fail(ErrorUnknown, 0, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", b.fail(ErrorUnknown, 0, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", b.fail(ErrorTimeout, 0, err)
		}
		return "", b.fail(ErrorNetwork, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", b.fail(ErrorTimeout, resp.StatusCode, err)
		}
		return "", b.fail(ErrorNetwork, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", b.fail(ErrorStatus, resp.StatusCode, fmt.Errorf("unexpected status: %s", snippet(data)))
	}

	if !gjson.ValidBytes(data) {
		return "", b.fail(ErrorMalformed, resp.StatusCode, errors.New("response is not valid JSON"))
	}
	content := gjson.GetBytes(data, "choices.0.message.content")
	if content.Type != gjson.String {
		return "", b.fail(ErrorMalformed, resp.StatusCode, errors.New("response has no choices[0].message.content string"))
	}

	return content.String(), nil
}

func (b *HTTPBackend) fail(kind ErrorKind, status int, err error) error {
	return &EndpointError{Endpoint: b.url, Kind: kind, Status: status, Err: err}
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}
