package router

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when neither the request nor the endpoint names a model.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicBackend calls the Anthropic Messages API.
type AnthropicBackend struct {
	client       anthropic.Client
	name         string
	defaultModel string
}

// AnthropicConfig configures NewAnthropicBackend.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
}

// NewAnthropicBackend creates a backend. SDK retries are disabled; the
// router owns the retry budget.
func NewAnthropicBackend(cfg AnthropicConfig) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	name := "anthropic"
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		name = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.DefaultModel
	if model == "" {
		model = DefaultAnthropicModel
	}

	return &AnthropicBackend{
		client:       anthropic.NewClient(opts...),
		name:         name,
		defaultModel: model,
	}
}

// Name identifies the endpoint in logs.
func (b *AnthropicBackend) Name() string {
	return b.name
}

// Complete sends system entries as the system parameter and the rest as turns.
func (b *AnthropicBackend) Complete(ctx context.Context, req *Request) (string, error) {
	model := req.Model
	if model == "" {
		model = b.defaultModel
	}

	var system []string
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", b.classify(err)
	}

	text := extractText(resp)
	if text == "" {
		return "", &EndpointError{Endpoint: b.name, Kind: ErrorMalformed, Err: errors.New("response has no text content")}
	}
	return text, nil
}

func (b *AnthropicBackend) classify(err error) error {
	ee := &EndpointError{Endpoint: b.name, Kind: ErrorNetwork, Err: err}

	var apiErr *anthropic.Error
	switch {
	case errors.As(err, &apiErr):
		ee.Kind = ErrorStatus
		ee.Status = apiErr.StatusCode
	case errors.Is(err, context.DeadlineExceeded):
		ee.Kind = ErrorTimeout
	}
	return ee
}

// extractText concatenates the text blocks of a message.
func extractText(msg *anthropic.Message) string {
	var text string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		}
	}
	return text
}
