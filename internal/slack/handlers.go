package slack

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ireland-samantha/zia-gateway/internal/gateway"
	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

// Platform is the platform name used in conversation keys and overrides.
const Platform = "slack"

// Turns runs conversation turns.
type Turns interface {
	Handle(ctx context.Context, req gateway.Request) gateway.Reply
	Reset(ctx context.Context, key storage.Key) error
}

// Handler turns Slack messages into gateway turns.
type Handler struct {
	turns  Turns
	logger *slog.Logger
}

// NewHandler creates a new message handler.
func NewHandler(turns Turns, logger *slog.Logger) *Handler {
	return &Handler{turns: turns, logger: logger}
}

// HandleMessage processes an incoming message. Every channel, DMs included,
// is one conversation.
func (h *Handler) HandleMessage(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error) {
	key := storage.Key{Platform: Platform, Channel: msg.ChannelID}

	h.logger.Info("Handling message",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"thread", msg.ThreadTS,
	)

	if msg.IsCommand && strings.EqualFold(msg.Text, "reset") {
		if err := h.turns.Reset(ctx, key); err != nil {
			return nil, err
		}
		return &OutgoingMessage{Text: FormatSuccess("Conversation history cleared.")}, nil
	}

	reply := h.turns.Handle(ctx, gateway.Request{
		Platform: Platform,
		Key:      key,
		Author:   msg.UserID,
		Text:     msg.Text,
	})
	if !reply.Persisted && !reply.Exhausted {
		h.logger.Warn("Reply sent but not saved", "key", key.String())
	}

	return &OutgoingMessage{
		Text:     reply.Text,
		ThreadTS: msg.ThreadTS,
	}, nil
}
