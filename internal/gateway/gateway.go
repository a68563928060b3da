// Package gateway runs one conversation turn: persona, history, AI call, persistence.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ireland-samantha/zia-gateway/internal/keylock"
	"github.com/ireland-samantha/zia-gateway/internal/persona"
	"github.com/ireland-samantha/zia-gateway/internal/router"
	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

// Store is the part of storage.ConversationStore the gateway needs.
type Store interface {
	Append(ctx context.Context, key storage.Key, role storage.Role, author, content string) (storage.Message, error)
	Recent(ctx context.Context, key storage.Key, limit int) ([]storage.Message, error)
	Delete(ctx context.Context, key storage.Key) error
}

// Resolver picks the persona for a conversation.
type Resolver interface {
	Resolve(platform string, key storage.Key) persona.Persona
}

// Sender sends a prompt to the AI endpoints.
type Sender interface {
	Send(ctx context.Context, messages []router.Message, model string, maxTokens int) (string, error)
}

// Options are the per-turn request settings.
type Options struct {
	Model     string
	MaxTokens int
	LoadLimit int
}

// Request is one inbound user message, already filtered by its front-end.
type Request struct {
	// Platform selects the persona overrides. Empty means Key.Platform.
	Platform string
	Key      storage.Key
	Author   string
	Text     string
}

// Reply is the outcome of a turn.
type Reply struct {
	Text string
	// Exhausted is set when every endpoint failed and Text is router.Sentinel.
	Exhausted bool
	// Persisted is set when both the user and assistant entries were stored.
	Persisted bool
	Persona   string
}

// Gateway orchestrates turns. Turns on the same key are serialized.
type Gateway struct {
	store    Store
	resolver Resolver
	sender   Sender
	opts     Options
	locks    *keylock.Locker
	logger   *slog.Logger
}

// New creates a Gateway.
func New(store Store, resolver Resolver, sender Sender, opts Options, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:    store,
		resolver: resolver,
		sender:   sender,
		opts:     opts,
		locks:    keylock.New(),
		logger:   logger,
	}
}

// Handle runs one turn. It never fails; endpoint exhaustion yields the
// sentinel text and store failures are reported through Reply.Persisted.
// Once accepted, a turn runs to completion even if ctx is cancelled, so a
// disconnecting caller cannot leave a half-written exchange.
func (g *Gateway) Handle(ctx context.Context, req Request) Reply {
	ctx = context.WithoutCancel(ctx)

	id := req.Key.String()
	unlock := g.locks.Lock(id)
	defer unlock()

	platform := req.Platform
	if platform == "" {
		platform = req.Key.Platform
	}
	p := g.resolver.Resolve(platform, req.Key)

	history, err := g.store.Recent(ctx, req.Key, g.opts.LoadLimit)
	if err != nil {
		g.logger.Warn("Failed to load history, continuing without it", "key", id, "error", err)
		history = nil
	}

	prompt := buildPrompt(p, history, req.Text)
	g.logger.Debug("Sending prompt",
		"key", id,
		"persona", p.Name,
		"history", len(history),
	)

	text, err := g.sender.Send(ctx, prompt, g.opts.Model, g.opts.MaxTokens)
	if err != nil {
		exhausted := errors.Is(err, router.ErrExhausted)
		g.logger.Error("No reply from endpoints", "key", id, "error", err)
		if text == "" {
			text = router.Sentinel
		}
		return Reply{Text: text, Exhausted: exhausted, Persona: p.Name}
	}

	persisted := true
	if _, err := g.store.Append(ctx, req.Key, storage.RoleUser, req.Author, req.Text); err != nil {
		g.logger.Error("Failed to store user message", "key", id, "error", err)
		persisted = false
	} else if _, err := g.store.Append(ctx, req.Key, storage.RoleAssistant, "", text); err != nil {
		g.logger.Error("Failed to store assistant message", "key", id, "error", err)
		persisted = false
	}

	return Reply{Text: text, Persisted: persisted, Persona: p.Name}
}

// History returns up to limit of the newest entries, oldest first.
func (g *Gateway) History(ctx context.Context, key storage.Key, limit int) ([]storage.Message, error) {
	return g.store.Recent(ctx, key, limit)
}

// Reset deletes a conversation. It waits for any turn in progress on the key.
func (g *Gateway) Reset(ctx context.Context, key storage.Key) error {
	unlock := g.locks.Lock(key.String())
	defer unlock()
	return g.store.Delete(ctx, key)
}

// buildPrompt returns [persona] ++ history ++ [user text]. Stored system
// entries are dropped so the persona stays the only system message.
func buildPrompt(p persona.Persona, history []storage.Message, text string) []router.Message {
	prompt := make([]router.Message, 0, len(history)+2)
	prompt = append(prompt, router.Message{Role: p.Role, Content: p.Content})
	for _, m := range history {
		if m.Role == storage.RoleSystem {
			continue
		}
		prompt = append(prompt, router.Message{Role: string(m.Role), Content: m.Content})
	}
	return append(prompt, router.Message{Role: string(storage.RoleUser), Content: text})
}
