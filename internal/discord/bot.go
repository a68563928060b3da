// Package discord connects configured Discord channels to the gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/ireland-samantha/zia-gateway/internal/config"
	"github.com/ireland-samantha/zia-gateway/internal/gateway"
	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

// Platform is the platform name used in conversation keys and overrides.
const Platform = "discord"

// MaxMessageLength is Discord's per-message character limit.
const MaxMessageLength = 2000

// commandPrefix marks messages meant for other bots.
const commandPrefix = "!"

// Turns runs conversation turns.
type Turns interface {
	Handle(ctx context.Context, req gateway.Request) gateway.Reply
}

// messageSender is the part of *discordgo.Session used for replies.
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot manages the Discord gateway connection.
type Bot struct {
	session   *discordgo.Session
	sender    messageSender
	turns     Turns
	botUserID string
	channels  map[string]bool
	logger    *slog.Logger

	mu  sync.RWMutex
	ctx context.Context
}

// NewBot creates a Discord bot for the configured channels.
func NewBot(cfg config.DiscordConfig, turns Turns, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	ids := make([]string, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		ids = append(ids, ch.ID)
	}

	b := newBot(session, turns, ids, logger)
	b.session = session
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

func newBot(sender messageSender, turns Turns, channels []string, logger *slog.Logger) *Bot {
	allowed := make(map[string]bool, len(channels))
	for _, id := range channels {
		allowed[id] = true
	}
	return &Bot{
		sender:   sender,
		turns:    turns,
		channels: allowed,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.logger.Info("Starting Discord bot", "channels", len(b.channels))
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	<-ctx.Done()
	b.logger.Info("Closing Discord connection")
	if err := b.session.Close(); err != nil {
		b.logger.Warn("Failed to close Discord connection", "error", err)
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.mu.Lock()
	b.botUserID = r.User.ID
	b.mu.Unlock()
	b.logger.Info("Connected to Discord", "bot_user_id", r.User.ID)
}

// onMessageCreate runs on discordgo's own goroutine per event.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	b.mu.RLock()
	ctx, botID := b.ctx, b.botUserID
	b.mu.RUnlock()

	if !b.shouldHandle(botID, m.Message) {
		return
	}
	b.handle(ctx, m.Message)
}

// shouldHandle skips own and bot messages, "!" commands and unlisted channels.
func (b *Bot) shouldHandle(botID string, m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	if m.Author.ID == botID || m.Author.Bot {
		return false
	}
	text := strings.TrimSpace(m.Content)
	if text == "" || strings.HasPrefix(text, commandPrefix) {
		return false
	}
	return b.channels[m.ChannelID]
}

func (b *Bot) handle(ctx context.Context, m *discordgo.Message) {
	key := storage.Key{Platform: Platform, Channel: m.ChannelID}

	b.logger.Info("Handling message", "user", m.Author.ID, "channel", m.ChannelID)

	reply := b.turns.Handle(ctx, gateway.Request{
		Platform: Platform,
		Key:      key,
		Author:   m.Author.Username,
		Text:     strings.TrimSpace(m.Content),
	})

	for _, chunk := range SplitMessage(reply.Text, MaxMessageLength) {
		if _, err := b.sender.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			b.logger.Error("Failed to send message", "channel", m.ChannelID, "error", err)
			return
		}
	}
}

// SplitMessage cuts text into pieces of at most max runes, preferring to
// break after a newline.
func SplitMessage(text string, max int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var out []string
	for len(runes) > max {
		cut := max
		for i := max - 1; i > max/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(out, string(runes))
}
