// Package slack provides Slack bot integration using Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ireland-samantha/zia-gateway/internal/config"
)

// recentEvents bounds the event_id dedupe set.
const recentEvents = 1024

// MessageHandler is called when the bot receives a message to process.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error)

// IncomingMessage represents a message received by the bot.
type IncomingMessage struct {
	// Text is the message content (with bot mention stripped)
	Text string
	// UserID is the Slack user ID of the sender
	UserID string
	// ChannelID is the channel where the message was sent
	ChannelID string
	// ThreadTS is the thread timestamp (for threading replies)
	ThreadTS string
	// IsDM indicates if this is a direct message
	IsDM bool
	// IsCommand indicates the text came from the slash command
	IsCommand bool
}

// OutgoingMessage represents a message to send.
type OutgoingMessage struct {
	Text     string
	ThreadTS string
}

// Bot manages the Slack connection and event handling.
type Bot struct {
	client       *slack.Client
	socketClient *socketmode.Client
	handler      MessageHandler
	botUserID    string
	channels     map[string]bool
	command      string
	seen         *eventSet
	logger       *slog.Logger
}

// NewBot creates a new Slack bot instance.
func NewBot(cfg config.SlackConfig, debug bool, handler MessageHandler, logger *slog.Logger) (*Bot, error) {
	client := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(debug),
	)

	// Get bot user ID for mention detection
	authTest, err := client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Slack: %w", err)
	}

	b := newBot(authTest.UserID, cfg.Channels, handler, logger)
	b.command = cfg.Command
	b.client = client
	b.socketClient = socketClient
	return b, nil
}

func newBot(botUserID string, channels []string, handler MessageHandler, logger *slog.Logger) *Bot {
	allowed := make(map[string]bool, len(channels))
	for _, ch := range channels {
		allowed[ch] = true
	}
	return &Bot{
		handler:   handler,
		botUserID: botUserID,
		channels:  allowed,
		seen:      newEventSet(recentEvents),
		logger:    logger,
	}
}

// Run starts the bot and blocks until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	go b.handleEvents(ctx)

	b.logger.Info("Starting Slack bot", "bot_user_id", b.botUserID, "channels", len(b.channels))
	return b.socketClient.RunContext(ctx)
}

// handleEvents processes incoming Socket Mode events.
func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.socketClient.Events:
			b.handleEvent(ctx, evt)
		}
	}
}

// handleEvent routes a single event to the appropriate handler.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socketClient.Ack(*evt.Request)

		if msg, ok := b.toIncoming(eventsAPIEvent); ok {
			// Turns on different channels must not wait on each other.
			go b.processMessage(ctx, msg)
		}
	case socketmode.EventTypeSlashCommand:
		b.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeConnecting:
		b.logger.Info("Connecting to Slack...")
	case socketmode.EventTypeConnected:
		b.logger.Info("Connected to Slack")
	case socketmode.EventTypeConnectionError:
		b.logger.Error("Connection error", "error", evt.Data)
	}
}

// toIncoming filters and dedupes an Events API event.
func (b *Bot) toIncoming(evt slackevents.EventsAPIEvent) (*IncomingMessage, bool) {
	if evt.Type != slackevents.CallbackEvent {
		return nil, false
	}
	if cb, ok := evt.Data.(*slackevents.EventsAPICallbackEvent); ok && cb.EventID != "" {
		if b.seen.Seen(cb.EventID) {
			b.logger.Debug("Skipping duplicate event", "event_id", cb.EventID)
			return nil, false
		}
	}

	switch inner := evt.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		return b.fromAppMention(inner)
	case *slackevents.MessageEvent:
		return b.fromMessage(inner)
	}
	return nil, false
}

// fromAppMention handles @bot mentions in any channel the bot is in.
func (b *Bot) fromAppMention(evt *slackevents.AppMentionEvent) (*IncomingMessage, bool) {
	if evt.User == "" || evt.User == b.botUserID {
		return nil, false
	}

	msg := &IncomingMessage{
		Text:      b.stripBotMention(evt.Text),
		UserID:    evt.User,
		ChannelID: evt.Channel,
		ThreadTS:  evt.ThreadTimeStamp,
	}

	// Use the event timestamp for threading if no thread exists
	if msg.ThreadTS == "" {
		msg.ThreadTS = evt.TimeStamp
	}
	return msg, msg.Text != ""
}

// fromMessage handles DMs and plain messages in configured channels.
func (b *Bot) fromMessage(evt *slackevents.MessageEvent) (*IncomingMessage, bool) {
	// Ignore bot messages and message changes
	if evt.BotID != "" || evt.SubType != "" || evt.User == "" || evt.User == b.botUserID {
		return nil, false
	}

	isDM := evt.ChannelType == "im"
	if !isDM {
		if !b.channels[evt.Channel] {
			return nil, false
		}
		// The app_mention event for the same message answers it.
		if strings.Contains(evt.Text, FormatUserMention(b.botUserID)) {
			return nil, false
		}
	}

	msg := &IncomingMessage{
		Text:      strings.TrimSpace(evt.Text),
		UserID:    evt.User,
		ChannelID: evt.Channel,
		ThreadTS:  evt.ThreadTimeStamp,
		IsDM:      isDM,
	}

	// Use the event timestamp for threading if no thread exists
	if msg.ThreadTS == "" {
		msg.ThreadTS = evt.TimeStamp
	}
	return msg, msg.Text != ""
}

// handleSlashCommand processes the configured slash command.
func (b *Bot) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		return
	}

	b.socketClient.Ack(*evt.Request)

	// Only handle our command
	if b.command == "" || cmd.Command != b.command {
		return
	}

	msg := &IncomingMessage{
		Text:      strings.TrimSpace(cmd.Text),
		UserID:    cmd.UserID,
		ChannelID: cmd.ChannelID,
		IsCommand: true,
	}
	if msg.Text == "" {
		return
	}

	go b.processMessage(ctx, msg)
}

// processMessage sends a message to the handler and posts the response.
func (b *Bot) processMessage(ctx context.Context, msg *IncomingMessage) {
	b.logger.Debug("Processing message",
		"user", msg.UserID,
		"channel", msg.ChannelID,
		"dm", msg.IsDM,
	)

	response, err := b.handler(ctx, msg)
	if err != nil {
		b.logger.Error("Handler error", "error", err)
		response = &OutgoingMessage{
			Text:     FormatError(err),
			ThreadTS: msg.ThreadTS,
		}
	}

	if err := b.sendMessage(msg.ChannelID, response); err != nil {
		b.logger.Error("Failed to send message", "channel", msg.ChannelID, "error", err)
	}
}

// sendMessage posts a message to a channel.
func (b *Bot) sendMessage(channelID string, msg *OutgoingMessage) error {
	options := []slack.MsgOption{
		slack.MsgOptionText(TruncateText(msg.Text, MaxMessageLength), false),
	}

	if msg.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(msg.ThreadTS))
	}

	_, _, err := b.client.PostMessage(channelID, options...)
	return err
}

// stripBotMention removes the bot mention from message text.
func (b *Bot) stripBotMention(text string) string {
	text = strings.Replace(text, FormatUserMention(b.botUserID), "", 1)
	return strings.TrimSpace(text)
}

// eventSet remembers the most recent event IDs.
type eventSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	next  int
}

func newEventSet(size int) *eventSet {
	return &eventSet{
		ids:   make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// Seen records id and reports whether it was already present.
func (s *eventSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return true
	}
	if old := s.order[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.order[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.order)
	return false
}
