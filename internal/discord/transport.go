// ABOUTME: Discord transport: messages with button rows, edits and typing over discordgo
// ABOUTME: Gateway message creates, updates and button interactions become chat events

package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/meeting-assistant/internal/chat"
	"github.com/2389/meeting-assistant/internal/dedupe"
)

const (
	// maxMessageLength is Discord's content limit for bot messages.
	maxMessageLength = 2000
	sendTimeout      = 30 * time.Second
	seenTTL          = 10 * time.Minute

	// errCodeInvalidFormBody is returned when Discord rejects message content.
	errCodeInvalidFormBody = 50035
)

// Config holds the bot token and the channels it listens in.
type Config struct {
	BotToken string
	// AllowedChannels restricts the bot to these channel ids. Empty allows all.
	AllowedChannels []string
}

// Transport implements chat.Transport for Discord.
type Transport struct {
	session *discordgo.Session
	allowed map[string]bool
	seen    *dedupe.Cache
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Transport. The gateway connection is opened by Run.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("discord bot token is required")
	}

	s, err := discordgo.New(normalizeBotToken(cfg.BotToken))
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	// Handlers run in gateway order so an edit never overtakes its message.
	s.SyncEvents = true

	allowed := make(map[string]bool, len(cfg.AllowedChannels))
	for _, c := range cfg.AllowedChannels {
		allowed[c] = true
	}

	return &Transport{
		session: s,
		allowed: allowed,
		seen:    dedupe.New(seenTTL, dedupe.DefaultMaxSize),
		logger:  logger.With("component", "discord"),
	}, nil
}

func (t *Transport) Name() string { return "discord" }

func (t *Transport) MaxMessageLength() int { return maxMessageLength }

// SendText posts msg to the channel and returns the message id.
func (t *Transport) SendText(ctx context.Context, chatID string, msg chat.OutgoingMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	sent, err := t.session.ChannelMessageSendComplex(chatID, buildSend(chatID, msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", classifyError(err, msg.Formatted)
	}
	return sent.ID, nil
}

// EditText replaces the content and buttons of a bot message.
func (t *Transport) EditText(ctx context.Context, chatID, messageID string, msg chat.OutgoingMessage) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := t.session.ChannelMessageEditComplex(buildEdit(chatID, messageID, msg), discordgo.WithContext(ctx)); err != nil {
		return classifyError(err, msg.Formatted)
	}
	return nil
}

// SendTyping triggers the channel typing indicator, which lasts about ten seconds.
func (t *Transport) SendTyping(ctx context.Context, chatID string) error {
	if err := t.session.ChannelTyping(chatID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending typing indicator: %w", err)
	}
	return nil
}

// Run opens the gateway and feeds events to h until ctx ends.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("discord transport already running")
	}
	t.running = true
	t.mu.Unlock()

	removers := []func(){
		t.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if ev, ok := t.fromCreate(m); ok {
				h.HandleEvent(ctx, ev)
			}
		}),
		t.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
			if ev, ok := t.fromUpdate(m); ok {
				h.HandleEvent(ctx, ev)
			}
		}),
		t.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			ev, ok := t.fromInteraction(i)
			if !ok {
				return
			}
			// Acknowledge first; the front-end edits the message itself.
			err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseDeferredMessageUpdate,
			}, discordgo.WithContext(ctx))
			if err != nil {
				t.logger.Warn("failed to acknowledge interaction", "error", err)
			}
			h.HandleEvent(ctx, ev)
		}),
	}
	defer func() {
		for _, remove := range removers {
			remove()
		}
	}()

	if err := t.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	t.logger.Info("discord gateway connected")

	<-ctx.Done()

	if err := t.session.Close(); err != nil {
		return fmt.Errorf("closing discord gateway: %w", err)
	}
	t.logger.Info("discord gateway closed")
	return nil
}

// Close releases the redelivery cache. The gateway is closed when Run returns.
func (t *Transport) Close() error {
	t.seen.Close()
	return nil
}

func (t *Transport) isAllowed(channelID string) bool {
	return len(t.allowed) == 0 || t.allowed[channelID]
}

// fromCreate converts a new user message.
func (t *Transport) fromCreate(m *discordgo.MessageCreate) (chat.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return chat.Event{}, false
	}
	if !t.isAllowed(m.ChannelID) {
		return chat.Event{}, false
	}
	if t.seen.CheckAndMark("create:" + m.ID) {
		return chat.Event{}, false
	}

	text := strings.TrimSpace(m.Content)
	if text == "" {
		return chat.Event{}, false
	}
	return chat.Event{
		Kind:      chat.EventText,
		UserID:    m.Author.ID,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Text:      text,
		SentAt:    timestampOrNow(m.Timestamp),
	}, true
}

// fromUpdate converts a user edit. Updates that only add embeds carry no
// edited timestamp and are ignored.
func (t *Transport) fromUpdate(m *discordgo.MessageUpdate) (chat.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return chat.Event{}, false
	}
	if m.EditedTimestamp == nil {
		return chat.Event{}, false
	}
	if !t.isAllowed(m.ChannelID) {
		return chat.Event{}, false
	}
	if m.BeforeUpdate != nil && m.BeforeUpdate.Content == m.Content {
		return chat.Event{}, false
	}
	if t.seen.CheckAndMark("edit:" + m.ID + ":" + m.EditedTimestamp.UTC().Format(time.RFC3339Nano)) {
		return chat.Event{}, false
	}

	text := strings.TrimSpace(m.Content)
	if text == "" {
		return chat.Event{}, false
	}
	return chat.Event{
		Kind:      chat.EventEdit,
		UserID:    m.Author.ID,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Text:      text,
		SentAt:    m.EditedTimestamp.UTC(),
	}, true
}

// fromInteraction converts a button press.
func (t *Transport) fromInteraction(i *discordgo.InteractionCreate) (chat.Event, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return chat.Event{}, false
	}
	if !t.isAllowed(i.ChannelID) {
		return chat.Event{}, false
	}

	action := chat.Action(i.MessageComponentData().CustomID)
	if !action.Valid() {
		t.logger.Debug("ignoring unknown button", "custom_id", action)
		return chat.Event{}, false
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return chat.Event{}, false
	}

	ev := chat.Event{
		Kind:   chat.EventAction,
		UserID: user.ID,
		ChatID: i.ChannelID,
		Action: action,
		SentAt: time.Now(),
	}
	if i.Message != nil {
		ev.CallbackMessageID = i.Message.ID
	}
	return ev, true
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts.UTC()
}

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
