// ABOUTME: Matrix transport: posts, edits and typing over mautrix, plus the sync loop
// ABOUTME: Incoming m.room.message events become chat events for the front-end

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/meeting-assistant/internal/chat"
	"github.com/2389/meeting-assistant/internal/dedupe"
)

const (
	// maxMessageLength keeps a chunk plus its HTML rendering under the 64 KiB event limit.
	maxMessageLength = 8000
	typingTimeout    = 8 * time.Second
	sendTimeout      = 30 * time.Second
	// seenEventTTL bounds how long event ids are remembered for redelivery checks.
	seenEventTTL = 10 * time.Minute
)

// Config holds the Matrix account and the access rules.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// RecoveryKey enables end-to-end encryption when set.
	RecoveryKey string
	// DataDir holds the crypto store.
	DataDir      string
	AllowedUsers []string
}

// Transport implements chat.Transport for Matrix.
type Transport struct {
	client  *mautrix.Client
	cfg     Config
	allowed map[string]bool
	seen    *dedupe.Cache
	logger  *slog.Logger

	mu     sync.Mutex
	crypto *CryptoManager
}

// New creates a Transport. No network calls are made until Run.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[u] = true
	}

	return &Transport{
		client:  client,
		cfg:     cfg,
		allowed: allowed,
		seen:    dedupe.New(seenEventTTL, dedupe.DefaultMaxSize),
		logger:  logger.With("component", "matrix"),
	}, nil
}

func (t *Transport) Name() string { return "matrix" }

func (t *Transport) MaxMessageLength() int { return maxMessageLength }

// SendText posts msg to the room and returns the event id.
func (t *Transport) SendText(ctx context.Context, chatID string, msg chat.OutgoingMessage) (string, error) {
	content, err := buildContent(msg)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	resp, err := t.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content)
	if err != nil {
		return "", classifySendError(err, msg.Formatted)
	}
	return resp.EventID.String(), nil
}

// EditText replaces an earlier bot message with an m.replace event.
func (t *Transport) EditText(ctx context.Context, chatID, messageID string, msg chat.OutgoingMessage) error {
	msg.ReplyTo = ""
	content, err := buildContent(msg)
	if err != nil {
		return err
	}
	asEdit(content, messageID)

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := t.client.SendMessageEvent(ctx, id.RoomID(chatID), event.EventMessage, content); err != nil {
		return classifySendError(err, msg.Formatted)
	}
	return nil
}

// SendTyping marks the bot as typing in the room.
func (t *Transport) SendTyping(ctx context.Context, chatID string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := t.client.UserTyping(ctx, id.RoomID(chatID), true, typingTimeout); err != nil {
		return fmt.Errorf("sending typing notification: %w", err)
	}
	return nil
}

// classifySendError maps a homeserver rejection of formatted content to
// chat.ErrFormatting so the caller can fall back to plain text.
func classifySendError(err error, formatted bool) error {
	if formatted && rejectedContent(err) {
		return fmt.Errorf("sending message: %w: %w", chat.ErrFormatting, err)
	}
	return fmt.Errorf("sending message: %w", err)
}

func rejectedContent(err error) bool {
	var httpErr mautrix.HTTPError
	if !errors.As(err, &httpErr) || httpErr.RespError == nil {
		return false
	}
	code := httpErr.RespError.ErrCode
	return code == mautrix.MBadJSON.ErrCode || code == mautrix.MNotJSON.ErrCode
}

// Run syncs with the homeserver and feeds events to h until ctx ends.
func (t *Transport) Run(ctx context.Context, h chat.Handler) error {
	whoami, err := t.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("checking matrix credentials: %w", err)
	}
	t.client.DeviceID = whoami.DeviceID
	t.logger.Info("matrix login verified", "user_id", whoami.UserID, "device_id", whoami.DeviceID)

	if t.cfg.RecoveryKey != "" {
		crypto, err := SetupCrypto(ctx, t.client, t.cfg.UserID, t.cfg.RecoveryKey, t.cfg.DataDir, t.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		t.mu.Lock()
		t.crypto = crypto
		t.mu.Unlock()
	}

	syncer, ok := t.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", t.client.Syncer)
	}
	syncer.OnSync(t.client.DontProcessOldEvents)
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		t.handleMembership(ctx, evt, h)
	})
	// Events are handled inline so an edit never overtakes the message it edits.
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if ev, ok := t.toEvent(evt); ok {
			h.HandleEvent(ctx, ev)
		}
	})

	t.logger.Info("starting matrix sync")

	errCh := make(chan error, 1)
	go func() {
		errCh <- t.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		t.client.StopSync()
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync: %w", err)
	}
}

// handleMembership joins rooms the bot is invited to by an allowed user
// and greets them.
func (t *Transport) handleMembership(ctx context.Context, evt *event.Event, h chat.Handler) {
	if evt.GetStateKey() != t.client.UserID.String() {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if !t.isAllowed(evt.Sender.String()) {
		t.logger.Debug("ignoring invite from user not in allowlist", "sender", evt.Sender)
		return
	}
	if _, err := t.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		t.logger.Error("failed to join room", "room_id", evt.RoomID, "error", err)
		return
	}
	t.logger.Info("joined room", "room_id", evt.RoomID, "inviter", evt.Sender)
	h.HandleEvent(ctx, chat.Event{
		Kind:   chat.EventStart,
		UserID: evt.Sender.String(),
		ChatID: evt.RoomID.String(),
		SentAt: time.UnixMilli(evt.Timestamp),
	})
}

// toEvent converts a room message into a chat event. It reports false for
// the bot's own messages, users outside the allowlist, non-text messages
// and events already seen.
func (t *Transport) toEvent(evt *event.Event) (chat.Event, bool) {
	if evt.Sender == t.client.UserID {
		return chat.Event{}, false
	}
	if !t.isAllowed(evt.Sender.String()) {
		t.logger.Debug("ignoring message from user not in allowlist", "sender", evt.Sender)
		return chat.Event{}, false
	}
	if t.seen.CheckAndMark(evt.ID.String()) {
		return chat.Event{}, false
	}

	content := evt.Content.AsMessage()
	if content.MsgType != event.MsgText {
		return chat.Event{}, false
	}

	ev := chat.Event{
		Kind:      chat.EventText,
		UserID:    evt.Sender.String(),
		ChatID:    evt.RoomID.String(),
		MessageID: evt.ID.String(),
		Text:      strings.TrimSpace(content.Body),
		SentAt:    time.UnixMilli(evt.Timestamp),
	}

	if rel := content.RelatesTo; rel != nil && rel.Type == event.RelReplace {
		ev.Kind = chat.EventEdit
		ev.MessageID = rel.EventID.String()
		if content.NewContent != nil {
			ev.Text = strings.TrimSpace(content.NewContent.Body)
		} else {
			ev.Text = strings.TrimSpace(strings.TrimPrefix(content.Body, "* "))
		}
	}

	if ev.Text == "" {
		return chat.Event{}, false
	}
	return ev, true
}

func (t *Transport) isAllowed(userID string) bool {
	return len(t.allowed) == 0 || t.allowed[userID]
}

// Close stops syncing and releases the crypto store.
func (t *Transport) Close() error {
	t.client.StopSync()
	t.seen.Close()

	t.mu.Lock()
	crypto := t.crypto
	t.crypto = nil
	t.mu.Unlock()

	if crypto != nil {
		return crypto.Close()
	}
	return nil
}
