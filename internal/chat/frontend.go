// ABOUTME: Chat front-end: dispatches transport events to menus, the session registry and agent requests
// ABOUTME: Delivers replies in chunks with retry buttons on failure and records every exchange

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/meeting-assistant/internal/a2a"
	"github.com/2389/meeting-assistant/internal/dedupe"
	"github.com/2389/meeting-assistant/internal/lifecycle"
	"github.com/2389/meeting-assistant/internal/session"
	"github.com/2389/meeting-assistant/internal/store"
)

// ErrAgentURLMissing is shown to users who try to connect while no agent
// endpoint is configured.
var ErrAgentURLMissing = errors.New("agent URL is not configured")

const (
	deliveryTimeout = 30 * time.Second
	recordTimeout   = 5 * time.Second
)

// Config holds front-end behaviour.
type Config struct {
	AgentURL       string
	EditsEnabled   bool
	EditWindow     time.Duration
	TypingInterval time.Duration
	MessageLimit   int
	FormatReplies  bool
}

// failedQuery is the last query of an owner that ended in failure.
type failedQuery struct {
	query     string
	chatID    string
	messageID string
}

// Frontend serves one transport. Several front-ends may share the same
// session registry, lifecycle manager and ledger: owners are namespaced by
// transport name.
type Frontend struct {
	transport Transport
	sessions  *session.Registry
	requests  *lifecycle.Manager
	ledger    store.Store
	cfg       Config
	logger    *slog.Logger

	// edits remembers recently submitted messages for the edit window.
	edits *dedupe.Cache

	mu         sync.Mutex
	lastFailed map[string]failedQuery
}

// New creates a Frontend. ledger may be nil.
func New(t Transport, sessions *session.Registry, requests *lifecycle.Manager, ledger store.Store, cfg Config, logger *slog.Logger) *Frontend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = 30 * time.Second
	}
	return &Frontend{
		transport:  t,
		sessions:   sessions,
		requests:   requests,
		ledger:     ledger,
		cfg:        cfg,
		logger:     logger.With("component", "chat", "transport", t.Name()),
		edits:      dedupe.New(cfg.EditWindow, 0),
		lastFailed: make(map[string]failedQuery),
	}
}

// Close releases the edit-window cache.
func (f *Frontend) Close() {
	f.edits.Close()
}

// Owner returns the registry key for a user of this front-end's transport.
func (f *Frontend) Owner(userID string) string {
	return f.transport.Name() + ":" + userID
}

// chunkLimit is the smaller of the configured and the transport limit.
func (f *Frontend) chunkLimit() int {
	limit := f.cfg.MessageLimit
	if transportMax := f.transport.MaxMessageLength(); transportMax > 0 && (limit <= 0 || transportMax < limit) {
		limit = transportMax
	}
	return limit
}

// HandleEvent processes one inbound event. Agent calls run in the
// background; menus and fixed texts are sent before it returns.
func (f *Frontend) HandleEvent(ctx context.Context, ev Event) {
	owner := f.Owner(ev.UserID)

	switch ev.Kind {
	case EventStart:
		f.handleStart(ctx, ev)

	case EventAction:
		f.handleAction(ctx, ev, owner)

	case EventText:
		if action, isStart, ok := ParseCommand(ev.Text); ok {
			if isStart {
				f.handleStart(ctx, ev)
				return
			}
			ev.Action = action
			f.handleAction(ctx, ev, owner)
			return
		}
		f.handleText(ctx, ev, owner, store.TriggerMessage)

	case EventEdit:
		f.handleEdit(ctx, ev, owner)

	default:
		f.logger.Warn("ignoring unknown event kind", "kind", ev.Kind)
	}
}

func (f *Frontend) handleStart(ctx context.Context, ev Event) {
	f.sendPlain(ctx, ev.ChatID, welcomeText, mainMenu)
}

func (f *Frontend) handleAction(ctx context.Context, ev Event, owner string) {
	f.logger.Debug("action", "owner", owner, "action", ev.Action)

	switch ev.Action {
	case ActionBack:
		f.showMenu(ctx, ev, mainMenuText, mainMenu)

	case ActionHelp:
		f.showMenu(ctx, ev, helpText, helpMenu)

	case ActionStartWork:
		f.showMenu(ctx, ev, startWorkText, startWorkMenu)

	case ActionConnect:
		if err := f.connect(owner); err != nil {
			f.logger.Warn("connect failed", "owner", owner, "error", err)
			f.showMenu(ctx, ev, fmt.Sprintf(connectErrorFormat, err), connectCancelMenu)
			return
		}
		s, _ := f.sessions.Session(owner)
		f.showMenu(ctx, ev, fmt.Sprintf(connectedFormat, s.Endpoint), disconnectMenu)

	case ActionCancelConnect:
		f.showMenu(ctx, ev, connectCancelled, startWorkMenu)

	case ActionDisconnect:
		f.requests.Cancel(owner)
		f.sessions.Disconnect(owner)
		f.clearFailed(owner)
		f.showMenu(ctx, ev, disconnectedText, mainMenu)

	case ActionRetry:
		f.retry(ctx, ev, owner)

	case ActionCancel:
		f.requests.Cancel(owner)
		f.clearFailed(owner)
		f.showMenu(ctx, ev, cancelledText, mainMenu)

	default:
		f.logger.Warn("ignoring unknown action", "owner", owner, "action", ev.Action)
	}
}

func (f *Frontend) connect(owner string) error {
	if f.cfg.AgentURL == "" {
		return ErrAgentURLMissing
	}
	return f.sessions.Connect(owner, f.cfg.AgentURL)
}

func (f *Frontend) handleText(ctx context.Context, ev Event, owner string, trigger store.Trigger) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	if !f.sessions.IsConnected(owner) {
		f.sendPlain(ctx, ev.ChatID, notConnectedText, nil)
		return
	}
	if ev.MessageID != "" {
		f.edits.Mark(f.editKey(owner, ev))
	}
	f.submit(ctx, ev, owner, ev.Text, trigger)
}

// handleEdit treats an edited message as a new query. Inside the edit
// window the request in flight is cancelled first; outside it the edit is
// still submitted and Submit supersedes whatever is pending.
func (f *Frontend) handleEdit(ctx context.Context, ev Event, owner string) {
	if !f.cfg.EditsEnabled || strings.TrimSpace(ev.Text) == "" {
		return
	}
	if !f.sessions.IsConnected(owner) {
		return
	}

	key := f.editKey(owner, ev)
	if _, ok := f.edits.Since(key); ok {
		f.requests.Cancel(owner)
	} else {
		f.logger.Debug("edit outside the edit window", "owner", owner, "message_id", ev.MessageID)
	}
	f.edits.Mark(key)
	f.submit(ctx, ev, owner, ev.Text, store.TriggerEdit)
}

func (f *Frontend) editKey(owner string, ev Event) string {
	return owner + "|" + ev.ChatID + "|" + ev.MessageID
}

func (f *Frontend) retry(ctx context.Context, ev Event, owner string) {
	f.mu.Lock()
	last, ok := f.lastFailed[owner]
	f.mu.Unlock()

	if !ok {
		f.sendPlain(ctx, ev.ChatID, nothingToRetryText, mainMenu)
		return
	}
	if !f.sessions.IsConnected(owner) {
		f.sendPlain(ctx, ev.ChatID, notConnectedText, nil)
		return
	}

	retryEv := ev
	retryEv.ChatID = last.chatID
	retryEv.MessageID = last.messageID
	f.submit(ctx, retryEv, owner, last.query, store.TriggerRetry)
}

// submit starts an agent call for query, superseding any call in flight
// for owner.
func (f *Frontend) submit(ctx context.Context, ev Event, owner, query string, trigger store.Trigger) {
	client, err := f.sessions.Get(owner)
	if err != nil {
		f.sendPlain(ctx, ev.ChatID, noSessionText, nil)
		return
	}

	f.logger.Info("submitting query", "owner", owner, "trigger", trigger, "chars", len([]rune(query)))

	f.requests.Submit(owner, func(reqCtx context.Context, req *lifecycle.Request) {
		started := time.Now()

		stopTyping := StartTyping(reqCtx, f.transport, ev.ChatID, f.cfg.TypingInterval, f.logger)
		reply := client.Send(reqCtx, query)
		stopTyping()

		ex := &store.Exchange{
			Owner:         owner,
			Transport:     f.transport.Name(),
			ChatID:        ev.ChatID,
			Trigger:       trigger,
			Query:         query,
			CorrelationID: reply.CorrelationID,
			Attempts:      reply.Attempts,
			StartedAt:     started,
		}

		// A superseded or cancelled request is never delivered.
		if reply.Cancelled || !f.requests.Claim(req) {
			f.logger.Debug("discarding reply of cancelled request", "owner", owner, "gen", req.Gen)
			ex.Outcome = store.OutcomeCancelled
			f.record(ex)
			return
		}

		// Delivery must survive the owner editing again, but not hang forever.
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), deliveryTimeout)
		defer cancel()

		ex.Reply = reply.Text
		var deliverErr error
		if reply.Failed {
			ex.Outcome = store.OutcomeFailed
			f.setFailed(owner, failedQuery{query: query, chatID: ev.ChatID, messageID: ev.MessageID})
			deliverErr = f.deliver(deliverCtx, ev.ChatID, failureText(reply), ev.MessageID, retryMenu, false)
		} else {
			ex.Outcome = store.OutcomeDelivered
			f.clearFailed(owner)
			deliverErr = f.deliver(deliverCtx, ev.ChatID, reply.Text, ev.MessageID, nil, f.cfg.FormatReplies)
		}
		if deliverErr != nil {
			ex.Outcome = store.OutcomeUndelivered
		}
		f.record(ex)
	})
}

// failureText makes sure a failure shown to the user carries its
// correlation id.
func failureText(reply a2a.Reply) string {
	if reply.CorrelationID == "" || strings.Contains(reply.Text, reply.CorrelationID) {
		return reply.Text
	}
	return fmt.Sprintf(taskFailedFormat, reply.CorrelationID, reply.Text)
}

// deliver sends text in chunks no longer than the transport allows. Only
// the first chunk replies to replyTo; buttons go on the last chunk. A chunk
// that cannot be sent ends delivery.
func (f *Frontend) deliver(ctx context.Context, chatID, text, replyTo string, buttons [][]Button, formatted bool) error {
	chunks := SplitMessage(text, f.chunkLimit())
	if len(chunks) == 0 {
		chunks = []string{emptyReplyText}
	}

	for i, chunk := range chunks {
		msg := OutgoingMessage{Text: chunk, Formatted: formatted}
		if i == 0 {
			msg.ReplyTo = replyTo
		}
		if i == len(chunks)-1 {
			msg.Buttons = buttons
		}
		if _, err := f.send(ctx, chatID, msg); err != nil {
			return fmt.Errorf("delivering chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// send posts msg, retrying once without formatting if the transport
// rejected the formatting. Other errors are logged and returned.
func (f *Frontend) send(ctx context.Context, chatID string, msg OutgoingMessage) (string, error) {
	id, err := f.transport.SendText(ctx, chatID, msg)
	if err != nil && msg.Formatted && errors.Is(err, ErrFormatting) {
		f.logger.Warn("formatted message rejected, resending as plain text", "chat_id", chatID, "error", err)
		msg.Formatted = false
		id, err = f.transport.SendText(ctx, chatID, msg)
	}
	if err != nil {
		f.logger.Error("dropping message", "chat_id", chatID, "error", err)
		return "", err
	}
	return id, nil
}

func (f *Frontend) sendPlain(ctx context.Context, chatID, text string, buttons [][]Button) {
	_ = f.deliver(ctx, chatID, text, "", buttons, false)
}

// showMenu replaces the message whose button was pressed, or posts a new
// message when the action came from a text command or the edit failed.
func (f *Frontend) showMenu(ctx context.Context, ev Event, text string, buttons [][]Button) {
	if ev.CallbackMessageID != "" {
		err := f.transport.EditText(ctx, ev.ChatID, ev.CallbackMessageID, OutgoingMessage{Text: text, Buttons: buttons})
		if err == nil {
			return
		}
		f.logger.Warn("menu edit failed, sending new message", "chat_id", ev.ChatID, "error", err)
	}
	f.sendPlain(ctx, ev.ChatID, text, buttons)
}

func (f *Frontend) setFailed(owner string, q failedQuery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFailed[owner] = q
}

func (f *Frontend) clearFailed(owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lastFailed, owner)
}

func (f *Frontend) record(ex *store.Exchange) {
	if f.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := f.ledger.RecordExchange(ctx, ex); err != nil {
		f.logger.Error("recording exchange", "owner", ex.Owner, "error", err)
	}
}
