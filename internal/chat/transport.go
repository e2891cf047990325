// ABOUTME: Chat transport abstraction and the events transports feed to the front-end
// ABOUTME: Matrix and Discord implement Transport; everything above it is transport-neutral

package chat

import (
	"context"
	"errors"
	"time"
)

// ErrFormatting is returned (wrapped) by a Transport when the chat service
// rejects a message because of its rich-text formatting. The front-end
// retries such a message once as plain text.
var ErrFormatting = errors.New("message formatting rejected")

// Button is one inline button. Action is echoed back in an EventAction.
type Button struct {
	Label  string
	Action Action
}

// OutgoingMessage is a message to post or an edit to apply.
type OutgoingMessage struct {
	Text      string
	Formatted bool   // render Text as markdown
	ReplyTo   string // message id to reply to, empty for none
	Buttons   [][]Button
}

// Transport is a chat service the bot talks through.
type Transport interface {
	// Name identifies the transport and prefixes owner ids ("matrix", "discord").
	Name() string
	// MaxMessageLength is the longest text the service accepts, in characters.
	MaxMessageLength() int
	// SendText posts msg to chatID and returns the new message id.
	SendText(ctx context.Context, chatID string, msg OutgoingMessage) (string, error)
	// EditText replaces the content of a message the bot sent earlier.
	EditText(ctx context.Context, chatID, messageID string, msg OutgoingMessage) error
	// SendTyping shows a typing indicator for a few seconds.
	SendTyping(ctx context.Context, chatID string) error
}

// Handler consumes the events a transport receives. *Frontend satisfies it.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// EventKind distinguishes the inbound events a transport reports.
type EventKind int

const (
	EventStart  EventKind = iota // greeting or first contact
	EventText                    // new text message
	EventEdit                    // edit of an earlier text message
	EventAction                  // button press
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventText:
		return "text"
	case EventEdit:
		return "edit"
	case EventAction:
		return "action"
	default:
		return "unknown"
	}
}

// Event is one inbound user interaction.
type Event struct {
	Kind   EventKind
	UserID string
	ChatID string
	// MessageID is the user's message. For an edit it is the id of the
	// message being edited, not of the edit event.
	MessageID string
	Text      string
	Action    Action
	// CallbackMessageID is the bot message whose button was pressed.
	CallbackMessageID string
	SentAt            time.Time
}

// Action names a button or text command.
type Action string

const (
	ActionHelp          Action = "help"
	ActionBack          Action = "back"
	ActionStartWork     Action = "start_work"
	ActionConnect       Action = "connect"
	ActionCancelConnect Action = "cancel_connect"
	ActionDisconnect    Action = "disconnect"
	ActionRetry         Action = "retry"
	ActionCancel        Action = "cancel"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionHelp, ActionBack, ActionStartWork, ActionConnect,
		ActionCancelConnect, ActionDisconnect, ActionRetry, ActionCancel:
		return true
	}
	return false
}
