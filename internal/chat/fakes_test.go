// ABOUTME: Test doubles for the chat front-end: a recording transport and a scriptable agent
// ABOUTME: Also builds a fully wired Frontend harness over real registries and a mock ledger

package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/meeting-assistant/internal/a2a"
	"github.com/2389/meeting-assistant/internal/lifecycle"
	"github.com/2389/meeting-assistant/internal/session"
	"github.com/2389/meeting-assistant/internal/store"
)

type sentMessage struct {
	ChatID string
	ID     string
	Msg    OutgoingMessage
}

type editedMessage struct {
	ChatID    string
	MessageID string
	Msg       OutgoingMessage
}

// fakeTransport records everything the front-end sends.
type fakeTransport struct {
	mu     sync.Mutex
	limit  int
	sent   []sentMessage
	edited []editedMessage
	nextID int

	// sendErr, when set, decides the error for each SendText call.
	sendErr func(msg OutgoingMessage) error
	editErr error

	typing    atomic.Int32
	typingErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{limit: 4096}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) MaxMessageLength() int { return f.limit }

func (f *fakeTransport) SendText(ctx context.Context, chatID string, msg OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		if err := f.sendErr(msg); err != nil {
			return "", err
		}
	}
	f.nextID++
	id := fmt.Sprintf("bot-%d", f.nextID)
	f.sent = append(f.sent, sentMessage{ChatID: chatID, ID: id, Msg: msg})
	return id, nil
}

func (f *fakeTransport) EditText(ctx context.Context, chatID, messageID string, msg OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.editErr != nil {
		return f.editErr
	}
	f.edited = append(f.edited, editedMessage{ChatID: chatID, MessageID: messageID, Msg: msg})
	return nil
}

func (f *fakeTransport) SendTyping(ctx context.Context, chatID string) error {
	f.typing.Add(1)
	return f.typingErr
}

func (f *fakeTransport) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) Edited() []editedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]editedMessage(nil), f.edited...)
}

// waitSent waits until at least n messages were sent and returns them.
func (f *fakeTransport) waitSent(t *testing.T, n int) []sentMessage {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.Sent()) >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d sent messages", n)
	return f.Sent()
}

// fakeAgent answers queries for every session the harness opens.
type fakeAgent struct {
	mu      sync.Mutex
	queries []string
	respond func(ctx context.Context, query string) a2a.Reply
}

func (a *fakeAgent) Queries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.queries...)
}

func (a *fakeAgent) setRespond(fn func(ctx context.Context, query string) a2a.Reply) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.respond = fn
}

type fakeClient struct {
	agent    *fakeAgent
	endpoint string
}

func (c *fakeClient) Send(ctx context.Context, query string) a2a.Reply {
	c.agent.mu.Lock()
	c.agent.queries = append(c.agent.queries, query)
	respond := c.agent.respond
	c.agent.mu.Unlock()

	if respond == nil {
		return a2a.Reply{Text: "echo: " + query, Attempts: 1}
	}
	return respond(ctx, query)
}

func (c *fakeClient) Endpoint() string { return c.endpoint }

func (c *fakeClient) Close() {}

type harness struct {
	frontend  *Frontend
	transport *fakeTransport
	agent     *fakeAgent
	sessions  *session.Registry
	requests  *lifecycle.Manager
	ledger    *store.MockStore
}

func defaultTestConfig() Config {
	return Config{
		AgentURL:       "http://agent.test/",
		EditsEnabled:   true,
		EditWindow:     30 * time.Second,
		TypingInterval: 10 * time.Millisecond,
		MessageLimit:   4096,
		FormatReplies:  true,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	agent := &fakeAgent{}
	dial := func(endpoint string) (session.Client, error) {
		return &fakeClient{agent: agent, endpoint: endpoint}, nil
	}

	h := &harness{
		transport: newFakeTransport(),
		agent:     agent,
		sessions:  session.NewRegistry(dial, nil),
		requests:  lifecycle.New(10*time.Minute, nil),
		ledger:    store.NewMockStore(),
	}
	h.frontend = New(h.transport, h.sessions, h.requests, h.ledger, cfg, nil)

	t.Cleanup(func() {
		h.requests.Shutdown()
		h.frontend.Close()
	})
	return h
}

// connect opens a session for userID directly through the registry.
func (h *harness) connect(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, h.sessions.Connect(h.frontend.Owner(userID), "http://agent.test/"))
}

// waitExchanges waits until n exchanges were recorded.
func (h *harness) waitExchanges(t *testing.T, n int) []store.Exchange {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.ledger.Exchanges()) >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d recorded exchanges", n)
	return h.ledger.Exchanges()
}

// waitIdle waits for the owner's request to finish.
func (h *harness) waitIdle(t *testing.T, userID string) {
	t.Helper()
	owner := h.frontend.Owner(userID)
	require.Eventually(t, func() bool {
		_, pending := h.requests.Pending(owner)
		return !pending
	}, 2*time.Second, 5*time.Millisecond)
}

func textEvent(userID, messageID, text string) Event {
	return Event{Kind: EventText, UserID: userID, ChatID: "chat-" + userID, MessageID: messageID, Text: text, SentAt: time.Now()}
}

func editEvent(userID, messageID, text string) Event {
	return Event{Kind: EventEdit, UserID: userID, ChatID: "chat-" + userID, MessageID: messageID, Text: text, SentAt: time.Now()}
}

func actionEvent(userID string, action Action, callbackMessageID string) Event {
	return Event{Kind: EventAction, UserID: userID, ChatID: "chat-" + userID, Action: action, CallbackMessageID: callbackMessageID}
}
