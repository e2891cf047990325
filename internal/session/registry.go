// ABOUTME: Registry of per-owner agent sessions
// ABOUTME: Connect replaces and releases a prior client, disconnect is idempotent

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/meeting-assistant/internal/a2a"
)

// ErrNoSession is returned by Get when the owner has not connected.
var ErrNoSession = errors.New("no agent session")

// Client is the agent client a session holds.
type Client interface {
	Send(ctx context.Context, query string) a2a.Reply
	Endpoint() string
	Close()
}

// Dialer builds a Client for an endpoint.
type Dialer func(endpoint string) (Client, error)

// A2ADialer returns a Dialer that builds a2a clients from base, replacing
// only the endpoint.
func A2ADialer(base a2a.Config) Dialer {
	return func(endpoint string) (Client, error) {
		cfg := base
		cfg.Endpoint = endpoint
		client, err := a2a.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Session is one owner's connection to an agent. The endpoint never changes
// for the life of a session.
type Session struct {
	Owner       string
	Endpoint    string
	ConnectedAt time.Time
	client      Client
}

// Registry maps owners to their sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dial     Dialer
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry that builds clients with dial.
func NewRegistry(dial Dialer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		dial:     dial,
		logger:   logger.With("component", "session"),
	}
}

// Connect opens a session for owner against endpoint. An existing session
// is replaced and its client released.
func (r *Registry) Connect(owner, endpoint string) error {
	client, err := r.dial(endpoint)
	if err != nil {
		return fmt.Errorf("creating agent client: %w", err)
	}

	s := &Session{
		Owner:       owner,
		Endpoint:    client.Endpoint(),
		ConnectedAt: time.Now(),
		client:      client,
	}

	r.mu.Lock()
	prev := r.sessions[owner]
	r.sessions[owner] = s
	r.mu.Unlock()

	if prev != nil {
		prev.client.Close()
		r.logger.Debug("replaced agent session", "owner", owner, "previous", prev.Endpoint)
	}

	r.logger.Info("=== SESSION CONNECTED ===", "owner", owner, "endpoint", s.Endpoint)
	return nil
}

// Disconnect closes the owner's session. Returns false when there was none.
func (r *Registry) Disconnect(owner string) bool {
	r.mu.Lock()
	s, ok := r.sessions[owner]
	delete(r.sessions, owner)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.client.Close()
	r.logger.Info("=== SESSION DISCONNECTED ===", "owner", owner, "endpoint", s.Endpoint)
	return true
}

// Get returns the owner's client or ErrNoSession.
func (r *Registry) Get(owner string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[owner]
	if !ok {
		return nil, ErrNoSession
	}
	return s.client, nil
}

// Session returns a copy of the owner's session metadata.
func (r *Registry) Session(owner string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[owner]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// IsConnected reports whether owner has a session.
func (r *Registry) IsConnected(owner string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[owner]
	return ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll releases every session and returns how many were open.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.client.Close()
	}
	if len(sessions) > 0 {
		r.logger.Info("closed all agent sessions", "count", len(sessions))
	}
	return len(sessions)
}
