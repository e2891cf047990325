// ABOUTME: Tracks at most one in-flight agent request per owner
// ABOUTME: Supersede on submit, identity-checked completion, atomic claim before delivery, staleness sweep

package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Work is the body of a request. It runs in its own goroutine and should
// return promptly once ctx is cancelled.
type Work func(ctx context.Context, req *Request)

// Request is the handle for one submitted piece of work. Handles are
// compared by identity; Gen is only informational.
type Request struct {
	Owner     string
	Gen       uint64
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Context returns the request's context. It is cancelled when the request
// is superseded, cancelled, swept, or the manager shuts down.
func (r *Request) Context() context.Context {
	return r.ctx
}

// Cancelled reports whether the request's context has been cancelled.
func (r *Request) Cancelled() bool {
	return r.ctx.Err() != nil
}

// Done is closed once the work goroutine has returned.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Manager owns the pending-request map. All reads and writes of the map
// happen under mu.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Request
	gen     uint64
	closed  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Manager that treats requests older than staleAfter as stale.
func New(staleAfter time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		pending:    make(map[string]*Request),
		baseCtx:    ctx,
		baseCancel: cancel,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger.With("component", "lifecycle"),
	}
}

// Submit registers work as the owner's pending request and starts it.
// Any request already registered for owner is cancelled first; its
// goroutine is not waited for. After Shutdown, Submit returns a request
// that is already cancelled and finished, and work is not run.
func (m *Manager) Submit(owner string, work Work) *Request {
	m.mu.Lock()

	m.gen++
	ctx, cancel := context.WithCancel(m.baseCtx)
	req := &Request{
		Owner:     owner,
		Gen:       m.gen,
		CreatedAt: m.now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if m.closed {
		m.mu.Unlock()
		cancel()
		close(req.done)
		m.logger.Warn("submit after shutdown ignored", "owner", owner)
		return req
	}

	if prev, ok := m.pending[owner]; ok {
		prev.cancel()
		m.logger.Debug("superseded pending request", "owner", owner, "gen", prev.Gen)
	}
	m.pending[owner] = req
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(req, work)
	return req
}

func (m *Manager) run(req *Request, work Work) {
	defer m.wg.Done()
	defer close(req.done)
	defer req.cancel()
	defer m.Complete(req.Owner, req)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("request work panicked", "owner", req.Owner, "gen", req.Gen, "panic", r)
		}
	}()

	work(req.ctx, req)
}

// Cancel cancels the owner's pending request, if any. The entry stays
// registered until its goroutine completes. Returns false when nothing
// was pending. Cancelling twice is harmless.
func (m *Manager) Cancel(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[owner]
	if !ok {
		return false
	}
	req.cancel()
	m.logger.Debug("cancelled pending request", "owner", owner, "gen", req.Gen)
	return true
}

// Complete removes the owner's entry only if it is still req.
func (m *Manager) Complete(owner string, req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[owner] == req {
		delete(m.pending, owner)
	}
}

// Claim deregisters req if it is still the owner's current request and has
// not been cancelled. Callers deliver a reply only after a successful Claim:
// once claimed, a later Cancel for the owner finds nothing to cancel.
func (m *Manager) Claim(req *Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[req.Owner] != req || req.ctx.Err() != nil {
		return false
	}
	delete(m.pending, req.Owner)
	return true
}

// Pending returns the owner's current request.
func (m *Manager) Pending(owner string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[owner]
	return req, ok
}

// Len returns the number of registered requests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Sweep cancels and removes every request older than the staleness
// threshold and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for owner, req := range m.pending {
		if now.Sub(req.CreatedAt) > m.staleAfter {
			req.cancel()
			delete(m.pending, owner)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("swept stale requests", "count", removed)
	}
	return removed
}

// Run calls Sweep every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Shutdown cancels every pending request and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	count := len(m.pending)
	m.mu.Unlock()

	m.baseCancel()
	m.wg.Wait()
	m.logger.Info("lifecycle manager stopped", "cancelled", count)
}
