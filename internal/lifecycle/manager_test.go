// ABOUTME: Tests for the per-owner request lifecycle manager.
// ABOUTME: Covers supersede, cancel, identity-checked completion, claim races, sweep and shutdown.

package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockUntilCancelled is work that waits for its context.
func blockUntilCancelled(ctx context.Context, _ *Request) {
	<-ctx.Done()
}

func waitDone(t *testing.T, req *Request) {
	t.Helper()
	select {
	case <-req.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("request %d did not finish", req.Gen)
	}
}

func TestSubmit_RunsWork(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	ran := make(chan string, 1)
	req := m.Submit("alice", func(ctx context.Context, r *Request) {
		ran <- r.Owner
	})

	waitDone(t, req)
	assert.Equal(t, "alice", <-ran)
	assert.Equal(t, 0, m.Len(), "finished request deregisters itself")
}

func TestSubmit_SupersedesPrevious(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	first := m.Submit("alice", blockUntilCancelled)
	second := m.Submit("alice", blockUntilCancelled)

	waitDone(t, first)
	assert.True(t, first.Cancelled())
	assert.False(t, second.Cancelled())

	current, ok := m.Pending("alice")
	require.True(t, ok)
	assert.Same(t, second, current, "superseded completion must not remove the newer entry")
	assert.Equal(t, 1, m.Len())
}

func TestSubmit_AtMostOnePerOwner(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	var reqs []*Request
	for i := 0; i < 20; i++ {
		reqs = append(reqs, m.Submit("alice", blockUntilCancelled))
	}

	assert.Equal(t, 1, m.Len())
	for _, r := range reqs[:len(reqs)-1] {
		waitDone(t, r)
		assert.True(t, r.Cancelled())
	}
	assert.False(t, reqs[len(reqs)-1].Cancelled())
}

func TestSubmit_OwnersAreIndependent(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	alice := m.Submit("alice", blockUntilCancelled)
	bob := m.Submit("bob", blockUntilCancelled)

	// A new submission for alice leaves bob alone.
	m.Submit("alice", blockUntilCancelled)
	waitDone(t, alice)

	assert.True(t, alice.Cancelled())
	assert.False(t, bob.Cancelled())
	assert.Equal(t, 2, m.Len())
}

func TestCancel(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	assert.False(t, m.Cancel("nobody"))

	req := m.Submit("alice", blockUntilCancelled)
	assert.True(t, m.Cancel("alice"))
	waitDone(t, req)

	assert.True(t, req.Cancelled())
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Cancel("alice"), "cancelling twice is a no-op")
}

func TestComplete_IdentityChecked(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	release := make(chan struct{})
	current := m.Submit("alice", func(ctx context.Context, _ *Request) { <-release })
	stale := &Request{Owner: "alice"}

	m.Complete("alice", stale)
	assert.Equal(t, 1, m.Len(), "a foreign handle removes nothing")

	m.Complete("alice", current)
	assert.Equal(t, 0, m.Len())

	close(release)
	waitDone(t, current)
}

func TestClaim(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	claimed := make(chan bool, 1)
	req := m.Submit("alice", func(ctx context.Context, r *Request) {
		claimed <- m.Claim(r)
	})
	waitDone(t, req)

	assert.True(t, <-claimed)
	assert.False(t, m.Claim(req), "a request can be claimed once")
}

func TestClaim_AfterCancelFails(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	proceed := make(chan struct{})
	claimed := make(chan bool, 1)
	req := m.Submit("alice", func(ctx context.Context, r *Request) {
		<-proceed
		claimed <- m.Claim(r)
	})

	require.True(t, m.Cancel("alice"))
	close(proceed)
	waitDone(t, req)

	assert.False(t, <-claimed, "a cancelled request is never delivered")
}

func TestClaim_SupersededFails(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	proceed := make(chan struct{})
	claimed := make(chan bool, 1)
	first := m.Submit("alice", func(ctx context.Context, r *Request) {
		<-proceed
		claimed <- m.Claim(r)
	})
	second := m.Submit("alice", blockUntilCancelled)

	close(proceed)
	waitDone(t, first)

	assert.False(t, <-claimed)
	current, ok := m.Pending("alice")
	require.True(t, ok)
	assert.Same(t, second, current)
}

func TestClaim_CancelAfterClaimIsNoop(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	claimed := make(chan struct{})
	release := make(chan struct{})
	req := m.Submit("alice", func(ctx context.Context, r *Request) {
		if m.Claim(r) {
			close(claimed)
		}
		<-release
	})

	<-claimed
	assert.False(t, m.Cancel("alice"), "claimed request is no longer cancellable by owner")
	assert.False(t, req.Cancelled())

	close(release)
	waitDone(t, req)
}

func TestClaim_RaceWithCancel(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	for i := 0; i < 100; i++ {
		var delivered atomic.Bool
		start := make(chan struct{})
		req := m.Submit("alice", func(ctx context.Context, r *Request) {
			<-start
			if m.Claim(r) {
				delivered.Store(true)
			}
		})

		var wg sync.WaitGroup
		var cancelled atomic.Bool
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			cancelled.Store(m.Cancel("alice"))
		}()
		close(start)
		wg.Wait()
		waitDone(t, req)

		// Exactly one side wins unless cancel ran after the goroutine finished.
		if cancelled.Load() {
			assert.False(t, delivered.Load(), "iteration %d: cancelled request was delivered", i)
		}
	}
}

func TestSweep(t *testing.T) {
	m := New(10*time.Minute, nil)
	defer m.Shutdown()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var now atomic.Pointer[time.Time]
	now.Store(&base)
	m.now = func() time.Time { return *now.Load() }

	old := m.Submit("alice", blockUntilCancelled)

	later := base.Add(5 * time.Minute)
	now.Store(&later)
	fresh := m.Submit("bob", blockUntilCancelled)

	sweepAt := base.Add(11 * time.Minute)
	now.Store(&sweepAt)
	assert.Equal(t, 1, m.Sweep())

	waitDone(t, old)
	assert.True(t, old.Cancelled())
	assert.False(t, fresh.Cancelled())
	_, ok := m.Pending("alice")
	assert.False(t, ok)
	_, ok = m.Pending("bob")
	assert.True(t, ok)

	assert.Equal(t, 0, m.Sweep())
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	m := New(time.Millisecond, nil)
	defer m.Shutdown()

	req := m.Submit("alice", blockUntilCancelled)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(stopped)
	}()

	waitDone(t, req)
	assert.True(t, req.Cancelled())

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestShutdown_CancelsAndWaits(t *testing.T) {
	m := New(time.Minute, nil)

	var finished atomic.Int32
	for _, owner := range []string{"alice", "bob", "carol"} {
		m.Submit(owner, func(ctx context.Context, _ *Request) {
			<-ctx.Done()
			finished.Add(1)
		})
	}

	m.Shutdown()
	assert.Equal(t, int32(3), finished.Load())
	assert.Equal(t, 0, m.Len())

	var ran atomic.Bool
	req := m.Submit("alice", func(ctx context.Context, _ *Request) { ran.Store(true) })
	waitDone(t, req)
	assert.True(t, req.Cancelled())
	assert.False(t, ran.Load(), "work is not started after shutdown")
}

func TestWorkPanicIsContained(t *testing.T) {
	m := New(time.Minute, nil)
	defer m.Shutdown()

	req := m.Submit("alice", func(ctx context.Context, _ *Request) {
		panic("boom")
	})
	waitDone(t, req)
	assert.Equal(t, 0, m.Len())
}
