// ABOUTME: Tests for exchange ledger store operations
// ABOUTME: Runs the same behaviour checks against SQLiteStore and MockStore

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stores returns every Store implementation under test.
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": setupTestStore(t),
		"mock":   NewMockStore(),
	}
}

func TestRecordExchange_FillsGeneratedFields(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e := &Exchange{
				Owner:     "matrix:@alice:example.org",
				Transport: "matrix",
				ChatID:    "!room:example.org",
				Query:     "what is on my calendar",
				Reply:     "Two meetings",
				Outcome:   OutcomeDelivered,
				Attempts:  1,
			}
			require.NoError(t, s.RecordExchange(context.Background(), e))

			assert.NotEmpty(t, e.ID)
			assert.False(t, e.FinishedAt.IsZero())
			assert.Equal(t, e.FinishedAt, e.StartedAt)
			assert.Equal(t, TriggerMessage, e.Trigger)
		})
	}
}

func TestGetExchangeByCorrelationID(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			started := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

			require.NoError(t, s.RecordExchange(ctx, &Exchange{
				Owner:         "discord:123",
				Transport:     "discord",
				ChatID:        "chan-1",
				Trigger:       TriggerRetry,
				Query:         "book a room",
				Reply:         "Server error (HTTP 502)",
				Outcome:       OutcomeFailed,
				CorrelationID: "a1b2c3d4",
				Attempts:      3,
				StartedAt:     started,
				FinishedAt:    started.Add(7 * time.Second),
			}))

			got, err := s.GetExchangeByCorrelationID(ctx, "a1b2c3d4")
			require.NoError(t, err)
			assert.Equal(t, "discord:123", got.Owner)
			assert.Equal(t, "chan-1", got.ChatID)
			assert.Equal(t, TriggerRetry, got.Trigger)
			assert.Equal(t, OutcomeFailed, got.Outcome)
			assert.Equal(t, 3, got.Attempts)
			assert.True(t, started.Equal(got.StartedAt))
			assert.Equal(t, 7*time.Second, got.Duration())

			_, err = s.GetExchangeByCorrelationID(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestGetExchangeByCorrelationID_NewestWins(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

			for i, reply := range []string{"older", "newer"} {
				require.NoError(t, s.RecordExchange(ctx, &Exchange{
					Owner: "matrix:@a:x", Transport: "matrix", Query: "q",
					Reply: reply, Outcome: OutcomeFailed, CorrelationID: "dupe0001",
					FinishedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			got, err := s.GetExchangeByCorrelationID(ctx, "dupe0001")
			require.NoError(t, err)
			assert.Equal(t, "newer", got.Reply)
		})
	}
}

func TestListExchanges_Filters(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

			outcomes := []Outcome{OutcomeDelivered, OutcomeFailed, OutcomeCancelled, OutcomeDelivered}
			for i, outcome := range outcomes {
				owner := "matrix:@alice:x"
				if i%2 == 1 {
					owner = "discord:bob"
				}
				require.NoError(t, s.RecordExchange(ctx, &Exchange{
					Owner:      owner,
					Transport:  "test",
					Query:      fmt.Sprintf("q%d", i),
					Outcome:    outcome,
					FinishedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			all, err := s.ListExchanges(ctx, ExchangeFilter{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "q3", all[0].Query, "newest first")

			alice, err := s.ListExchanges(ctx, ExchangeFilter{Owner: "matrix:@alice:x"})
			require.NoError(t, err)
			assert.Len(t, alice, 2)

			delivered, err := s.ListExchanges(ctx, ExchangeFilter{Outcome: OutcomeDelivered})
			require.NoError(t, err)
			assert.Len(t, delivered, 2)

			since := base.Add(2 * time.Minute)
			recent, err := s.ListExchanges(ctx, ExchangeFilter{Since: &since})
			require.NoError(t, err)
			assert.Len(t, recent, 2)

			limited, err := s.ListExchanges(ctx, ExchangeFilter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestCountOutcomes(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

			entries := []struct {
				outcome Outcome
				at      time.Duration
			}{
				{OutcomeDelivered, 0},
				{OutcomeDelivered, time.Hour},
				{OutcomeFailed, time.Hour},
				{OutcomeUndelivered, 2 * time.Hour},
			}
			for _, e := range entries {
				require.NoError(t, s.RecordExchange(ctx, &Exchange{
					Owner: "o", Transport: "t", Query: "q",
					Outcome: e.outcome, FinishedAt: base.Add(e.at),
				}))
			}

			counts, err := s.CountOutcomes(ctx, base.Add(30*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, counts[OutcomeDelivered])
			assert.Equal(t, 1, counts[OutcomeFailed])
			assert.Equal(t, 1, counts[OutcomeUndelivered])
			assert.Equal(t, 0, counts[OutcomeCancelled])
			assert.Equal(t, 3, counts.Total())
		})
	}
}

func TestRecordExchange_RejectsUnknownOutcome(t *testing.T) {
	s := setupTestStore(t)
	err := s.RecordExchange(context.Background(), &Exchange{
		Owner: "o", Transport: "t", Query: "q", Outcome: Outcome("exploded"),
	})
	assert.Error(t, err)
}

func TestMockStore_RecordErr(t *testing.T) {
	m := NewMockStore()
	m.RecordErr = errors.New("disk full")

	err := m.RecordExchange(context.Background(), &Exchange{Outcome: OutcomeDelivered})
	assert.EqualError(t, err, "disk full")
	assert.Empty(t, m.Exchanges())
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 20, normalizeLimit(0))
	assert.Equal(t, 20, normalizeLimit(-3))
	assert.Equal(t, 7, normalizeLimit(7))
	assert.Equal(t, 500, normalizeLimit(10000))
}
