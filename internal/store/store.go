// ABOUTME: Store interface and data types for the exchange ledger
// ABOUTME: Defines Exchange, its outcome and trigger kinds, and list filters

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested exchange does not exist
var ErrNotFound = errors.New("not found")

// Outcome records how an exchange ended.
type Outcome string

const (
	OutcomeDelivered   Outcome = "delivered"   // reply reached the user
	OutcomeFailed      Outcome = "failed"      // agent failure text reached the user
	OutcomeCancelled   Outcome = "cancelled"   // superseded, cancelled or swept
	OutcomeUndelivered Outcome = "undelivered" // the chat transport rejected every send
)

// Trigger records what started an exchange.
type Trigger string

const (
	TriggerMessage Trigger = "message"
	TriggerEdit    Trigger = "edit"
	TriggerRetry   Trigger = "retry"
)

// Exchange is one query sent to the agent and what became of it.
type Exchange struct {
	ID            string
	Owner         string // "<transport>:<user id>"
	Transport     string
	ChatID        string
	Trigger       Trigger
	Query         string
	Reply         string
	Outcome       Outcome
	CorrelationID string // empty unless the agent call failed
	Attempts      int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Duration returns how long the exchange took.
func (e *Exchange) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// ExchangeFilter narrows ListExchanges. Zero fields do not filter.
type ExchangeFilter struct {
	Owner   string
	Outcome Outcome
	Since   *time.Time
	Limit   int // default 20, max 500
}

// OutcomeCounts maps each outcome to its number of exchanges.
type OutcomeCounts map[Outcome]int

// Total sums every outcome.
func (c OutcomeCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Store is the exchange ledger.
type Store interface {
	// RecordExchange inserts e, filling ID and FinishedAt when empty.
	RecordExchange(ctx context.Context, e *Exchange) error

	// GetExchangeByCorrelationID returns the most recent exchange carrying id.
	GetExchangeByCorrelationID(ctx context.Context, id string) (*Exchange, error)

	// ListExchanges returns matching exchanges, newest first.
	ListExchanges(ctx context.Context, f ExchangeFilter) ([]*Exchange, error)

	// CountOutcomes tallies exchanges finished at or after since.
	CountOutcomes(ctx context.Context, since time.Time) (OutcomeCounts, error)

	Close() error
}

// normalizeLimit applies the default (20) and cap (500).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 500:
		return 500
	default:
		return limit
	}
}
