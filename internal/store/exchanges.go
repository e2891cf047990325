// ABOUTME: Exchange ledger store methods
// ABOUTME: Records finished agent requests and looks them up by correlation id, owner or outcome

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordExchange inserts e. ID, StartedAt and FinishedAt are filled in when
// empty.
func (s *SQLiteStore) RecordExchange(ctx context.Context, e *Exchange) error {
	prepareExchange(e)

	var correlationID *string
	if e.CorrelationID != "" {
		correlationID = &e.CorrelationID
	}

	query := `
		INSERT INTO exchanges (exchange_id, owner, transport, chat_id, trigger_kind, query_text, reply_text, outcome, correlation_id, attempts, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Owner,
		e.Transport,
		e.ChatID,
		string(e.Trigger),
		e.Query,
		e.Reply,
		string(e.Outcome),
		correlationID,
		e.Attempts,
		e.StartedAt.UTC().Format(timeLayout),
		e.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}

	s.logger.Debug("recorded exchange",
		"id", e.ID,
		"owner", e.Owner,
		"outcome", e.Outcome,
		"correlation_id", e.CorrelationID,
		"attempts", e.Attempts,
	)
	return nil
}

// prepareExchange fills generated fields. Shared with MockStore.
func prepareExchange(e *Exchange) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now().UTC()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = e.FinishedAt
	}
	if e.Trigger == "" {
		e.Trigger = TriggerMessage
	}
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const exchangeColumns = `exchange_id, owner, transport, chat_id, trigger_kind, query_text, reply_text, outcome, correlation_id, attempts, started_at, finished_at`

// GetExchangeByCorrelationID returns the most recent exchange with the
// given correlation id, or ErrNotFound.
func (s *SQLiteStore) GetExchangeByCorrelationID(ctx context.Context, id string) (*Exchange, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges
		WHERE correlation_id = ?
		ORDER BY finished_at DESC
		LIMIT 1
	`, id)

	e, err := scanExchange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListExchanges returns exchanges matching f, newest first.
func (s *SQLiteStore) ListExchanges(ctx context.Context, f ExchangeFilter) ([]*Exchange, error) {
	var owner, outcome, since *string
	if f.Owner != "" {
		owner = &f.Owner
	}
	if f.Outcome != "" {
		o := string(f.Outcome)
		outcome = &o
	}
	if f.Since != nil {
		v := f.Since.UTC().Format(timeLayout)
		since = &v
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges
		WHERE (? IS NULL OR owner = ?)
		  AND (? IS NULL OR outcome = ?)
		  AND (? IS NULL OR finished_at >= ?)
		ORDER BY finished_at DESC
		LIMIT ?
	`, owner, owner, outcome, outcome, since, since, normalizeLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []*Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchanges: %w", err)
	}
	return out, nil
}

// CountOutcomes tallies exchanges finished at or after since.
func (s *SQLiteStore) CountOutcomes(ctx context.Context, since time.Time) (OutcomeCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM exchanges
		WHERE finished_at >= ?
		GROUP BY outcome
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}
	defer rows.Close()

	counts := OutcomeCounts{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning outcome count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcome counts: %w", err)
	}
	return counts, nil
}

func scanExchange(scanner interface{ Scan(dest ...any) error }) (*Exchange, error) {
	var e Exchange
	var trigger, outcome, startedAt, finishedAt string
	var correlationID sql.NullString

	if err := scanner.Scan(
		&e.ID,
		&e.Owner,
		&e.Transport,
		&e.ChatID,
		&trigger,
		&e.Query,
		&e.Reply,
		&outcome,
		&correlationID,
		&e.Attempts,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning exchange: %w", err)
	}

	e.Trigger = Trigger(trigger)
	e.Outcome = Outcome(outcome)
	e.CorrelationID = correlationID.String

	var err error
	if e.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if e.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	return &e, nil
}
