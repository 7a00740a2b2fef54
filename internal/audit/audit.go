// Package audit implements a best-effort ticket-lifecycle audit log,
// persisted to Postgres via pgx, distinct from the authoritative
// DynamoDB row: a supplemental observability sink, never consulted
// for correctness (spec §3's invariants do not depend on it).
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/brew/internal/logging"
)

// Transition names one lifecycle event recorded for a ticket.
type Transition string

const (
	TransitionSubmitted Transition = "submitted"
	TransitionCompleted Transition = "completed"
	TransitionRejected  Transition = "rejected"
	TransitionAborted   Transition = "aborted"
)

// entry is one queued audit write.
type entry struct {
	task       string
	ticket     string
	transition Transition
	detail     string
}

// Log is a fire-and-forget audit sink: Record never blocks the
// caller on the database round trip, and a failed write is logged and
// dropped rather than surfaced to the ticket's own processing path.
type Log struct {
	pool   *pgxpool.Pool
	events chan entry
	done   chan struct{}
}

// New opens a pool against dsn, ensures the audit table exists, and
// starts the background writer goroutine.
func New(ctx context.Context, dsn string) (*Log, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit: DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ticket_audit_log (
			id         BIGSERIAL PRIMARY KEY,
			task       TEXT NOT NULL,
			ticket     TEXT NOT NULL,
			transition TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ensure schema: %w", err)
	}

	l := &Log{pool: pool, events: make(chan entry, 256), done: make(chan struct{})}
	go l.run()
	return l, nil
}

// Record enqueues a transition for asynchronous persistence. It never
// blocks beyond the channel buffer: a full buffer drops the event
// rather than backpressure the caller, since this log is advisory.
func (l *Log) Record(task, ticket string, transition Transition, detail string) {
	select {
	case l.events <- entry{task: task, ticket: ticket, transition: transition, detail: detail}:
	default:
		logging.Op().Warn("audit log buffer full, dropping event", "ticket", ticket, "transition", transition)
	}
}

func (l *Log) run() {
	defer close(l.done)
	for e := range l.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := l.pool.Exec(ctx, `
			INSERT INTO ticket_audit_log (task, ticket, transition, detail) VALUES ($1, $2, $3, $4)`,
			e.task, e.ticket, string(e.transition), e.detail)
		cancel()
		if err != nil {
			logging.Op().Warn("audit write failed", "ticket", e.ticket, "transition", e.transition, "error", err)
		}
	}
}

// Close stops accepting new events and waits for the writer goroutine
// to drain the buffer before closing the pool.
func (l *Log) Close() {
	close(l.events)
	<-l.done
	l.pool.Close()
}
