package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event kinds. A request produces exactly one event when it turns terminal.
const (
	KindCompleted = "completed"
	KindFailed    = "failed"
)

// Outbox delivery states.
const (
	StatePending = "pending"
	StateSending = "sending"
	StateSent    = "sent"
	StateFailed  = "failed"
	StateSkipped = "skipped"
)

const maxOutboxError = 512

// retrySchedule is the wait before attempt n+1 after n failures. The last
// entry repeats.
var retrySchedule = []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 5 * time.Minute}

// OutboxEvent is a queued notification. Payload carries everything a sender
// needs because the request itself is gone from local state once terminal.
type OutboxEvent struct {
	ID            int64
	RequestID     string
	Kind          string
	Payload       string
	State         string
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     string
	UpdatedAt     string
}

// RetryDelay returns how long a failed event waits after its nth failure.
func RetryDelay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	if failures > len(retrySchedule) {
		failures = len(retrySchedule)
	}
	return retrySchedule[failures-1]
}

func (s *Store) EnqueueEvent(ctx context.Context, requestID, kind, payload string) (int64, error) {
	if kind != KindCompleted && kind != KindFailed {
		return 0, fmt.Errorf("unsupported event kind %q", kind)
	}
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}
	res, err := s.Writer.ExecContext(ctx,
		`INSERT INTO outbox(request_id, kind, payload) VALUES(?, ?, ?)`,
		requestID, kind, payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s event for %s: %w", kind, requestID, err)
	}
	return res.LastInsertId()
}

const outboxColumns = `id, request_id, kind, payload, state, attempts, last_error, next_attempt_at, created_at, updated_at`

func scanEvent(scan func(dest ...any) error) (OutboxEvent, error) {
	var (
		ev   OutboxEvent
		next int64
	)
	err := scan(&ev.ID, &ev.RequestID, &ev.Kind, &ev.Payload, &ev.State,
		&ev.Attempts, &ev.LastError, &next, &ev.CreatedAt, &ev.UpdatedAt)
	if next > 0 {
		ev.NextAttemptAt = time.Unix(next, 0).UTC()
	}
	return ev, err
}

// ListEvents returns events in queue order. An empty state lists all of them.
func (s *Store) ListEvents(ctx context.Context, state string, limit int) ([]OutboxEvent, error) {
	var (
		where []string
		args  []any
	)
	if state != "" {
		where = append(where, "state = ?")
		args = append(args, state)
	}
	q := `SELECT ` + outboxColumns + ` FROM outbox`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.Reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ClaimEvent moves the oldest due event to sending and returns it. ok is
// false when nothing is due.
func (s *Store) ClaimEvent(ctx context.Context, maxAttempts int) (ev OutboxEvent, ok bool, err error) {
	maxAttempts = max(maxAttempts, 1)
	row := s.Writer.QueryRowContext(ctx, `
UPDATE outbox SET state = 'sending', updated_at = ?
WHERE id = (
	SELECT id FROM outbox
	WHERE state IN ('pending', 'failed') AND attempts < ? AND next_attempt_at <= ?
	ORDER BY id LIMIT 1
)
RETURNING `+outboxColumns, nowText(), maxAttempts, time.Now().Unix())

	ev, err = scanEvent(row.Scan)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return OutboxEvent{}, false, nil
	case err != nil:
		return OutboxEvent{}, false, fmt.Errorf("claim outbox event: %w", err)
	}
	return ev, true, nil
}

func (s *Store) MarkEventSent(ctx context.Context, id int64) error {
	return s.settle(ctx, id, `state = 'sent', last_error = ''`)
}

func (s *Store) MarkEventSkipped(ctx context.Context, id int64, reason string) error {
	return s.settle(ctx, id, `state = 'skipped', last_error = ?`, clipError(reason))
}

// MarkEventFailed records one more failed attempt and schedules the next one
// according to RetryDelay.
func (s *Store) MarkEventFailed(ctx context.Context, ev OutboxEvent, reason string) error {
	next := time.Now().Add(RetryDelay(ev.Attempts + 1)).Unix()
	return s.settle(ctx, ev.ID,
		`state = 'failed', attempts = attempts + 1, last_error = ?, next_attempt_at = ?`,
		clipError(reason), next)
}

func (s *Store) settle(ctx context.Context, id int64, set string, args ...any) error {
	args = append(args, nowText(), id)
	if _, err := s.Writer.ExecContext(ctx, `UPDATE outbox SET `+set+`, updated_at = ? WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("update outbox event %d: %w", id, err)
	}
	return nil
}

// RequeueInterrupted turns events left in sending by a crashed process into
// failed attempts that are due immediately.
func (s *Store) RequeueInterrupted(ctx context.Context) (int64, error) {
	res, err := s.Writer.ExecContext(ctx, `
UPDATE outbox
SET state = 'failed', attempts = attempts + 1, next_attempt_at = 0, updated_at = ?,
    last_error = CASE WHEN last_error = '' THEN 'interrupted while sending' ELSE last_error END
WHERE state = 'sending'`, nowText())
	if err != nil {
		return 0, fmt.Errorf("requeue interrupted events: %w", err)
	}
	return res.RowsAffected()
}

// ExpireEvents gives up on failed events that used all their attempts.
func (s *Store) ExpireEvents(ctx context.Context, maxAttempts int) (int64, error) {
	if maxAttempts <= 0 {
		return 0, nil
	}
	res, err := s.Writer.ExecContext(ctx, `
UPDATE outbox
SET state = 'skipped', updated_at = ?,
    last_error = CASE WHEN last_error = '' THEN 'max attempts reached' ELSE last_error END
WHERE state = 'failed' AND attempts >= ?`, nowText(), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("expire outbox events: %w", err)
	}
	return res.RowsAffected()
}

// PruneEvents deletes settled events last touched before now-olderThan.
func (s *Store) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := s.Writer.ExecContext(ctx,
		`DELETE FROM outbox WHERE state IN ('sent', 'skipped') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	return res.RowsAffected()
}

// CountUndelivered reports events that are queued or mid-send.
func (s *Store) CountUndelivered(ctx context.Context) (int, error) {
	var n int
	err := s.Reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE state IN ('pending', 'sending')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count undelivered events: %w", err)
	}
	return n, nil
}

func clipError(msg string) string {
	msg = strings.TrimSpace(msg)
	switch {
	case msg == "":
		return "unknown error"
	case len(msg) > maxOutboxError:
		return msg[:maxOutboxError]
	}
	return msg
}

func nowText() string {
	return time.Now().UTC().Format(time.RFC3339)
}
