package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox event states. Failed events are retried until MaxRetryCount, then
// parked as dead letters.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	MaxRetryCount = 5

	// AggregateScrapeSession is the aggregate every scrape event belongs to.
	AggregateScrapeSession = "scrape_session"

	// DefaultStream receives events that do not name a target stream
	DefaultStream = "stream:threads"

	maxRetryBackoff = 5 * time.Minute
)

var (
	ErrIncompleteEvent = errors.New("outbox event is missing its type, aggregate or payload")
	ErrEventNotFound   = errors.New("outbox event not found")
)

// OutboxEvent is one row of outbox_event. The db tags drive row scanning.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// OutboxRepository stores scrape events next to the posts they describe so
// both commit together.
type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const insertEventSQL = `
	INSERT INTO outbox_event (
		id, aggregate_type, aggregate_id, event_type, payload,
		target_stream, status, retry_count, created_at, next_retry_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	)`

const selectDueSQL = `
	SELECT id, aggregate_type, aggregate_id, event_type, payload,
		target_stream, status, retry_count, error_message,
		created_at, processed_at, next_retry_at
	FROM outbox_event
	WHERE status IN ($1, $2) AND next_retry_at <= $3
	ORDER BY created_at
	LIMIT $4`

// InsertWithTx queues event inside tx. Empty ID, status, aggregate type and
// stream are filled in; the event is due immediately unless NextRetryAt is
// set.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.EventType == "" || event.AggregateID == "" || len(event.Payload) == 0 {
		return ErrIncompleteEvent
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.AggregateType == "" {
		event.AggregateType = AggregateScrapeSession
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultStream
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	event.CreatedAt = time.Now()
	if event.NextRetryAt == nil {
		due := event.CreatedAt
		event.NextRetryAt = &due
	}

	if _, err := tx.Exec(ctx, insertEventSQL,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload,
		event.TargetStream, event.Status, event.RetryCount, event.CreatedAt, event.NextRetryAt,
	); err != nil {
		return fmt.Errorf("failed to insert outbox event %s: %w", event.ID, err)
	}
	return nil
}

// GetPending returns up to limit pending or failed events whose retry time
// has come, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, selectDueSQL,
		OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to read due events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		"UPDATE outbox_event SET status = $1, processed_at = $2 WHERE id = $3",
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

// MarkFailed records the publish error and schedules the next attempt. The
// row is locked while its retry count is bumped so concurrent relays cannot
// lose an attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, publishErr error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var retries int
		err := tx.QueryRow(ctx,
			"SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE", id).Scan(&retries)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrEventNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock event %s: %w", id, err)
		}

		retries++
		status := OutboxStatusFailed
		if retries >= MaxRetryCount {
			status = OutboxStatusDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			status, retries, publishErr.Error(), calculateNextRetryTime(retries), id)
		if err != nil {
			return fmt.Errorf("failed to mark event %s failed: %w", id, err)
		}
		return nil
	})
}

// CountByStatus returns the number of events per status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.pool.Query(ctx, "SELECT status, COUNT(*) FROM outbox_event GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// calculateNextRetryTime doubles the wait per attempt, 2s after the first
// failure, capped at five minutes.
func calculateNextRetryTime(retryCount int) time.Time {
	backoff := maxRetryBackoff
	if retryCount < 20 {
		backoff = min(time.Duration(1<<retryCount)*time.Second, maxRetryBackoff)
	}
	return time.Now().Add(backoff)
}
