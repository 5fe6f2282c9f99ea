package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/threads-scraper/internal/database"
	"github.com/maltedev/threads-scraper/internal/models"
)

type EventType string

const (
	// EventTypeThreadsScraped is published once per finished scrape.
	EventTypeThreadsScraped EventType = "THREADS_SCRAPED"

	source = "threads-scraper"
)

// ThreadsScrapedPayload summarizes a scrape for downstream consumers. Posts
// are referenced by key; the rows live in thread_posts.
type ThreadsScrapedPayload struct {
	EventID           string            `json:"event_id"`
	EventType         string            `json:"event_type"`
	Timestamp         time.Time         `json:"timestamp"`
	SessionID         string            `json:"session_id"`
	URL               string            `json:"url"`
	CutoffDays        int               `json:"cutoff_days"`
	Rounds            int               `json:"rounds"`
	StopReason        models.StopReason `json:"stop_reason"`
	RecordCount       int               `json:"record_count"`
	StoredCount       int               `json:"stored_count"`
	PostKeys          []string          `json:"post_keys"`
	Usernames         []string          `json:"usernames,omitempty"`
	OldestPublishedOn *int64            `json:"oldest_published_on,omitempty"`
	Source            string            `json:"source"`
}

func NewThreadsScrapedPayload(result *models.ScrapeResult, stored int) *ThreadsScrapedPayload {
	keys := make([]string, 0, len(result.Records))
	seenUser := make(map[string]struct{})
	var users []string

	for _, rec := range result.Records {
		if k := rec.Key(); k != "" {
			keys = append(keys, k)
		}
		if rec.Username == "" {
			continue
		}
		if _, ok := seenUser[rec.Username]; !ok {
			seenUser[rec.Username] = struct{}{}
			users = append(users, rec.Username)
		}
	}

	return &ThreadsScrapedPayload{
		EventID:           uuid.NewString(),
		EventType:         string(EventTypeThreadsScraped),
		Timestamp:         time.Now(),
		SessionID:         result.SessionID.String(),
		URL:               result.URL,
		CutoffDays:        result.CutoffDays,
		Rounds:            result.Rounds,
		StopReason:        result.StopReason,
		RecordCount:       len(result.Records),
		StoredCount:       stored,
		PostKeys:          keys,
		Usernames:         users,
		OldestPublishedOn: result.OldestPublishedOn,
		Source:            source,
	}
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type PostWriter interface {
	SaveScrapeWithTx(ctx context.Context, tx pgx.Tx, result *models.ScrapeResult) (int, error)
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores a scrape and its THREADS_SCRAPED event in one
// transaction. The relay forwards the event afterwards.
type Publisher struct {
	db     TxRunner
	posts  PostWriter
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewPostRepository(db), database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(db TxRunner, posts PostWriter, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:     db,
		posts:  posts,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// Save implements the scraper's sink.
func (p *Publisher) Save(ctx context.Context, result *models.ScrapeResult) error {
	var payload *ThreadsScrapedPayload
	var outboxEvent *database.OutboxEvent

	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		stored, err := p.posts.SaveScrapeWithTx(ctx, tx, result)
		if err != nil {
			return err
		}

		payload = NewThreadsScrapedPayload(result, stored)
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		outboxEvent = &database.OutboxEvent{
			AggregateType: database.AggregateScrapeSession,
			AggregateID:   payload.SessionID,
			EventType:     payload.EventType,
			Payload:       data,
			TargetStream:  p.stream,
		}

		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish scrape: %w", err)
	}

	p.logger.Info("scrape stored",
		"session_id", payload.SessionID,
		"records", payload.RecordCount,
		"stored", payload.StoredCount,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
