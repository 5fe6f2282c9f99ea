package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/threads-scraper/internal/database"
	"github.com/maltedev/threads-scraper/internal/models"
)

// fakeTx runs fn with a nil transaction and reports whether it committed.
type fakeTx struct {
	committed bool
}

func (f *fakeTx) WithTx(_ context.Context, fn func(pgx.Tx) error) error {
	if err := fn(nil); err != nil {
		return err
	}
	f.committed = true
	return nil
}

type MockPostWriter struct {
	mock.Mock
}

func (m *MockPostWriter) SaveScrapeWithTx(ctx context.Context, tx pgx.Tx, result *models.ScrapeResult) (int, error) {
	args := m.Called(ctx, tx, result)
	return args.Int(0), args.Error(1)
}

type MockOutboxWriter struct {
	mock.Mock
}

func (m *MockOutboxWriter) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func sampleResult() *models.ScrapeResult {
	oldest := int64(1717200000)
	return &models.ScrapeResult{
		SessionID:  uuid.New(),
		URL:        "https://www.threads.net/@someone",
		CutoffDays: 7,
		Rounds:     3,
		StopReason: models.StopCutoff,
		Records: []*models.PostRecord{
			{PK: "1", Username: "someone"},
			{PK: "2", Username: "other"},
			{Code: "c3", Username: "someone"},
			{},
		},
		OldestPublishedOn: &oldest,
		StartedAt:         time.Now(),
		FinishedAt:        time.Now(),
	}
}

func TestNewThreadsScrapedPayload(t *testing.T) {
	result := sampleResult()
	payload := NewThreadsScrapedPayload(result, 3)

	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, "THREADS_SCRAPED", payload.EventType)
	assert.Equal(t, result.SessionID.String(), payload.SessionID)
	assert.Equal(t, 4, payload.RecordCount)
	assert.Equal(t, 3, payload.StoredCount)
	assert.Equal(t, []string{"1", "2", "c3"}, payload.PostKeys)
	assert.Equal(t, []string{"someone", "other"}, payload.Usernames)
	assert.Equal(t, models.StopCutoff, payload.StopReason)
	assert.Equal(t, "threads-scraper", payload.Source)
}

func TestPublisher_Save(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("stores posts and event together", func(t *testing.T) {
		tx := &fakeTx{}
		posts := new(MockPostWriter)
		outbox := new(MockOutboxWriter)
		result := sampleResult()

		posts.On("SaveScrapeWithTx", ctx, nil, result).Return(3, nil)
		outbox.On("InsertWithTx", ctx, nil, mock.MatchedBy(func(e *database.OutboxEvent) bool {
			var payload ThreadsScrapedPayload
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				return false
			}
			return e.AggregateType == "scrape_session" &&
				e.AggregateID == result.SessionID.String() &&
				e.EventType == "THREADS_SCRAPED" &&
				e.TargetStream == "stream:custom" &&
				payload.StoredCount == 3
		})).Return(nil)

		p := newPublisher(tx, posts, outbox, "stream:custom", logger)
		require.NoError(t, p.Save(ctx, result))

		assert.True(t, tx.committed)
		posts.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("post write failure skips the event", func(t *testing.T) {
		tx := &fakeTx{}
		posts := new(MockPostWriter)
		outbox := new(MockOutboxWriter)
		result := sampleResult()

		posts.On("SaveScrapeWithTx", ctx, nil, result).Return(0, errors.New("unique violation"))

		p := newPublisher(tx, posts, outbox, "", logger)
		err := p.Save(ctx, result)

		assert.ErrorContains(t, err, "unique violation")
		assert.False(t, tx.committed)
		outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("outbox failure rolls back", func(t *testing.T) {
		tx := &fakeTx{}
		posts := new(MockPostWriter)
		outbox := new(MockOutboxWriter)
		result := sampleResult()

		posts.On("SaveScrapeWithTx", ctx, nil, result).Return(3, nil)
		outbox.On("InsertWithTx", ctx, nil, mock.Anything).Return(database.ErrIncompleteEvent)

		p := newPublisher(tx, posts, outbox, "", logger)
		err := p.Save(ctx, result)

		assert.ErrorIs(t, err, database.ErrIncompleteEvent)
		assert.False(t, tx.committed)
	})

	t.Run("default stream", func(t *testing.T) {
		p := newPublisher(&fakeTx{}, new(MockPostWriter), new(MockOutboxWriter), "", logger)
		assert.Equal(t, database.DefaultStream, p.stream)
	})
}
