package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maltedev/threads-scraper/internal/queue"
)

// StartWorkers runs n workers until ctx is done or the queue is closed, then
// returns once all of them have stopped.
func (m *Manager) StartWorkers(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (m *Manager) worker(ctx context.Context, id int) {
	logger := m.logger.With("worker", id)
	logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
				logger.Info("job worker stopping")
				return
			}
			logger.Error("failed to pop task", "error", err)
			continue
		}

		m.processJob(ctx, task)
	}
}

// processJob runs one queued scrape and records its outcome on the job
func (m *Manager) processJob(ctx context.Context, task *queue.Task) {
	started := time.Now()
	m.update(task.ID, func(e *entry) {
		e.job.Status = StatusRunning
		e.job.StartedAt = &started
	})

	m.logger.Info("processing job", "id", task.ID, "url", task.URL)

	result, err := m.scraper.Scrape(ctx, task.URL, task.CutoffDays)
	finished := time.Now()

	if err != nil {
		m.logger.Error("job failed", "id", task.ID, "error", err)
		m.update(task.ID, func(e *entry) {
			e.job.Status = StatusFailed
			e.job.Error = err.Error()
			e.job.CompletedAt = &finished
		})
		return
	}

	m.update(task.ID, func(e *entry) {
		e.job.Status = StatusCompleted
		e.job.Records = len(result.Records)
		e.job.Rounds = result.Rounds
		e.job.StopReason = result.StopReason
		e.job.SessionID = result.SessionID.String()
		e.job.CompletedAt = &finished
		e.records = result.Records
	})

	m.logger.Info("job completed",
		"id", task.ID,
		"records", len(result.Records),
		"stop_reason", result.StopReason,
		"duration", finished.Sub(started),
	)
}
