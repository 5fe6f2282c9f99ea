package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/threads-scraper/internal/models"
	"github.com/maltedev/threads-scraper/internal/queue"
	"github.com/maltedev/threads-scraper/internal/scraper"
)

var ErrJobNotFound = errors.New("job not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Scraper runs one feed scrape. *scraper.Orchestrator satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, url string, cutoffDays int) (*models.ScrapeResult, error)
}

// Job represents a scrape requested over the API
type Job struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	CutoffDays  int               `json:"cutoff_days"`
	Status      Status            `json:"status"`
	Records     int               `json:"records"`
	Rounds      int               `json:"rounds"`
	StopReason  models.StopReason `json:"stop_reason,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Stats counts jobs per status
type Stats struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	QueuedTasks   int `json:"queued_tasks"`
}

type entry struct {
	job     Job
	records []*models.PostRecord
}

// Manager keeps jobs in memory. Finished jobs beyond maxJobs are evicted
// oldest first.
type Manager struct {
	scraper Scraper
	queue   queue.Queue
	maxJobs int
	logger  *slog.Logger

	mu    sync.RWMutex
	jobs  map[string]*entry
	order []string
}

func NewManager(s Scraper, q queue.Queue, maxJobs int, logger *slog.Logger) *Manager {
	return &Manager{
		scraper: s,
		queue:   q,
		maxJobs: maxJobs,
		logger:  logger.With("component", "job_manager"),
		jobs:    make(map[string]*entry),
	}
}

// CreateJob validates the request and queues it for a worker
func (m *Manager) CreateJob(ctx context.Context, url string, cutoffDays int) (*Job, error) {
	if err := scraper.ValidateURL(url); err != nil {
		return nil, err
	}
	if cutoffDays < 0 {
		return nil, fmt.Errorf("%w: %d", scraper.ErrInvalidCutoff, cutoffDays)
	}

	job := Job{
		ID:         uuid.New().String(),
		URL:        url,
		CutoffDays: cutoffDays,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = &entry{job: job}
	m.order = append(m.order, job.ID)
	m.evictLocked()
	m.mu.Unlock()

	task := &queue.Task{
		ID:         job.ID,
		URL:        url,
		CutoffDays: cutoffDays,
		CreatedAt:  job.CreatedAt,
	}
	if err := m.queue.Push(task); err != nil {
		m.remove(job.ID)
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "url", url, "days", cutoffDays)
	return &job, nil
}

// GetJob returns a copy of the job
func (m *Manager) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	job := e.job
	return &job, nil
}

// ListJobs returns the newest jobs first. An empty status matches all.
func (m *Manager) ListJobs(ctx context.Context, status Status, limit int) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.jobs[m.order[i]]
		if status != "" && e.job.Status != status {
			continue
		}
		job := e.job
		jobs = append(jobs, &job)
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	return jobs, nil
}

// Records returns the records of a completed job
func (m *Manager) Records(ctx context.Context, id string) ([]*models.PostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.records, nil
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs), QueuedTasks: m.queue.Size()}
	for _, e := range m.jobs {
		switch e.job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}
	return stats, nil
}

func (m *Manager) update(id string, fn func(e *entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.jobs[id]; ok {
		fn(e)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.jobs, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// evictLocked drops the oldest finished jobs while over maxJobs. Pending and
// running jobs are never evicted.
func (m *Manager) evictLocked() {
	if m.maxJobs <= 0 || len(m.order) <= m.maxJobs {
		return
	}

	var finished []string
	for _, id := range m.order {
		switch m.jobs[id].job.Status {
		case StatusCompleted, StatusFailed:
			finished = append(finished, id)
		}
	}

	drop := make(map[string]struct{})
	for _, id := range finished {
		if len(m.order)-len(drop) <= m.maxJobs {
			break
		}
		drop[id] = struct{}{}
		delete(m.jobs, id)
	}
	if len(drop) == 0 {
		return
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
}
