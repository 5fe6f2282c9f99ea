package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/threads-scraper/internal/database"
	"github.com/maltedev/threads-scraper/internal/export"
	"github.com/maltedev/threads-scraper/internal/jobs"
	"github.com/maltedev/threads-scraper/internal/models"
	"github.com/maltedev/threads-scraper/internal/queue"
	"github.com/maltedev/threads-scraper/internal/scraper"
)

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

type JobService interface {
	CreateJob(ctx context.Context, url string, cutoffDays int) (*jobs.Job, error)
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	ListJobs(ctx context.Context, status jobs.Status, limit int) ([]*jobs.Job, error)
	Records(ctx context.Context, id string) ([]*models.PostRecord, error)
	Stats(ctx context.Context) (*jobs.Stats, error)
}

// OutboxStats reports relay backlog. *database.Relay satisfies it.
type OutboxStats interface {
	Stats(ctx context.Context) (*database.RelayStats, error)
}

type Handlers struct {
	jobs        JobService
	outbox      OutboxStats
	defaultDays int
	logger      *slog.Logger
}

// NewHandlers builds the API handlers. outbox may be nil when the database
// is disabled.
func NewHandlers(jobs JobService, outbox OutboxStats, defaultDays int, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:        jobs,
		outbox:      outbox,
		defaultDays: defaultDays,
		logger:      logger.With("component", "api"),
	}
}

// CreateScrapeRequest represents a new scrape request
type CreateScrapeRequest struct {
	URL  string `json:"url"`
	Days *int   `json:"days,omitempty"`
}

// CreateScrapeResponse represents the job creation response
type CreateScrapeResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateScrape handles new scrape job creation
func (h *Handlers) CreateScrape(w http.ResponseWriter, r *http.Request) {
	var req CreateScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	days := h.defaultDays
	if req.Days != nil {
		days = *req.Days
	}

	job, err := h.jobs.CreateJob(r.Context(), req.URL, days)
	switch {
	case err == nil:
	case errors.Is(err, scraper.ErrInvalidURL), errors.Is(err, scraper.ErrInvalidCutoff):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrQueueFull):
		h.respondError(w, http.StatusServiceUnavailable, "scrape queue is full")
		return
	default:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, CreateScrapeResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Scrape queued",
	})
}

// GetScrape handles job status retrieval
func (h *Handlers) GetScrape(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListScrapes handles listing jobs, optionally filtered by ?status= and
// capped by ?limit=
func (h *Handlers) ListScrapes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := h.jobs.ListJobs(r.Context(), jobs.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

// GetScrapeRecords streams the records of a completed job as JSON, or as
// CSV with ?format=csv
func (h *Handlers) GetScrapeRecords(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if job.Status != jobs.StatusCompleted {
		h.respondError(w, http.StatusConflict, "job is "+string(job.Status))
		return
	}

	records, err := h.jobs.Records(r.Context(), job.ID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", export.FormatJSON:
		if records == nil {
			records = []*models.PostRecord{}
		}
		h.respondJSON(w, http.StatusOK, records)
	case export.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := export.WriteCSV(w, records); err != nil {
			h.logger.Error("failed to write csv", "job", job.ID, "error", err)
		}
	default:
		h.respondError(w, http.StatusBadRequest, "format must be csv or json")
	}
}

// GetStats handles job statistics retrieval
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// Health reports ok, or the outbox backlog when events are relayed
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = stats
		if stats.Pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if stats.DeadLetter > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return nil, false
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
