package models

import (
	"time"

	"github.com/google/uuid"
)

type StopReason string

const (
	StopCutoff    StopReason = "cutoff"
	StopExhausted StopReason = "exhausted"
	StopMaxRounds StopReason = "max_rounds"
)

// ScrapeResult is what one feed scrape hands to its sinks.
type ScrapeResult struct {
	SessionID         uuid.UUID     `json:"session_id"`
	URL               string        `json:"url"`
	CutoffDays        int           `json:"cutoff_days"`
	Records           []*PostRecord `json:"records"`
	Rounds            int           `json:"rounds"`
	StopReason        StopReason    `json:"stop_reason"`
	OldestPublishedOn *int64        `json:"oldest_published_on"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
}
