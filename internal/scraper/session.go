package scraper

import (
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/threads-scraper/internal/models"
)

// Session is the mutable state of one scrape. It is owned by a single
// goroutine.
type Session struct {
	ID            uuid.UUID
	URL           string
	CutoffDays    int
	CutoffSeconds int64
	Driver        PageDriver
	Records       []*models.PostRecord
	Oldest        *int64
	LastHeight    int
	Rounds        int
	State         State
	StartedAt     time.Time

	seen map[string]struct{}
}

func NewSession(url string, cutoffDays int, driver PageDriver) *Session {
	return &Session{
		ID:            uuid.New(),
		URL:           url,
		CutoffDays:    cutoffDays,
		CutoffSeconds: int64(cutoffDays) * 86400,
		Driver:        driver,
		State:         StateInitial,
		StartedAt:     time.Now(),
		seen:          make(map[string]struct{}),
	}
}

// collect appends the round's records and returns how many were new.
// Records without any identifier are always kept.
func (s *Session) collect(round []*models.PostRecord, policy DedupPolicy) int {
	added := 0
	for _, rec := range round {
		if policy == DedupByKey {
			key := rec.Key()
			if key != "" {
				if _, dup := s.seen[key]; dup {
					continue
				}
				s.seen[key] = struct{}{}
			}
		}
		s.Records = append(s.Records, rec)
		added++
	}
	return added
}

// observe updates the oldest timestamp from the round's snapshot and returns
// the value the cutoff is evaluated against.
func (s *Session) observe(round []*models.PostRecord, scope OldestScope) *int64 {
	oldest := oldestPublished(round)

	if scope == ScopeSession && s.Oldest != nil {
		if oldest == nil || *s.Oldest < *oldest {
			oldest = s.Oldest
		}
	}

	s.Oldest = oldest
	return oldest
}

func oldestPublished(records []*models.PostRecord) *int64 {
	var oldest *int64
	for _, rec := range records {
		if rec.PublishedOn == nil {
			continue
		}
		if oldest == nil || *rec.PublishedOn < *oldest {
			v := *rec.PublishedOn
			oldest = &v
		}
	}
	return oldest
}
