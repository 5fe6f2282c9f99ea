package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/maltedev/threads-scraper/internal/models"
)

var (
	ErrInvalidURL    = errors.New("invalid feed URL")
	ErrInvalidCutoff = errors.New("cutoff days must not be negative")
	ErrBadHeight     = errors.New("page height is not a number")
)

const (
	DefaultFeedSelector = "[data-pressable-container=true]"

	heightScript = "document.body.scrollHeight"
)

// PageDriver is the browser surface the scraper needs. Every call may block
// on the page and fails with a driver error that is passed up unchanged.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	WaitForSelector(ctx context.Context, selector string) error
	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (interface{}, error)
	ScrollBy(ctx context.Context, height int) error
	Close() error
}

// DriverFactory opens a fresh driver. Drivers are never shared between
// scrapes.
type DriverFactory func(ctx context.Context) (PageDriver, error)

// Sink receives the result of every successful scrape.
type Sink interface {
	Save(ctx context.Context, result *models.ScrapeResult) error
}

type DedupPolicy string

const (
	DedupNone  DedupPolicy = "none"
	DedupByKey DedupPolicy = "id"
)

type OldestScope string

const (
	ScopeRound   OldestScope = "round"
	ScopeSession OldestScope = "session"
)

type Options struct {
	FeedSelector string
	Dedup        DedupPolicy
	OldestScope  OldestScope
	// MaxRounds bounds the number of extraction rounds; 0 means unbounded.
	MaxRounds     int
	SkipMalformed bool
	// SettleTimeout is how long to keep polling the page height after a
	// scroll before declaring the feed exhausted.
	SettleTimeout time.Duration
	SettlePoll    time.Duration
}

func DefaultOptions() Options {
	return Options{
		FeedSelector:  DefaultFeedSelector,
		Dedup:         DedupByKey,
		OldestScope:   ScopeRound,
		SettleTimeout: 3 * time.Second,
		SettlePoll:    250 * time.Millisecond,
	}
}

func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

func pageHeight(ctx context.Context, d PageDriver) (int, error) {
	v, err := d.Evaluate(ctx, heightScript)
	if err != nil {
		return 0, err
	}

	switch h := v.(type) {
	case int:
		return h, nil
	case int64:
		return int(h), nil
	case float64:
		return int(h), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrBadHeight, v)
	}
}
