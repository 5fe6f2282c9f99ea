package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/threads-scraper/internal/models"
)

type Orchestrator struct {
	newDriver  DriverFactory
	controller *Controller
	sinks      []Sink
	selector   string
	logger     *slog.Logger
}

func NewOrchestrator(factory DriverFactory, controller *Controller, logger *slog.Logger, sinks ...Sink) *Orchestrator {
	return &Orchestrator{
		newDriver:  factory,
		controller: controller,
		sinks:      sinks,
		selector:   controller.opts.FeedSelector,
		logger:     logger.With("component", "orchestrator"),
	}
}

// ScrapeThreadsByAge scrapes the feed at url until posts older than
// cutoffDays show up or the feed runs out, and returns every record seen.
func (o *Orchestrator) ScrapeThreadsByAge(ctx context.Context, url string, cutoffDays int) ([]*models.PostRecord, error) {
	result, err := o.Scrape(ctx, url, cutoffDays)
	if err != nil {
		return nil, err
	}
	return result.Records, nil
}

// Scrape runs one scrape on a fresh driver and hands the result to the
// sinks. The driver is closed on every return path. A failed scrape reaches
// no sink.
func (o *Orchestrator) Scrape(ctx context.Context, url string, cutoffDays int) (*models.ScrapeResult, error) {
	if err := ValidateURL(url); err != nil {
		return nil, err
	}
	if cutoffDays < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCutoff, cutoffDays)
	}

	driver, err := o.newDriver(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page driver: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			o.logger.Warn("failed to close page driver", "url", url, "error", err)
		}
	}()

	session := NewSession(url, cutoffDays, driver)

	o.logger.Info("starting scrape", "session_id", session.ID, "url", url, "cutoff_days", cutoffDays)

	if err := driver.Navigate(ctx, url); err != nil {
		return nil, err
	}

	if err := driver.WaitForSelector(ctx, o.selector); err != nil {
		return nil, err
	}

	result, err := o.controller.Run(ctx, session)
	if err != nil {
		o.logger.Error("scrape failed", "session_id", session.ID, "url", url, "error", err)
		return nil, err
	}

	for _, sink := range o.sinks {
		if err := sink.Save(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to save scrape result: %w", err)
		}
	}

	return result, nil
}
