package scraper

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/threads-scraper/internal/models"
)

type URLResult struct {
	URL    string
	Result *models.ScrapeResult
	Err    error
}

// ScrapeMany scrapes every url with at most limit scrapes in flight. Each
// scrape has its own driver and session; a failing url does not stop the
// others. Results keep the order of urls.
func (o *Orchestrator) ScrapeMany(ctx context.Context, urls []string, cutoffDays, limit int) []URLResult {
	if limit < 1 {
		limit = 1
	}

	results := make([]URLResult, len(urls))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			res, err := o.Scrape(ctx, u, cutoffDays)
			results[i] = URLResult{URL: u, Result: res, Err: err}
			return nil
		})
	}

	_ = g.Wait()

	return results
}
