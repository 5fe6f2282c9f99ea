package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/threads-scraper/internal/export"
	"github.com/maltedev/threads-scraper/internal/scraper"
)

var (
	// Scrape command flags
	cutoffDays  int
	outputDir   string
	format      string
	concurrency int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [url...]",
	Short: "Scrape one or more feeds and export the posts",
	Long: `Scrape each feed URL until posts older than --days show up or the feed
runs out, then write one export file per feed.

URLs come from the arguments, or from SCRAPER_URLS when none are given.
With DB_ENABLED the posts are also stored in Postgres, and with
REDIS_ENABLED a THREADS_SCRAPED event is pushed to the stream.`,
	Example: `  # Last week of a profile as CSV in the current directory
  threads-scraper scrape https://www.threads.net/@someone --days 7

  # Two feeds as JSON, one at a time
  threads-scraper scrape https://www.threads.net/@a https://www.threads.net/@b --format json --concurrency 1`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().IntVarP(&cutoffDays, "days", "d", 0, "cutoff age in days (default SCRAPER_CUTOFF_DAYS)")
	scrapeCmd.Flags().StringVarP(&outputDir, "out", "o", "", "output directory (default EXPORT_DIR)")
	scrapeCmd.Flags().StringVarP(&format, "format", "f", "", "export format, csv or json (default EXPORT_FORMAT)")
	scrapeCmd.Flags().IntVar(&concurrency, "concurrency", 0, "feeds scraped at once (default SCRAPER_CONCURRENT_LIMIT)")
}

func runScrape(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("days") {
		cfg.Scraper.CutoffDays = cutoffDays
	}
	if flags.Changed("out") {
		cfg.Export.Directory = outputDir
	}
	if flags.Changed("format") {
		cfg.Export.Format = format
	}
	if flags.Changed("concurrency") {
		cfg.Scraper.ConcurrentLimit = concurrency
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	urls := args
	if len(urls) == 0 {
		urls = cfg.Scraper.URLs
	}
	if len(urls) == 0 {
		return errors.New("no feed URLs given: pass them as arguments or set SCRAPER_URLS")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := export.NewFileSink(cfg.Export.Directory, cfg.Export.Format, log)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	orch := a.orchestrator(sink)
	results := orch.ScrapeMany(ctx, urls, cfg.Scraper.CutoffDays, cfg.Scraper.ConcurrentLimit)

	a.flushOutbox(context.WithoutCancel(ctx))

	return report(cmd, results)
}

// report prints one line per feed and fails if any feed failed.
func report(cmd *cobra.Command, results []scraper.URLResult) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s: %v\n", r.URL, r.Err)
			continue
		}
		fmt.Fprintf(out, "OK    %s: %d posts in %d rounds (%s)\n",
			r.URL, len(r.Result.Records), r.Result.Rounds, r.Result.StopReason)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d feeds failed", failed, len(results))
	}
	return nil
}
