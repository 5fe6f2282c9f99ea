package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/threads-scraper/internal/api"
	"github.com/maltedev/threads-scraper/internal/jobs"
	"github.com/maltedev/threads-scraper/internal/queue"
)

const maxRetainedJobs = 1000

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scrape API with background workers",
	Long: `Serve a small HTTP API that queues feed scrapes and runs them on
SERVER_WORKERS background workers sharing one browser.

  POST /api/v1/scrapes                 queue a scrape {"url": ..., "days": ...}
  GET  /api/v1/scrapes                 list jobs (?status=, ?limit=)
  GET  /api/v1/scrapes/{id}            job status
  GET  /api/v1/scrapes/{id}/records    posts as JSON, or CSV with ?format=csv
  GET  /api/v1/stats                   job counts
  GET  /health                         liveness and outbox backlog`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	var wg sync.WaitGroup

	if a.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
	}

	q := queue.NewInMemoryQueue(cfg.Server.QueueSize)
	manager := jobs.NewManager(a.orchestrator(), q, maxRetainedJobs, log)

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.StartWorkers(ctx, cfg.Server.Workers)
	}()

	var outbox api.OutboxStats
	if a.relay != nil {
		outbox = a.relay
	}
	handlers := api.NewHandlers(manager, outbox, cfg.Scraper.CutoffDays, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, cfg.Server.CORSOrigins, 60*time.Second),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		q.Close()
		cancel()
	}()

	log.Info("server starting", "addr", server.Addr, "workers", cfg.Server.Workers)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		wg.Wait()
		return fmt.Errorf("server failed: %w", err)
	}

	wg.Wait()
	log.Info("server stopped")
	return nil
}
