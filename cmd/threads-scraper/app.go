package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/threads-scraper/internal/browser"
	"github.com/maltedev/threads-scraper/internal/config"
	"github.com/maltedev/threads-scraper/internal/database"
	"github.com/maltedev/threads-scraper/internal/events"
	"github.com/maltedev/threads-scraper/internal/parser"
	"github.com/maltedev/threads-scraper/internal/ratelimit"
	"github.com/maltedev/threads-scraper/internal/scraper"
)

// app holds the long-lived resources both commands share. db, redis and
// relay are nil when the matching feature is disabled.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	browser *browser.Browser
	db      *database.DB
	redis   *redis.Client
	relay   *database.Relay
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db

		if err := db.Migrate(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		a.relay = database.NewRelay(database.NewOutboxRepository(a.db), a.redis, logger, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
			BatchSize:    100,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
	}

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
		ProxyServer:    cfg.Browser.ProxyServer,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	a.browser = b

	return a, nil
}

// orchestrator wires a scrape pipeline over the shared browser. The
// database publisher is appended to sinks when the database is enabled.
func (a *app) orchestrator(sinks ...scraper.Sink) *scraper.Orchestrator {
	if a.db != nil {
		sinks = append(sinks, events.NewPublisher(a.db, a.cfg.Redis.Stream, a.logger))
	}

	controller := scraper.NewController(
		parser.NewThreadsParser(),
		ratelimit.NewPacer(a.cfg.Scraper.PaceMin, a.cfg.Scraper.PaceMax),
		scraper.Options{
			FeedSelector:  a.cfg.Scraper.FeedSelector,
			Dedup:         scraper.DedupPolicy(a.cfg.Scraper.Dedup),
			OldestScope:   scraper.OldestScope(a.cfg.Scraper.OldestScope),
			MaxRounds:     a.cfg.Scraper.MaxRounds,
			SkipMalformed: a.cfg.Scraper.SkipMalformed,
			SettleTimeout: a.cfg.Scraper.SettleTimeout,
		},
		a.logger,
	)

	controller.OnTransition(func(s *scraper.Session, from, to scraper.State) {
		a.logger.Debug("state change", "session_id", s.ID, "round", s.Rounds, "from", from, "to", to)
	})

	return scraper.NewOrchestrator(a.newDriver, controller, a.logger, sinks...)
}

func (a *app) newDriver(ctx context.Context) (scraper.PageDriver, error) {
	page, err := a.browser.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// flushOutbox pushes pending events to Redis once, for runs that do not
// keep the relay loop alive.
func (a *app) flushOutbox(ctx context.Context) {
	if a.relay == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := a.relay.Flush(ctx)
	if err != nil {
		a.logger.Error("failed to flush outbox", "error", err)
		return
	}
	a.logger.Info("outbox flushed", "published", n)
}

func (a *app) close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Warn("failed to close browser", "error", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
