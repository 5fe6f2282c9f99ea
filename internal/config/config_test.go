package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Scraper.CutoffDays)
	assert.Equal(t, time.Second, cfg.Scraper.PaceMin)
	assert.Equal(t, time.Second, cfg.Scraper.PaceMax)
	assert.Equal(t, DedupByID, cfg.Scraper.Dedup)
	assert.Equal(t, ScopeRound, cfg.Scraper.OldestScope)
	assert.Equal(t, "[data-pressable-container=true]", cfg.Scraper.FeedSelector)
	assert.Equal(t, 3*time.Second, cfg.Scraper.SettleTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(10000), cfg.Redis.StreamMaxLen)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1920, cfg.Browser.ViewportWidth)
	assert.Equal(t, 1080, cfg.Browser.ViewportHeight)
	assert.Equal(t, "csv", cfg.Export.Format)
	assert.False(t, cfg.Database.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SCRAPER_CUTOFF_DAYS", "7")
	t.Setenv("SCRAPER_PACE_MIN", "2s")
	t.Setenv("SCRAPER_PACE_MAX", "4s")
	t.Setenv("SCRAPER_DEDUP", "none")
	t.Setenv("SCRAPER_OLDEST_SCOPE", "session")
	t.Setenv("SCRAPER_URLS", "https://www.threads.net/@a, ,https://www.threads.net/@b")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("DB_MAX_CONNS", "4")
	t.Setenv("SCRAPER_SETTLE_TIMEOUT", "500ms")
	t.Setenv("REDIS_STREAM_MAXLEN", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scraper.CutoffDays)
	assert.Equal(t, 2*time.Second, cfg.Scraper.PaceMin)
	assert.Equal(t, 4*time.Second, cfg.Scraper.PaceMax)
	assert.Equal(t, DedupNone, cfg.Scraper.Dedup)
	assert.Equal(t, ScopeSession, cfg.Scraper.OldestScope)
	assert.Equal(t, []string{"https://www.threads.net/@a", "https://www.threads.net/@b"}, cfg.Scraper.URLs)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, int32(4), cfg.Database.MaxConns)
	assert.Equal(t, 500*time.Millisecond, cfg.Scraper.SettleTimeout)
	assert.Equal(t, int64(0), cfg.Redis.StreamMaxLen)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SCRAPER_CUTOFF_DAYS", "a month")
	t.Setenv("SCRAPER_PACE_MIN", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Scraper.CutoffDays)
	assert.Equal(t, time.Second, cfg.Scraper.PaceMin)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"negative cutoff", func(c *Config) { c.Scraper.CutoffDays = -1 }, "SCRAPER_CUTOFF_DAYS"},
		{"pace min above max", func(c *Config) { c.Scraper.PaceMin = 3 * time.Second }, "SCRAPER_PACE_MIN"},
		{"unknown dedup", func(c *Config) { c.Scraper.Dedup = "code" }, "SCRAPER_DEDUP"},
		{"unknown scope", func(c *Config) { c.Scraper.OldestScope = "all" }, "SCRAPER_OLDEST_SCOPE"},
		{"negative max rounds", func(c *Config) { c.Scraper.MaxRounds = -2 }, "SCRAPER_MAX_ROUNDS"},
		{"negative settle", func(c *Config) { c.Scraper.SettleTimeout = -time.Second }, "SCRAPER_SETTLE_TIMEOUT"},
		{"zero concurrency", func(c *Config) { c.Scraper.ConcurrentLimit = 0 }, "SCRAPER_CONCURRENT_LIMIT"},
		{"zero workers", func(c *Config) { c.Server.Workers = 0 }, "SERVER_WORKERS"},
		{"unknown export", func(c *Config) { c.Export.Format = "xlsx" }, "EXPORT_FORMAT"},
		{"redis without db", func(c *Config) { c.Redis.Enabled = true }, "REDIS_ENABLED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
