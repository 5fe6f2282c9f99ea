package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DedupNone = "none"
	DedupByID = "id"

	ScopeRound   = "round"
	ScopeSession = "session"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Export   ExportConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Workers         int
	QueueSize       int
	CORSOrigins     []string
}

type ScraperConfig struct {
	CutoffDays      int
	PaceMin         time.Duration
	PaceMax         time.Duration
	Dedup           string
	OldestScope     string
	MaxRounds       int
	SkipMalformed   bool
	ConcurrentLimit int
	FeedSelector    string
	SettleTimeout   time.Duration
	URLs            []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Locale         string
	TimezoneID     string
	ProxyServer    string
}

type ExportConfig struct {
	Format    string
	Directory string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int32
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	Stream       string
	StreamMaxLen int64
	PollInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; real environment variables win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Workers:         getIntOrDefault("SERVER_WORKERS", 2),
			QueueSize:       getIntOrDefault("SERVER_QUEUE_SIZE", 100),
			CORSOrigins:     getStringSliceOrDefault("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			CutoffDays:      getIntOrDefault("SCRAPER_CUTOFF_DAYS", 30),
			PaceMin:         getDurationOrDefault("SCRAPER_PACE_MIN", time.Second),
			PaceMax:         getDurationOrDefault("SCRAPER_PACE_MAX", time.Second),
			Dedup:           getEnvOrDefault("SCRAPER_DEDUP", DedupByID),
			OldestScope:     getEnvOrDefault("SCRAPER_OLDEST_SCOPE", ScopeRound),
			MaxRounds:       getIntOrDefault("SCRAPER_MAX_ROUNDS", 0),
			SkipMalformed:   getBoolOrDefault("SCRAPER_SKIP_MALFORMED", false),
			ConcurrentLimit: getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 2),
			FeedSelector:    getEnvOrDefault("SCRAPER_FEED_SELECTOR", "[data-pressable-container=true]"),
			SettleTimeout:   getDurationOrDefault("SCRAPER_SETTLE_TIMEOUT", 3*time.Second),
			URLs:            getStringSliceOrDefault("SCRAPER_URLS", nil),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "UTC"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Export: ExportConfig{
			Format:    getEnvOrDefault("EXPORT_FORMAT", "csv"),
			Directory: getEnvOrDefault("EXPORT_DIR", "."),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "threads_scraper"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:      getBoolOrDefault("REDIS_ENABLED", false),
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:threads"),
			StreamMaxLen: int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
			PollInterval: getDurationOrDefault("REDIS_POLL_INTERVAL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.CutoffDays < 0 {
		return fmt.Errorf("SCRAPER_CUTOFF_DAYS cannot be negative")
	}

	if c.Scraper.PaceMin < 0 || c.Scraper.PaceMin > c.Scraper.PaceMax {
		return fmt.Errorf("SCRAPER_PACE_MIN must be between 0 and SCRAPER_PACE_MAX")
	}

	switch c.Scraper.Dedup {
	case DedupNone, DedupByID:
	default:
		return fmt.Errorf("SCRAPER_DEDUP must be %q or %q, got %q", DedupNone, DedupByID, c.Scraper.Dedup)
	}

	switch c.Scraper.OldestScope {
	case ScopeRound, ScopeSession:
	default:
		return fmt.Errorf("SCRAPER_OLDEST_SCOPE must be %q or %q, got %q", ScopeRound, ScopeSession, c.Scraper.OldestScope)
	}

	if c.Scraper.MaxRounds < 0 {
		return fmt.Errorf("SCRAPER_MAX_ROUNDS cannot be negative")
	}

	if c.Scraper.SettleTimeout < 0 {
		return fmt.Errorf("SCRAPER_SETTLE_TIMEOUT cannot be negative")
	}

	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Server.Workers < 1 {
		return fmt.Errorf("SERVER_WORKERS must be at least 1")
	}

	switch c.Export.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("EXPORT_FORMAT must be csv or json, got %q", c.Export.Format)
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED: events are relayed from the database outbox")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
