package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/threads-scraper/internal/config"
	"github.com/maltedev/threads-scraper/pkg/logger"
)

var (
	version = "dev"

	// Global flags
	logLevel  string
	logFormat string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "threads-scraper",
	Short: "Scrape Threads feeds back to a cutoff age",
	Long: `threads-scraper loads a Threads feed in a headless browser, reads the posts
embedded in the page and keeps scrolling until posts older than the cutoff
show up or the feed runs out.

Configuration comes from the environment and an optional .env file. Flags
override the matching environment values.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("log-level") {
			loaded.Logging.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Logging.Format = logFormat
		}

		cfg = loaded
		log = logger.New(cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(log)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
