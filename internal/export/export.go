package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/maltedev/threads-scraper/internal/models"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Write renders records in the given format.
func Write(w io.Writer, format string, records []*models.PostRecord) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatJSON:
		return WriteJSON(w, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteFile writes records to path through a temp file and a rename, so a
// reader never sees a partial export.
func WriteFile(path, format string, records []*models.PostRecord) error {
	var buf bytes.Buffer
	if err := Write(&buf, format, records); err != nil {
		return err
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename %s: %w", tmpFile, err)
	}

	return nil
}

// FileSink writes every scrape result to its own file in dir.
type FileSink struct {
	dir    string
	format string
	logger *slog.Logger
}

func NewFileSink(dir, format string, logger *slog.Logger) (*FileSink, error) {
	if format != FormatCSV && format != FormatJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	return &FileSink{
		dir:    dir,
		format: format,
		logger: logger.With("component", "file_sink"),
	}, nil
}

func (s *FileSink) Save(ctx context.Context, result *models.ScrapeResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, FileName(result, s.format))
	if err := WriteFile(path, s.format, result.Records); err != nil {
		return err
	}

	s.logger.Info("saved export",
		"path", path,
		"records", len(result.Records),
		"session_id", result.SessionID,
	)

	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// FileName derives a stable file name from the scraped URL and start time,
// e.g. threads-someone-post-abc-20250601-120000.csv.
func FileName(result *models.ScrapeResult, format string) string {
	slug := "feed"
	if u, err := url.Parse(result.URL); err == nil {
		s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(u.Path+" "+u.RawQuery), "-"), "-")
		if s != "" {
			slug = s
		}
	}
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}

	return fmt.Sprintf("threads-%s-%s.%s", slug, result.StartedAt.UTC().Format("20060102-150405"), format)
}
