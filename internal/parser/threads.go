package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// ScriptSelector matches the inline JSON blobs the feed page ships its
	// server-side data in.
	ScriptSelector = `script[type="application/json"][data-sjs]`

	DefaultTargetKey = "thread_items"
	BaseURL          = "https://www.threads.net"
)

// DefaultMarkers must all be present in a blob before it is parsed.
var DefaultMarkers = []string{`"ScheduledServerJS"`, DefaultTargetKey}

type ThreadsParser struct {
	markers   []string
	targetKey string
	maxDepth  int
	fields    []compiledField
	logger    *slog.Logger
}

func NewThreadsParser() *ThreadsParser {
	return &ThreadsParser{
		markers:   DefaultMarkers,
		targetKey: DefaultTargetKey,
		maxDepth:  MaxSearchDepth,
		fields:    mustCompileFields(postFields),
		logger:    slog.Default().With("component", "threads_parser"),
	}
}

// ExtractScriptBlobs returns the text of every data-carrying script element
// in document order.
func (p *ThreadsParser) ExtractScriptBlobs(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var blobs []string
	doc.Find(ScriptSelector).Each(func(_ int, s *goquery.Selection) {
		blobs = append(blobs, s.Text())
	})

	return blobs, nil
}
