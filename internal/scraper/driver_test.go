package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// scriptedDriver replays a fixed sequence of page snapshots and heights.
// The last entry of each script repeats once the script runs out.
type scriptedDriver struct {
	mu       sync.Mutex
	pages    []string
	heights  []int
	contents int
	evals    int
	scrolls  []int
	waits    []string
	closed   bool
	evalErr  error
}

func (d *scriptedDriver) Navigate(ctx context.Context, url string) error {
	return ctx.Err()
}

func (d *scriptedDriver) WaitForSelector(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waits = append(d.waits, selector)
	return ctx.Err()
}

func (d *scriptedDriver) Content(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.contents
	if i >= len(d.pages) {
		i = len(d.pages) - 1
	}
	d.contents++
	return d.pages[i], nil
}

func (d *scriptedDriver) Evaluate(ctx context.Context, script string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.evalErr != nil {
		return nil, d.evalErr
	}
	i := d.evals
	if i >= len(d.heights) {
		i = len(d.heights) - 1
	}
	d.evals++
	return float64(d.heights[i]), nil
}

func (d *scriptedDriver) ScrollBy(ctx context.Context, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls = append(d.scrolls, height)
	return nil
}

func (d *scriptedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *scriptedDriver) scrollCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scrolls)
}

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockDriver) WaitForSelector(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *mockDriver) Content(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockDriver) Evaluate(ctx context.Context, script string) (interface{}, error) {
	args := m.Called(ctx, script)
	return args.Get(0), args.Error(1)
}

func (m *mockDriver) ScrollBy(ctx context.Context, height int) error {
	return m.Called(ctx, height).Error(0)
}

func (m *mockDriver) Close() error {
	return m.Called().Error(0)
}

type testPost struct {
	pk      string
	takenAt int64
}

// feedPage renders a page whose embedded dataset holds posts in the given
// order. A zero takenAt leaves the timestamp out.
func feedPage(posts ...testPost) string {
	items := make([]string, 0, len(posts))
	for _, p := range posts {
		taken := ""
		if p.takenAt != 0 {
			taken = fmt.Sprintf(`, "taken_at": %d`, p.takenAt)
		}
		items = append(items, fmt.Sprintf(
			`[{"post": {"pk": "%s", "code": "c%s", "user": {"username": "someone"}%s}}]`,
			p.pk, p.pk, taken,
		))
	}

	return `<html><body>
		<div data-pressable-container="true"></div>
		<script type="application/json" data-sjs>{"require": [["ScheduledServerJS", "handle", null, [{"result": {"data": {"edges": [` +
		strings.Join(wrapThreadItems(items), ",") +
		`]}}}]]]}</script>
	</body></html>`
}

func wrapThreadItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, `{"node": {"thread_items": `+it+`}}`)
	}
	return out
}

// postsAgedDays builds n posts, newest first, the oldest being days old.
func postsAgedDays(now time.Time, n int, days int, pkOffset int) []testPost {
	oldest := now.Add(-time.Duration(days) * 24 * time.Hour).Unix()
	posts := make([]testPost, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, testPost{
			pk:      fmt.Sprintf("%d", pkOffset+i),
			takenAt: oldest + int64(n-1-i)*60,
		})
	}
	return posts
}
