package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/threads-scraper/internal/models"
	"github.com/maltedev/threads-scraper/internal/parser"
	"github.com/maltedev/threads-scraper/internal/ratelimit"
)

type State int

const (
	StateInitial State = iota
	StateExtracting
	StateEvaluatingCutoff
	StateScrolling
	StateExhausted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateExtracting:
		return "extracting"
	case StateEvaluatingCutoff:
		return "evaluating_cutoff"
	case StateScrolling:
		return "scrolling"
	case StateExhausted:
		return "exhausted"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Controller drives the extract/evaluate/scroll loop over one session.
//
// A round snapshots the page, locates the embedded dataset and normalizes
// every payload in it. The loop stops when the oldest timestamp seen is older
// than the cutoff, when a scroll no longer grows the page, or after MaxRounds.
// Records without a timestamp never trigger the cutoff, so a feed without
// timestamps runs until it is exhausted or MaxRounds is hit.
type Controller struct {
	parser       parser.Parser
	pacer        ratelimit.RateLimiter
	opts         Options
	now          func() time.Time
	onTransition func(s *Session, from, to State)
	logger       *slog.Logger
}

func NewController(p parser.Parser, pacer ratelimit.RateLimiter, opts Options, logger *slog.Logger) *Controller {
	if opts.FeedSelector == "" {
		opts.FeedSelector = DefaultFeedSelector
	}
	if opts.Dedup == "" {
		opts.Dedup = DedupByKey
	}
	if opts.OldestScope == "" {
		opts.OldestScope = ScopeRound
	}
	if opts.SettlePoll <= 0 {
		opts.SettlePoll = 250 * time.Millisecond
	}
	if pacer == nil {
		pacer = ratelimit.NewPacer(time.Second, time.Second)
	}

	return &Controller{
		parser: p,
		pacer:  pacer,
		opts:   opts,
		now:    time.Now,
		logger: logger.With("component", "pagination"),
	}
}

// OnTransition registers a hook called on every state change.
func (c *Controller) OnTransition(fn func(s *Session, from, to State)) {
	c.onTransition = fn
}

func (c *Controller) Run(ctx context.Context, s *Session) (*models.ScrapeResult, error) {
	var reason models.StopReason

loop:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.transition(s, StateExtracting)
		s.Rounds++

		round, err := c.extract(ctx, s.Driver)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", s.Rounds, err)
		}
		added := s.collect(round, c.opts.Dedup)

		c.transition(s, StateEvaluatingCutoff)
		oldest := s.observe(round, c.opts.OldestScope)

		c.logger.Debug("round extracted",
			"session_id", s.ID,
			"round", s.Rounds,
			"records", len(round),
			"new", added,
			"total", len(s.Records),
		)

		if oldest != nil && *oldest < c.now().Unix()-s.CutoffSeconds {
			reason = models.StopCutoff
			break loop
		}

		if c.opts.MaxRounds > 0 && s.Rounds >= c.opts.MaxRounds {
			reason = models.StopMaxRounds
			break loop
		}

		c.transition(s, StateScrolling)
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		grew, err := c.scroll(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", s.Rounds, err)
		}
		if !grew {
			c.transition(s, StateExhausted)
			reason = models.StopExhausted
			break loop
		}
	}

	c.transition(s, StateDone)

	c.logger.Info("pagination finished",
		"session_id", s.ID,
		"url", s.URL,
		"rounds", s.Rounds,
		"records", len(s.Records),
		"reason", reason,
	)

	return &models.ScrapeResult{
		SessionID:         s.ID,
		URL:               s.URL,
		CutoffDays:        s.CutoffDays,
		Records:           s.Records,
		Rounds:            s.Rounds,
		StopReason:        reason,
		OldestPublishedOn: s.Oldest,
		StartedAt:         s.StartedAt,
		FinishedAt:        c.now(),
	}, nil
}

func (c *Controller) extract(ctx context.Context, d PageDriver) ([]*models.PostRecord, error) {
	html, err := d.Content(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := c.parser.ExtractScriptBlobs(html)
	if err != nil {
		return nil, err
	}

	payloads, err := c.parser.FindDataset(blobs)
	if err != nil {
		return nil, err
	}

	records := make([]*models.PostRecord, 0, len(payloads))
	for i, payload := range payloads {
		rec, err := c.parser.ParsePost(payload)
		if err != nil {
			if c.opts.SkipMalformed && errors.Is(err, parser.ErrMalformedPayload) {
				c.logger.Warn("skipping malformed payload", "index", i, "error", err)
				continue
			}
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// scroll scrolls by the current page height and reports whether the page
// grew.
func (c *Controller) scroll(ctx context.Context, s *Session) (bool, error) {
	before, err := pageHeight(ctx, s.Driver)
	if err != nil {
		return false, err
	}

	if err := s.Driver.ScrollBy(ctx, before); err != nil {
		return false, err
	}

	if err := s.Driver.WaitForSelector(ctx, c.opts.FeedSelector); err != nil {
		return false, err
	}

	after, err := c.waitForGrowth(ctx, s.Driver, before)
	if err != nil {
		return false, err
	}

	s.LastHeight = after
	return after != before, nil
}

func (c *Controller) waitForGrowth(ctx context.Context, d PageDriver, before int) (int, error) {
	after, err := pageHeight(ctx, d)
	if err != nil || after != before || c.opts.SettleTimeout <= 0 {
		return after, err
	}

	deadline := time.NewTimer(c.opts.SettleTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.SettlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return after, nil
		case <-ticker.C:
			after, err = pageHeight(ctx, d)
			if err != nil {
				return 0, err
			}
			if after != before {
				return after, nil
			}
		}
	}
}

func (c *Controller) transition(s *Session, to State) {
	from := s.State
	s.State = to
	if c.onTransition != nil {
		c.onTransition(s, from, to)
	}
}
