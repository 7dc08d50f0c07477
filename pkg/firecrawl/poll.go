package firecrawl

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 5 * time.Minute
)

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial time.Duration
	cap     time.Duration
	timeout time.Duration
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		initial: defaultPollInitial,
		cap:     defaultPollCap,
		timeout: defaultPollTimeout,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default timeout (applied only if the parent
// context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

func (c pollConfig) intervals() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.cap
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// PollBatchScrape polls GetBatchScrapeStatus until the batch completes, fails,
// or the context expires. The wait doubles from the initial interval up to
// the cap: 2s -> 4s -> 8s -> 15s by default.
func PollBatchScrape(ctx context.Context, client Client, id string, opts ...PollOption) (*BatchScrapeStatusResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	intervals := cfg.intervals()
	for {
		status, err := client.GetBatchScrapeStatus(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "firecrawl: poll batch scrape %s", id)
		}

		switch status.Status {
		case "completed":
			return status, nil
		case "failed", "cancelled":
			return nil, eris.Errorf("firecrawl: batch scrape %s %s", id, status.Status)
		}

		timer := time.NewTimer(intervals.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrapf(ctx.Err(), "firecrawl: poll batch scrape %s timed out", id)
		case <-timer.C:
		}
	}
}

// ScrapeAll starts a batch scrape for urls and waits for it to finish.
// Pages are returned in completion order; callers match them by Source.
func ScrapeAll(ctx context.Context, client Client, urls []string, opts ...PollOption) (*BatchScrapeStatusResponse, error) {
	if len(urls) == 0 {
		return &BatchScrapeStatusResponse{Status: "completed"}, nil
	}
	started, err := client.BatchScrape(ctx, BatchScrapeRequest{
		URLs:              urls,
		Formats:           []string{"markdown"},
		OnlyMainContent:   true,
		IgnoreInvalidURLs: true,
	})
	if err != nil {
		return nil, err
	}
	return PollBatchScrape(ctx, client, started.ID, opts...)
}
