package icsfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	appLog "timemgr/internal/log"
	"timemgr/internal/model"
)

// Cache fetches the configured ICS sources, expands their events over
// a rolling horizon, and serves the result as busy intervals. It
// implements schedule.BusySource. Refresh is expected to run
// periodically (cron); reads never block on the network.
type Cache struct {
	client      *http.Client
	sources     []Source
	horizonDays int
	clock       func() time.Time

	mu        sync.RWMutex
	intervals []model.BusyInterval
}

// NewCache builds a cache over the given sources. horizonDays bounds
// how far into the future recurrences are expanded; a nil clock means
// time.Now.
func NewCache(sources []Source, horizonDays int, clock func() time.Time) *Cache {
	if horizonDays <= 0 {
		horizonDays = 30
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		client:      &http.Client{Timeout: 15 * time.Second},
		sources:     sources,
		horizonDays: horizonDays,
		clock:       clock,
	}
}

// Refresh fetches and re-expands every source. Per-source failures are
// logged and skipped so one dead feed does not wipe the others; the
// returned error aggregates them for the caller's log line.
func (c *Cache) Refresh(ctx context.Context) error {
	now := c.clock()
	rangeStart := now.AddDate(0, 0, -1)
	rangeEnd := now.AddDate(0, 0, c.horizonDays)

	var merged []model.BusyInterval
	var errs []error

	for _, src := range c.sources {
		body, err := c.fetch(ctx, src)
		if err != nil {
			appLog.Error("icsfeed: fetch failed", err, "id", src.ID)
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		events, err := parseFeed(src, body)
		if err != nil {
			appLog.Error("icsfeed: parse failed", err, "id", src.ID)
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		merged = append(merged, expandBusy(src, events, rangeStart, rangeEnd)...)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })

	c.mu.Lock()
	c.intervals = merged
	c.mu.Unlock()

	appLog.Info("icsfeed: refreshed",
		"sources", len(c.sources), "intervals", len(merged), "failed", len(errs))
	return errors.Join(errs...)
}

// BusyIntervals returns the cached intervals overlapping [start, end).
func (c *Cache) BusyIntervals(start, end time.Time) []model.BusyInterval {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.BusyInterval
	for _, iv := range c.intervals {
		if iv.Start.Before(end) && start.Before(iv.End) {
			out = append(out, iv)
		}
	}
	return out
}

func (c *Cache) fetch(ctx context.Context, src Source) ([]byte, error) {
	if src.URL == "" {
		return nil, errors.New("source URL is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(resp.Body)
}
