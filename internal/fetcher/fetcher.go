// Package fetcher polls announcement feeds on a fixed interval and posts the
// entries newer than each feed's stored watermark.
package fetcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/0x0BSoD/chess-bot/internal/model"
	"github.com/0x0BSoD/chess-bot/internal/notifier"
)

const defaultConcurrency = 4

type FeedStorage interface {
	Watermark(ctx context.Context, feedID string) (*model.FeedRecord, error)
	AdvanceWatermark(ctx context.Context, feedID string, lastUpdated int64) error
}

type Source interface {
	Fetch(ctx context.Context, url string) ([]model.FeedEntry, error)
}

type Notifier interface {
	PostMessage(ctx context.Context, channelID string, msg notifier.Message) (string, error)
}

// Summarizer shortens text to at most maxRunes runes or returns an error.
type Summarizer interface {
	Summarize(ctx context.Context, title, text string, maxRunes int) (string, error)
}

type Extractor interface {
	Extract(ctx context.Context, link string) (string, error)
}

type Reporter interface {
	Notify(msg string)
}

type Fetcher struct {
	feeds    FeedStorage
	source   Source
	notifier Notifier
	targets  []model.FeedTarget

	fetchInterval time.Duration
	concurrency   int
	skipBacklog   bool

	summarizer Summarizer
	extractor  Extractor
	reporter   Reporter
	renderer   *renderer

	running      atomic.Bool
	skippedTicks atomic.Int64
	now          func() time.Time
}

type Option func(*Fetcher)

// WithSkipBacklog makes the first poll of an unseen feed record its newest
// entry as the watermark without posting anything.
func WithSkipBacklog(skip bool) Option {
	return func(f *Fetcher) { f.skipBacklog = skip }
}

func WithSummarizer(s Summarizer) Option {
	return func(f *Fetcher) { f.summarizer = s }
}

func WithExtractor(e Extractor) Option {
	return func(f *Fetcher) { f.extractor = e }
}

func WithReporter(r Reporter) Option {
	return func(f *Fetcher) { f.reporter = r }
}

func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

func New(
	feeds FeedStorage,
	source Source,
	notifier Notifier,
	targets []model.FeedTarget,
	fetchInterval time.Duration,
	opts ...Option,
) *Fetcher {
	f := &Fetcher{
		feeds:         feeds,
		source:        source,
		notifier:      notifier,
		targets:       targets,
		fetchInterval: fetchInterval,
		concurrency:   defaultConcurrency,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.renderer = newRenderer(f.summarizer, f.extractor)
	return f
}

// Start polls immediately and then on every tick until ctx is done. A tick
// that fires while a cycle is still running is dropped.
func (f *Fetcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(f.fetchInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	f.tick(ctx, &wg)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.tick(ctx, &wg)
		}
	}
}

// SkippedTicks returns how many ticks were dropped because a cycle was in flight.
func (f *Fetcher) SkippedTicks() int64 {
	return f.skippedTicks.Load()
}

func (f *Fetcher) tick(ctx context.Context, wg *sync.WaitGroup) {
	if !f.running.CompareAndSwap(false, true) {
		f.skippedTicks.Add(1)
		slog.Warn("previous poll cycle still running, skipping tick")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer f.running.Store(false)

		if err := f.PollAll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("poll cycle failed", "err", err)
			f.report(fmt.Sprintf("announcement poll failed: %v", err))
		}
	}()
}

type feedGroup struct {
	url     string
	targets []model.FeedTarget
}

// groupByURL merges targets that share a URL so each feed is fetched once
// per cycle and its watermark row has a single writer.
func groupByURL(targets []model.FeedTarget) []feedGroup {
	grouped := lo.GroupBy(targets, func(t model.FeedTarget) string { return t.URL })

	return lo.Map(lo.Uniq(lo.Map(targets, func(t model.FeedTarget, _ int) string { return t.URL })),
		func(url string, _ int) feedGroup {
			return feedGroup{url: url, targets: grouped[url]}
		})
}

// PollAll runs one poll cycle over every configured feed. Fetch failures are
// logged and skipped; persistence failures are collected and returned.
func (f *Fetcher) PollAll(ctx context.Context) error {
	groups := groupByURL(f.targets)
	if len(groups) == 0 {
		return nil
	}

	slog.Debug("checking for new announcements", "feeds", len(groups))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(f.concurrency)

	for _, group := range groups {
		g.Go(func() error {
			if err := f.pollFeed(ctx, group); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (f *Fetcher) pollFeed(ctx context.Context, group feedGroup) error {
	entries, err := f.source.Fetch(ctx, group.url)
	if err != nil {
		slog.Error("failed to fetch feed, retrying next cycle", "feed", group.url, "err", err)
		return nil
	}

	record, err := f.feeds.Watermark(ctx, group.url)
	if err != nil {
		return err
	}

	fresh := NewEntries(record, entries)

	if record == nil && f.skipBacklog {
		watermark := f.now().UnixMilli()
		if len(fresh) > 0 {
			watermark = fresh[len(fresh)-1].Millis()
		}
		slog.Info("first poll of feed, recording watermark without posting", "feed", group.url, "entries", len(fresh))
		return f.feeds.AdvanceWatermark(ctx, group.url, watermark)
	}

	if len(fresh) == 0 {
		if record == nil {
			// Zero keeps every later entry new while marking the feed as seen.
			return f.feeds.AdvanceWatermark(ctx, group.url, 0)
		}
		return nil
	}

	for _, entry := range fresh {
		slog.Info("new announcement", "feed", group.url, "title", lo.CoalesceOrEmpty(entry.Title, entry.ID), "published", entry.Published)

		msg := f.renderer.render(ctx, entry)
		for _, target := range group.targets {
			msg.RoleID = target.RoleID
			if _, err := f.notifier.PostMessage(ctx, target.ChannelID, msg); err != nil {
				slog.Error("failed to post announcement", "feed", group.url, "channel", target.ChannelID, "entry", entry.ID, "err", err)
			}
		}
	}

	return f.feeds.AdvanceWatermark(ctx, group.url, fresh[len(fresh)-1].Millis())
}

// NewEntries returns the entries strictly newer than the watermark (all
// entries when record is nil), deduplicated and ordered oldest first.
func NewEntries(record *model.FeedRecord, entries []model.FeedEntry) []model.FeedEntry {
	newer := lo.Filter(entries, func(e model.FeedEntry, _ int) bool {
		return record == nil || e.Millis() > record.LastUpdated
	})

	latest := make(map[string]model.FeedEntry, len(newer))
	order := make([]string, 0, len(newer))
	for _, e := range newer {
		key := entryKey(e)
		prev, seen := latest[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || e.Published.After(prev.Published) {
			latest[key] = e
		}
	}

	fresh := lo.Map(order, func(key string, _ int) model.FeedEntry { return latest[key] })
	slices.SortStableFunc(fresh, func(a, b model.FeedEntry) int {
		return cmp.Compare(a.Millis(), b.Millis())
	})

	return fresh
}

// entryKey identifies an entry within one fetch. RSS items may carry no
// guid, link or title; those are keyed on timestamp and body instead, so
// only exact repeats collapse.
func entryKey(e model.FeedEntry) string {
	if e.ID != "" {
		return "id\x00" + e.ID
	}
	return fmt.Sprintf("anon\x00%d\x00%s\x00%s", e.Millis(), e.Title, e.Content)
}

func (f *Fetcher) report(msg string) {
	if f.reporter != nil {
		f.reporter.Notify(msg)
	}
}
