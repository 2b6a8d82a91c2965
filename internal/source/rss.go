package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SlyMarbo/rss"
	"github.com/samber/lo"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

// contextTransport injects a context into every outgoing request so that
// context cancellation and deadlines propagate through the rss library. It
// also remembers transport failures and non-2xx responses, which the library
// does not report in a distinguishable way.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper

	mu     sync.Mutex
	failed error
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		t.fail(fmt.Errorf("%w: %s: %w", ErrFetch, req.URL, err))
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: req.URL.String(), Code: resp.StatusCode}
		resp.Body.Close()
		t.fail(statusErr)
		return nil, statusErr
	}
	return resp, nil
}

func (t *contextTransport) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = err
}

func (t *contextTransport) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// RSSSource parses feeds with SlyMarbo/rss. It has no author information.
type RSSSource struct {
	timeout time.Duration
	base    http.RoundTripper
}

func NewRSSSource(timeout time.Duration) *RSSSource {
	return &RSSSource{timeout: timeout, base: http.DefaultTransport}
}

func (s *RSSSource) Fetch(ctx context.Context, url string) ([]model.FeedEntry, error) {
	transport := &contextTransport{ctx: ctx, base: s.base}
	client := &http.Client{
		Transport: transport,
		Timeout:   s.timeout,
	}

	feed, err := rss.FetchByClient(url, client)
	if err != nil {
		if fetchErr := transport.err(); fetchErr != nil {
			return nil, fetchErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, url, err)
	}

	return lo.FilterMap(feed.Items, func(item *rss.Item, _ int) (model.FeedEntry, bool) {
		if item.Date.IsZero() {
			return model.FeedEntry{}, false
		}
		return model.FeedEntry{
			ID:        lo.CoalesceOrEmpty(item.ID, item.Link, item.Title),
			Title:     strings.TrimSpace(item.Title),
			Link:      item.Link,
			Content:   itemText(item),
			Published: item.Date.UTC(),
		}, true
	}), nil
}

// itemText returns the richest available text for an item.
// Content (full body) is preferred over Summary (short excerpt).
func itemText(item *rss.Item) string {
	if c := strings.TrimSpace(item.Content); c != "" {
		return c
	}
	return strings.TrimSpace(item.Summary)
}
