package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

const maxFeedSize = 10 << 20

const userAgent = "chess-bot/1.0 (+announcement poller)"

// GofeedSource parses RSS, Atom and JSON feeds with gofeed.
type GofeedSource struct {
	client *http.Client
}

func NewGofeedSource(client *http.Client) *GofeedSource {
	return &GofeedSource{client: client}
}

func (s *GofeedSource) Fetch(ctx context.Context, url string) ([]model.FeedEntry, error) {
	body, err := s.get(ctx, url)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, url, err)
	}

	return lo.FilterMap(feed.Items, func(item *gofeed.Item, _ int) (model.FeedEntry, bool) {
		published := itemTime(item)
		if published.IsZero() {
			return model.FeedEntry{}, false
		}

		return model.FeedEntry{
			ID:        lo.CoalesceOrEmpty(item.GUID, item.Link, item.Title),
			Title:     strings.TrimSpace(item.Title),
			Link:      itemLink(item),
			Authors:   itemAuthors(item),
			Content:   lo.CoalesceOrEmpty(strings.TrimSpace(item.Content), strings.TrimSpace(item.Description)),
			Published: published.UTC(),
		}, true
	}), nil
}

func (s *GofeedSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrFetch, url, err)
	}

	return body, nil
}

// itemTime prefers the update time, which Atom announcement feeds bump on edits.
func itemTime(item *gofeed.Item) time.Time {
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	return time.Time{}
}

func itemLink(item *gofeed.Item) string {
	if item.Link != "" {
		return item.Link
	}
	if len(item.Links) > 0 {
		return item.Links[0]
	}
	return ""
}

func itemAuthors(item *gofeed.Item) []string {
	authors := lo.FilterMap(item.Authors, func(p *gofeed.Person, _ int) (string, bool) {
		if p == nil || strings.TrimSpace(p.Name) == "" {
			return "", false
		}
		return strings.TrimSpace(p.Name), true
	})
	if len(authors) == 0 && item.Author != nil && item.Author.Name != "" {
		authors = []string{item.Author.Name}
	}
	return authors
}
