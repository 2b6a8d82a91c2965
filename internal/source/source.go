// Package source fetches announcement feeds and converts their items to model.FeedEntry.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

var (
	// ErrFetch is a transient failure: network error, timeout or non-2xx status.
	ErrFetch = errors.New("feed fetch failed")
	// ErrMalformed means the body could not be parsed as a feed.
	ErrMalformed = errors.New("malformed feed")
)

const defaultTimeout = 30 * time.Second

type Source interface {
	Fetch(ctx context.Context, url string) ([]model.FeedEntry, error)
}

// New returns the source for the named parser: "rss" or "gofeed".
func New(parser string, timeout time.Duration) Source {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	switch parser {
	case "rss":
		return NewRSSSource(timeout)
	default:
		return NewGofeedSource(&http.Client{Timeout: timeout})
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrFetch
}
