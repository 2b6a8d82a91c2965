package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
)

// Extractor pulls the readable text of an entry's linked page. It is used
// for entries that ship without content.
type Extractor struct {
	client *http.Client
}

func NewExtractor(client *http.Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Extract(ctx context.Context, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: parse link %q: %w", ErrFetch, link, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, link, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetch, link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: link, Code: resp.StatusCode}
	}

	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: readability %s: %w", ErrMalformed, link, err)
	}

	return strings.TrimSpace(article.TextContent), nil
}
