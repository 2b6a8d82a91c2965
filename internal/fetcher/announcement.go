package fetcher

import (
	"context"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/0x0BSoD/chess-bot/internal/model"
	"github.com/0x0BSoD/chess-bot/internal/notifier"
)

const (
	embedColor        = 15844367
	maxDescriptionLen = 4096
	maxTitleLen       = 256
	maxAuthorLen      = 256
)

var (
	lineBreaks        = regexp.MustCompile(`(?i)</p\s*>|<br\s*/?>`)
	redundantNewLines = regexp.MustCompile(`\n{3,}`)
)

type renderer struct {
	policy     *bluemonday.Policy
	summarizer Summarizer
	extractor  Extractor
}

func newRenderer(summarizer Summarizer, extractor Extractor) *renderer {
	return &renderer{
		policy:     bluemonday.StrictPolicy(),
		summarizer: summarizer,
		extractor:  extractor,
	}
}

func (r *renderer) render(ctx context.Context, entry model.FeedEntry) notifier.Message {
	return notifier.Message{
		Embed: &notifier.Embed{
			Title:       truncate(entry.Title, maxTitleLen),
			URL:         entry.Link,
			Description: r.description(ctx, entry),
			AuthorName:  truncate(strings.Join(entry.Authors, ", "), maxAuthorLen),
			Color:       embedColor,
			Timestamp:   entry.Published,
		},
	}
}

func (r *renderer) description(ctx context.Context, entry model.FeedEntry) string {
	text := r.cleanupText(entry.Content)

	if text == "" && r.extractor != nil && entry.Link != "" {
		extracted, err := r.extractor.Extract(ctx, entry.Link)
		if err != nil {
			slog.Warn("failed to extract linked page", "link", entry.Link, "err", err)
		} else {
			text = redundantNewLines.ReplaceAllString(extracted, "\n\n")
		}
	}

	if utf8.RuneCountInString(text) > maxDescriptionLen && r.summarizer != nil {
		summary, err := r.summarizer.Summarize(ctx, entry.Title, text, maxDescriptionLen)
		if err != nil {
			slog.Warn("failed to summarize announcement, truncating", "entry", entry.ID, "err", err)
		} else if summary != "" {
			text = summary
		}
	}

	return truncate(text, maxDescriptionLen)
}

// cleanupText turns an HTML fragment into plain text, keeping paragraph breaks.
func (r *renderer) cleanupText(body string) string {
	text := lineBreaks.ReplaceAllString(body, "\n")
	text = html.UnescapeString(r.policy.Sanitize(text))
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = redundantNewLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
