// Package summary shortens announcement bodies that exceed the embed limit
// with an LLM.
package summary

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrTooLong means the model ignored the length limit. Callers truncate
	// the original text instead.
	ErrTooLong = errors.New("summary exceeds limit")
	ErrEmpty   = errors.New("empty summary")
)

// announcementPrompt builds the user message for one announcement.
func announcementPrompt(title, text string, maxRunes int) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Announcement: %s\n", title)
	}
	fmt.Fprintf(&b, "Reply in plain text, at most %d characters. Keep dates, deadlines and room numbers.\n\n", maxRunes)
	b.WriteString(text)
	return b.String()
}

// tokenBudget caps generation near maxRunes characters, assuming about
// three characters per token.
func tokenBudget(maxRunes int) int {
	return maxRunes/3 + 1
}

func checkLength(summary string, maxRunes int) (string, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(summary); n > maxRunes {
		return "", fmt.Errorf("%w: %d runes, limit %d", ErrTooLong, n, maxRunes)
	}
	return summary, nil
}
