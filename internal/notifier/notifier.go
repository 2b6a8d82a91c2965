// Package notifier delivers messages to chat channels with client-side rate
// limiting and a bounded number of retries.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ErrSend is returned when a message could not be delivered after all attempts.
var ErrSend = errors.New("send message")

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
)

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title         string
	URL           string
	Description   string
	AuthorName    string
	AuthorIconURL string
	ImageURL      string
	Color         int
	Timestamp     time.Time
	Fields        []EmbedField
}

// Message is a chat message. RoleID, when set, is mentioned at the start of
// the content and is the only mention the message may trigger.
type Message struct {
	Content string
	RoleID  string
	Embed   *Embed
}

// Transport performs the actual API calls of a chat platform.
type Transport interface {
	Send(ctx context.Context, channelID string, msg Message) (string, error)
	Edit(ctx context.Context, channelID, messageID string, msg Message) error
}

type Notifier struct {
	transport Transport
	limiter   *rate.Limiter
	attempts  int
	backoff   time.Duration
}

type Option func(*Notifier)

// WithRetry sets the number of attempts per call and the base delay between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.attempts = attempts
		}
		n.backoff = backoff
	}
}

// WithRateLimit limits outgoing calls to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(n *Notifier) {
		n.limiter = rate.NewLimiter(r, burst)
	}
}

func New(transport Transport, opts ...Option) *Notifier {
	n := &Notifier{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(5), 5),
		attempts:  defaultAttempts,
		backoff:   defaultBackoff,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// PostMessage sends msg to the channel and returns the ID of the created message.
func (n *Notifier) PostMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	var id string

	err := n.do(ctx, "post", channelID, func(ctx context.Context) error {
		var err error
		id, err = n.transport.Send(ctx, channelID, msg)
		return err
	})

	return id, err
}

func (n *Notifier) EditMessage(ctx context.Context, channelID, messageID string, msg Message) error {
	return n.do(ctx, "edit", channelID, func(ctx context.Context) error {
		return n.transport.Edit(ctx, channelID, messageID, msg)
	})
}

func (n *Notifier) do(ctx context.Context, op, channelID string, call func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= n.attempts; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s to %s: %w", ErrSend, op, channelID, err)
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}

		slog.Warn("chat call failed", "op", op, "channel", channelID, "attempt", attempt, "err", lastErr)

		if attempt == n.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s to %s: %w", ErrSend, op, channelID, ctx.Err())
		case <-time.After(time.Duration(attempt) * n.backoff):
		}
	}

	return fmt.Errorf("%w: %s to %s after %d attempts: %w", ErrSend, op, channelID, n.attempts, lastErr)
}

// MentionContent prefixes content with the role mention of msg, if any.
func MentionContent(msg Message) string {
	if msg.RoleID == "" {
		return msg.Content
	}
	if msg.Content == "" {
		return "<@&" + msg.RoleID + ">"
	}
	return "<@&" + msg.RoleID + "> " + msg.Content
}
