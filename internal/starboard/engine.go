//go:generate mockgen -source=$GOFILE -destination=mock/$GOFILE -package=mock

// Package starboard counts distinct reactors per message and posts a message
// to the starboard channel once that count first reaches the requirement.
//
// Every tally mutation goes through Engine.Run, a single consumer of a
// bounded event queue, so a message's reactor set has exactly one writer.
// A posted message stays posted: removals never retract it.
package starboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

const defaultQueueSize = 256

type Store interface {
	AddReaction(ctx context.Context, messageID, reactorID, emoji string) (bool, error)
	RemoveReaction(ctx context.Context, messageID, reactorID, emoji string) (bool, error)
	ClearReactions(ctx context.Context, messageID string) error
	CountReactors(ctx context.Context, messageID string) (int, error)
	Entry(ctx context.Context, messageID string) (*model.StarboardEntry, error)
	ClaimPost(ctx context.Context, messageID string) (bool, error)
	SetStarboardMessage(ctx context.Context, messageID, starboardMessageID string) error
}

// Publisher creates and edits starboard posts.
type Publisher interface {
	Publish(ctx context.Context, evt model.ReactionEvent, reactors int) (string, error)
	Update(ctx context.Context, starboardMessageID string, evt model.ReactionEvent, reactors int) error
}

type Reporter interface {
	Notify(msg string)
}

type Config struct {
	// Requirement is the number of distinct non-author reactors that makes a
	// message starboard material.
	Requirement int
	// GuildID restricts the engine to one server when set.
	GuildID string
	// Emoji restricts counting to one emoji when set.
	Emoji string
	// UpdatePosts edits an existing starboard post when its tally changes.
	UpdatePosts bool
	// MaxAge ignores reactions on messages older than this when positive.
	MaxAge time.Duration
}

type Engine struct {
	store     Store
	publisher Publisher
	cfg       Config
	reporter  Reporter

	events chan model.ReactionEvent
	now    func() time.Time
}

type Option func(*Engine)

func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.events = make(chan model.ReactionEvent, n)
		}
	}
}

func New(store Store, publisher Publisher, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		events:    make(chan model.ReactionEvent, defaultQueueSize),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit queues an event for Run. It blocks while the queue is full.
func (e *Engine) Submit(ctx context.Context, evt model.ReactionEvent) error {
	select {
	case e.events <- evt:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s reaction on %s: %w", evt.Kind, evt.MessageID, ctx.Err())
	}
}

// Run processes queued events one at a time until ctx is done. A failing
// event is logged and dropped; processing continues with the next one.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("starboard engine started", "requirement", e.cfg.Requirement)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-e.events:
			if err := e.Handle(ctx, evt); err != nil {
				slog.Error("failed to process reaction event", "kind", evt.Kind, "message_id", evt.MessageID, "err", err)
				e.report(fmt.Sprintf("starboard: %s reaction on %s failed: %v", evt.Kind, evt.MessageID, err))
			}
		}
	}
}

func (e *Engine) Handle(ctx context.Context, evt model.ReactionEvent) error {
	switch evt.Kind {
	case model.ReactionAdded:
		return e.HandleReactionAdded(ctx, evt)
	case model.ReactionRemoved:
		return e.HandleReactionRemoved(ctx, evt)
	case model.ReactionsCleared:
		return e.HandleReactionsCleared(ctx, evt)
	default:
		return fmt.Errorf("unknown reaction event kind %d", evt.Kind)
	}
}

func (e *Engine) HandleReactionAdded(ctx context.Context, evt model.ReactionEvent) error {
	if !e.inScope(evt) {
		return nil
	}
	if evt.ReactorID == evt.AuthorID {
		return nil
	}
	if e.cfg.MaxAge > 0 && !evt.MessageTime.IsZero() && e.now().Sub(evt.MessageTime) > e.cfg.MaxAge {
		slog.Debug("ignoring reaction on old message", "message_id", evt.MessageID, "message_time", evt.MessageTime)
		return nil
	}

	added, err := e.store.AddReaction(ctx, evt.MessageID, evt.ReactorID, evt.Emoji)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	count, err := e.store.CountReactors(ctx, evt.MessageID)
	if err != nil {
		return err
	}

	entry, err := e.store.Entry(ctx, evt.MessageID)
	if err != nil {
		return err
	}
	if entry != nil {
		return e.update(ctx, entry, evt, count)
	}

	if count < e.cfg.Requirement {
		slog.Debug("message below starboard requirement", "message_id", evt.MessageID, "reactors", count, "requirement", e.cfg.Requirement)
		return nil
	}

	claimed, err := e.store.ClaimPost(ctx, evt.MessageID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	starboardID, err := e.publisher.Publish(ctx, evt, count)
	if err != nil {
		// The claim stays: a missed post is preferred over a duplicate one.
		slog.Error("failed to create starboard post", "message_id", evt.MessageID, "err", err)
		return nil
	}

	slog.Info("message added to starboard", "message_id", evt.MessageID, "starboard_id", starboardID, "reactors", count)

	return e.store.SetStarboardMessage(ctx, evt.MessageID, starboardID)
}

func (e *Engine) HandleReactionRemoved(ctx context.Context, evt model.ReactionEvent) error {
	if !e.inScope(evt) {
		return nil
	}

	removed, err := e.store.RemoveReaction(ctx, evt.MessageID, evt.ReactorID, evt.Emoji)
	if err != nil {
		return err
	}
	if !removed || !e.cfg.UpdatePosts {
		return nil
	}

	entry, err := e.store.Entry(ctx, evt.MessageID)
	if err != nil || entry == nil {
		return err
	}

	count, err := e.store.CountReactors(ctx, evt.MessageID)
	if err != nil {
		return err
	}

	return e.update(ctx, entry, evt, count)
}

// HandleReactionsCleared drops the whole tally of a message. A starboard
// post made earlier is kept.
func (e *Engine) HandleReactionsCleared(ctx context.Context, evt model.ReactionEvent) error {
	if e.cfg.GuildID != "" && evt.GuildID != e.cfg.GuildID {
		return nil
	}
	return e.store.ClearReactions(ctx, evt.MessageID)
}

func (e *Engine) update(ctx context.Context, entry *model.StarboardEntry, evt model.ReactionEvent, count int) error {
	if !e.cfg.UpdatePosts || entry.StarboardMessageID == "" {
		return nil
	}
	if err := e.publisher.Update(ctx, entry.StarboardMessageID, evt, count); err != nil {
		slog.Warn("failed to update starboard post", "message_id", evt.MessageID, "starboard_id", entry.StarboardMessageID, "err", err)
	}
	return nil
}

func (e *Engine) inScope(evt model.ReactionEvent) bool {
	if e.cfg.GuildID != "" && evt.GuildID != e.cfg.GuildID {
		return false
	}
	if e.cfg.Emoji != "" && evt.Emoji != e.cfg.Emoji {
		return false
	}
	return true
}

func (e *Engine) report(msg string) {
	if e.reporter != nil {
		e.reporter.Notify(msg)
	}
}
