package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

// StarboardStorage keeps per-message reaction tallies and starboard post state.
// A tally is the set of (reactor, emoji) rows of a message.
type StarboardStorage struct {
	db *sqlx.DB
}

func NewStarboardStorage(db *sqlx.DB) *StarboardStorage {
	return &StarboardStorage{db: db}
}

// AddReaction records a reaction and reports whether it was new.
func (s *StarboardStorage) AddReaction(ctx context.Context, messageID, reactorID, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO starboard_reaction (message_id, reactor_id, emoji)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`), messageID, reactorID, emoji)
	if err != nil {
		return false, fmt.Errorf("%w: add reaction to %s: %w", ErrPersistence, messageID, err)
	}

	return affected(res, messageID)
}

// RemoveReaction deletes a reaction and reports whether it existed.
func (s *StarboardStorage) RemoveReaction(ctx context.Context, messageID, reactorID, emoji string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM starboard_reaction
		WHERE message_id = ? AND reactor_id = ? AND emoji = ?
	`), messageID, reactorID, emoji)
	if err != nil {
		return false, fmt.Errorf("%w: remove reaction from %s: %w", ErrPersistence, messageID, err)
	}

	return affected(res, messageID)
}

func (s *StarboardStorage) ClearReactions(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM starboard_reaction WHERE message_id = ?`,
	), messageID); err != nil {
		return fmt.Errorf("%w: clear reactions of %s: %w", ErrPersistence, messageID, err)
	}
	return nil
}

// CountReactors returns the number of distinct reactors of a message.
func (s *StarboardStorage) CountReactors(ctx context.Context, messageID string) (int, error) {
	var count int

	if err := s.db.GetContext(ctx, &count, s.db.Rebind(
		`SELECT COUNT(DISTINCT reactor_id) FROM starboard_reaction WHERE message_id = ?`,
	), messageID); err != nil {
		return 0, fmt.Errorf("%w: count reactors of %s: %w", ErrPersistence, messageID, err)
	}

	return count, nil
}

// Entry returns the starboard state of a message, or nil if it was never posted.
func (s *StarboardStorage) Entry(ctx context.Context, messageID string) (*model.StarboardEntry, error) {
	var entry model.StarboardEntry

	err := s.db.GetContext(ctx, &entry, s.db.Rebind(
		`SELECT message_id, starboard_id, posted FROM starboard WHERE message_id = ?`,
	), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select starboard entry of %s: %w", ErrPersistence, messageID, err)
	}

	return &entry, nil
}

// ClaimPost marks a message as posted. It returns false if the message was
// already claimed, which makes posting one-shot.
func (s *StarboardStorage) ClaimPost(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO starboard (message_id, posted)
		VALUES (?, 1)
		ON CONFLICT (message_id) DO NOTHING
	`), messageID)
	if err != nil {
		return false, fmt.Errorf("%w: claim starboard post of %s: %w", ErrPersistence, messageID, err)
	}

	return affected(res, messageID)
}

func (s *StarboardStorage) SetStarboardMessage(ctx context.Context, messageID, starboardMessageID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE starboard SET starboard_id = ? WHERE message_id = ?`,
	), starboardMessageID, messageID); err != nil {
		return fmt.Errorf("%w: set starboard message of %s: %w", ErrPersistence, messageID, err)
	}
	return nil
}

func affected(res sql.Result, messageID string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected for %s: %w", ErrPersistence, messageID, err)
	}
	return n > 0, nil
}
