package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/0x0BSoD/chess-bot/internal/model"
)

type FeedStorage struct {
	db *sqlx.DB
}

func NewFeedStorage(db *sqlx.DB) *FeedStorage {
	return &FeedStorage{db: db}
}

// Watermark returns the stored record of a feed, or nil if the feed was never polled.
func (s *FeedStorage) Watermark(ctx context.Context, feedID string) (*model.FeedRecord, error) {
	var record model.FeedRecord

	err := s.db.GetContext(ctx, &record, s.db.Rebind(
		`SELECT id, last_updated_time FROM announcement_feed WHERE id = ?`,
	), feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select watermark of %s: %w", ErrPersistence, feedID, err)
	}

	return &record, nil
}

// AdvanceWatermark stores lastUpdated for the feed unless the stored value is
// already newer, so a watermark never moves backwards.
func (s *FeedStorage) AdvanceWatermark(ctx context.Context, feedID string, lastUpdated int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO announcement_feed (id, last_updated_time)
		VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE
		SET last_updated_time = excluded.last_updated_time
		WHERE excluded.last_updated_time > announcement_feed.last_updated_time
	`), feedID, lastUpdated)
	if err != nil {
		return fmt.Errorf("%w: advance watermark of %s: %w", ErrPersistence, feedID, err)
	}

	return nil
}

func (s *FeedStorage) List(ctx context.Context) ([]model.FeedRecord, error) {
	var records []model.FeedRecord

	if err := s.db.SelectContext(ctx, &records,
		`SELECT id, last_updated_time FROM announcement_feed ORDER BY id`,
	); err != nil {
		return nil, fmt.Errorf("%w: list feeds: %w", ErrPersistence, err)
	}

	return records, nil
}
