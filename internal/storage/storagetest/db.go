// Package storagetest provides in-memory databases for tests.
package storagetest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/0x0BSoD/chess-bot/internal/storage"
)

var dbSeq atomic.Int64

// NewTestDB opens a private in-memory SQLite database with the schema applied.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("sqlite:file:testdb_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := storage.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
