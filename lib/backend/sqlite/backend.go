package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tklessing/restate/lib/backend"

	_ "modernc.org/sqlite"
)

// backendImpl persists records in a single-table SQLite database. SQLite's
// single-writer model plus the backend's own mutex serialize concurrent
// writes to the same key, as the IBackend contract requires.
type backendImpl struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and if necessary initializes) a SQLite-backed store at path.
// Use ":memory:" for an in-memory database, or a file path for storage
// that survives process restarts.
func New(path string) (backend.IBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	b := &backendImpl{db: db}
	if err := b.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return b, nil
}

func (b *backendImpl) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// --------------------------------------------------------------------------
// Interface Methods (docu see backend/interface.go)
// --------------------------------------------------------------------------

func (b *backendImpl) Read(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var value []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT value FROM records WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select record: %w", err)
	}
	return value, true, nil
}

func (b *backendImpl) Write(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (b *backendImpl) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.db.ExecContext(ctx, "DELETE FROM records WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (b *backendImpl) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

func (b *backendImpl) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Close()
}
