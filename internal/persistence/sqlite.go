package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSnapshotStore keeps snapshots in a local SQLite file. Used in dev
// mode and as a node-local fallback when Postgres is slow to come up.
type SQLiteSnapshotStore struct {
	db   *sql.DB
	keep int
}

// OpenSQLiteSnapshotStore opens (creating if needed) the database at path.
// Only the newest keep snapshots are retained; keep <= 0 keeps all.
func OpenSQLiteSnapshotStore(path string, keep int) (*SQLiteSnapshotStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSnapshotStore{db: db, keep: keep}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSnapshotStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS snapshots (
  sequence   INTEGER PRIMARY KEY,
  state_hash BLOB NOT NULL,
  data       BLOB NOT NULL,
  size_bytes INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);`)
	return err
}

func (s *SQLiteSnapshotStore) Close() error { return s.db.Close() }

// SaveSnapshot writes the snapshot and prunes old ones.
func (s *SQLiteSnapshotStore) SaveSnapshot(ctx context.Context, sequence int64, stateHash [32]byte, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (sequence, state_hash, data, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		sequence, stateHash[:], data, len(data), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if s.keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE sequence NOT IN (SELECT sequence FROM snapshots ORDER BY sequence DESC LIMIT ?)`,
			s.keep,
		); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}
	return tx.Commit()
}

// LatestSnapshot returns the newest snapshot, or nil when the store is empty.
func (s *SQLiteSnapshotStore) LatestSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots ORDER BY sequence DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

// Count returns how many snapshots are stored.
func (s *SQLiteSnapshotStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}
