package location

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

const schema = `
CREATE TABLE IF NOT EXISTS locations (
	tree       TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store keeps the latest location of each tree. Writes replace; there is no
// history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (creating if needed) the sqlite database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open location store: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init location store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Replace stores loc as the current location of tree.
func (s *Store) Replace(ctx context.Context, tree string, loc Location) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (tree, query, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(tree) DO UPDATE SET query = excluded.query, updated_at = excluded.updated_at`,
		tree, loc.String(), s.now().Unix())
	if err != nil {
		return fmt.Errorf("replace location of %s: %w", tree, err)
	}
	return nil
}

// Load returns the stored location of tree, or an empty Location when none
// was stored.
func (s *Store) Load(ctx context.Context, tree string) (Location, error) {
	var query string
	err := s.db.QueryRowContext(ctx, `SELECT query FROM locations WHERE tree = ?`, tree).Scan(&query)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, nil
	}
	if err != nil {
		return Location{}, fmt.Errorf("load location of %s: %w", tree, err)
	}
	return Parse(query)
}

// UpdatedAt returns when tree's location was last replaced.
func (s *Store) UpdatedAt(ctx context.Context, tree string) (time.Time, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM locations WHERE tree = ?`, tree).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load location of %s: %w", tree, err)
	}
	return time.Unix(ts, 0), true, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
