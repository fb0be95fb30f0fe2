// Package imagestore keeps named runtime images in a SQLite database.
package imagestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/tagvm/vm"
	"github.com/chazu/tagvm/vm/image"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("tagvm.store")

// ErrNotFound indicates the requested image doesn't exist.
var ErrNotFound = errors.New("image not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data       BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS images_name_created ON images (name, created_at)`,
}

// Info describes a stored image without its contents.
type Info struct {
	ID      string
	Name    string
	Created time.Time
	Size    int
}

// Store is a SQLite-backed collection of snapshots.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens the database at path, creating the schema if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	log.Debugf("opened image store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores snap under name and returns its ID.
func (s *Store) Put(ctx context.Context, name string, snap *vm.Snapshot) (string, error) {
	data, err := image.Marshal(snap)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO images (id, name, created_at, data) VALUES (?, ?, ?, ?)",
		snap.ID, name, snap.Created, data,
	)
	if err != nil {
		return "", fmt.Errorf("saving image %s: %w", snap.ID, err)
	}
	log.Infof("stored image %s as %q (%d bytes)", snap.ID, name, len(data))
	return snap.ID, nil
}

// Get loads the image with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*vm.Snapshot, error) {
	return s.load(ctx, "SELECT data FROM images WHERE id = ?", id)
}

// Latest loads the most recently created image stored under name.
func (s *Store) Latest(ctx context.Context, name string) (*vm.Snapshot, error) {
	return s.load(ctx, "SELECT data FROM images WHERE name = ? ORDER BY created_at DESC LIMIT 1", name)
}

func (s *Store) load(ctx context.Context, query string, arg string) (*vm.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
		}
		return nil, fmt.Errorf("querying image: %w", err)
	}
	snap, err := image.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", arg, err)
	}
	return snap, nil
}

// List returns every stored image, oldest first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, length(data) FROM images ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var created int64
		if err := rows.Scan(&info.ID, &info.Name, &created, &info.Size); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		info.Created = time.Unix(0, created)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	return out, nil
}

// Delete removes the image with the given ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
