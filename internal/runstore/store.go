package runstore

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides durable storage for orchestration runs.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db   *sql.DB
	path string // resolved registry key
	refs int
}

// registry holds the one live Store per resolved database path in this
// process. SQLite allows a single writer; sharing the handle by reference
// keeps every component on the same connection.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*Store)
)

// Open creates or opens the database at path, applying pragmas and
// migrations. Repeated opens of the same resolved path return the same
// shared handle; each Open must be paired with one Close.
func Open(path string) (*Store, error) {
	key, err := resolveKey(path)
	if err != nil {
		return nil, err
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if s, ok := registry[key]; ok {
		s.refs++
		return s, nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY from within the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := migrate(db, path); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: key, refs: 1}
	registry[key] = s
	return s, nil
}

// Close releases one reference; the underlying connection closes when the
// last reference goes.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(registry, s.path)
	return s.db.Close()
}

// DB exposes the underlying handle for read-only diagnostics. Prefer Store
// methods for anything that writes.
func (s *Store) DB() *sql.DB {
	return s.db
}

// resolveKey canonicalizes the registry key so two spellings of the same
// file share one handle. The file may not exist yet; fall back to the
// cleaned absolute path.
func resolveKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
