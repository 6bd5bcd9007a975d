// Package gridcache persists callsign to grid square mappings in SQLite so
// QRZ lookups survive restarts. A row with an empty grid is a negative cache
// entry: the callsign was looked up and had no grid on file, so it is not
// worth asking again.
package gridcache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"gtbridge/sqliteutil"
)

// Store is a single-connection SQLite store. Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open runs the preflight check and opens (or creates) the grid database.
func Open(path string) (*Store, error) {
	if _, err := sqliteutil.Preflight(path, "grid", 2*time.Second, nil); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("gridcache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("pragma busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("gridcache: busy_timeout: %w", err)
	}
	if _, err := db.Exec(`create table if not exists grids (
		callsign text primary key,
		grid     text not null,
		updated  integer not null
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("gridcache: create table: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Get returns the cached grid for a callsign. found is true even for
// negative entries; those return an empty grid.
func (s *Store) Get(callsign string) (grid string, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.QueryRow("select grid from grids where callsign = ?", callsign).Scan(&grid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("gridcache: get %s: %w", callsign, err)
	}
	return grid, true, nil
}

// Put stores or replaces the grid for a callsign. An empty grid records a
// negative entry.
func (s *Store) Put(callsign, grid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"insert into grids (callsign, grid, updated) values (?, ?, ?) on conflict(callsign) do update set grid = excluded.grid, updated = excluded.updated",
		callsign, grid, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("gridcache: put %s: %w", callsign, err)
	}
	return nil
}

// Count returns the number of stored mappings, negative entries included.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRow("select count(*) from grids").Scan(&n); err != nil {
		return 0, fmt.Errorf("gridcache: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
