package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"seedmix/internal/core"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS run_playlists (
	run_key     TEXT PRIMARY KEY,
	playlist_id TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS run_commits (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run_key  TEXT NOT NULL,
	seed_id  TEXT NOT NULL,
	uri      TEXT NOT NULL,
	title    TEXT NOT NULL,
	UNIQUE (run_key, uri)
);
CREATE INDEX IF NOT EXISTS idx_run_commits_run_key ON run_commits (run_key);
`

// SQLiteLedger persists run playlists and commits so retried runs survive restarts.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens the database at path and creates the schema.
// The path can be ":memory:" for an in-memory ledger.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	if err := migrateRunPlaylists(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteLedger{db: db}, nil
}

// migrateRunPlaylists adds the playlist metadata columns to ledgers created
// when run_playlists only held the playlist ID.
func migrateRunPlaylists(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(run_playlists)`)
	if err != nil {
		return fmt.Errorf("failed to inspect ledger schema: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect ledger schema: %w", err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect ledger schema: %w", err)
	}

	for _, column := range []string{"name", "description", "url"} {
		if existing[column] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE run_playlists ADD COLUMN %s TEXT NOT NULL DEFAULT ''`, column)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to add run_playlists.%s: %w", column, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Ping checks the database connection.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *SQLiteLedger) PlaylistFor(ctx context.Context, runKey string) (core.RunPlaylist, bool, error) {
	var pl core.RunPlaylist
	err := l.db.QueryRowContext(ctx,
		`SELECT playlist_id, name, description, url FROM run_playlists WHERE run_key = ?`, runKey).
		Scan(&pl.ID, &pl.Name, &pl.Description, &pl.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RunPlaylist{}, false, nil
	}
	if err != nil {
		return core.RunPlaylist{}, false, fmt.Errorf("failed to query run playlist: %w", err)
	}
	return pl, true, nil
}

func (l *SQLiteLedger) RecordPlaylist(ctx context.Context, runKey string, playlist core.RunPlaylist) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_playlists (run_key, playlist_id, name, description, url) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_key) DO UPDATE SET
		   playlist_id = excluded.playlist_id,
		   name = excluded.name,
		   description = excluded.description,
		   url = excluded.url`,
		runKey, playlist.ID, playlist.Name, playlist.Description, playlist.URL)
	if err != nil {
		return fmt.Errorf("failed to record run playlist: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) CommittedTracks(ctx context.Context, runKey string) ([]core.CommittedTrack, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT seed_id, uri, title FROM run_commits WHERE run_key = ? ORDER BY id`, runKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query commits: %w", err)
	}
	defer rows.Close()

	var tracks []core.CommittedTrack
	for rows.Next() {
		var t core.CommittedTrack
		if err := rows.Scan(&t.SeedID, &t.URI, &t.Title); err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commits: %w", err)
	}
	return tracks, nil
}

func (l *SQLiteLedger) RecordCommit(ctx context.Context, runKey string, track core.CommittedTrack) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_commits (run_key, seed_id, uri, title) VALUES (?, ?, ?, ?)`,
		runKey, track.SeedID, track.URI, track.Title)
	if err != nil {
		return fmt.Errorf("failed to record commit: %w", err)
	}
	return nil
}

// MemoryLedger keeps the ledger in process memory. Retries only dedupe within the process lifetime.
type MemoryLedger struct {
	mu        sync.RWMutex
	playlists map[string]core.RunPlaylist
	commits   map[string][]core.CommittedTrack
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		playlists: make(map[string]core.RunPlaylist),
		commits:   make(map[string][]core.CommittedTrack),
	}
}

func (l *MemoryLedger) PlaylistFor(_ context.Context, runKey string) (core.RunPlaylist, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pl, ok := l.playlists[runKey]
	return pl, ok, nil
}

func (l *MemoryLedger) RecordPlaylist(_ context.Context, runKey string, playlist core.RunPlaylist) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.playlists[runKey] = playlist
	return nil
}

func (l *MemoryLedger) CommittedTracks(_ context.Context, runKey string) ([]core.CommittedTrack, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]core.CommittedTrack(nil), l.commits[runKey]...), nil
}

func (l *MemoryLedger) RecordCommit(_ context.Context, runKey string, track core.CommittedTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.commits[runKey] {
		if t.URI == track.URI {
			return nil
		}
	}
	l.commits[runKey] = append(l.commits[runKey], track)
	return nil
}

var (
	_ core.Ledger = (*SQLiteLedger)(nil)
	_ core.Ledger = (*MemoryLedger)(nil)
)
