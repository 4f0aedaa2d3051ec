package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"seedmix/internal/core"
)

func ledgers(t *testing.T) map[string]core.Ledger {
	t.Helper()

	sqliteLedger, err := NewSQLiteLedger(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	t.Cleanup(func() { sqliteLedger.Close() })

	return map[string]core.Ledger{
		"memory": NewMemoryLedger(),
		"sqlite": sqliteLedger,
	}
}

func TestLedger_Playlists(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, found, err := ledger.PlaylistFor(ctx, "run"); err != nil || found {
				t.Fatalf("PlaylistFor() on empty ledger = found %v, err %v", found, err)
			}

			want := core.RunPlaylist{
				ID:          "playlist-1",
				Name:        "Mix",
				Description: "Grown from Daft Punk - One More Time",
				URL:         "https://open.spotify.com/playlist/playlist-1",
			}
			if err := ledger.RecordPlaylist(ctx, "run", want); err != nil {
				t.Fatalf("RecordPlaylist() error = %v", err)
			}

			got, found, err := ledger.PlaylistFor(ctx, "run")
			if err != nil || !found || got != want {
				t.Errorf("PlaylistFor() = %+v, %v, %v; want %+v", got, found, err, want)
			}

			if err := ledger.RecordPlaylist(ctx, "run", core.RunPlaylist{ID: "playlist-2"}); err != nil {
				t.Fatalf("RecordPlaylist() overwrite error = %v", err)
			}
			if got, _, _ := ledger.PlaylistFor(ctx, "run"); got.ID != "playlist-2" || got.URL != "" {
				t.Errorf("PlaylistFor() after overwrite = %+v, want playlist-2", got)
			}
		})
	}
}

func TestLedger_Commits(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			commits := []core.CommittedTrack{
				{SeedID: "s1", URI: "spotify:track:a", Title: "A"},
				{SeedID: "s2", URI: "spotify:track:b", Title: "B"},
				{SeedID: "s1", URI: "spotify:track:a", Title: "A"},
			}
			for _, c := range commits {
				if err := ledger.RecordCommit(ctx, "run", c); err != nil {
					t.Fatalf("RecordCommit() error = %v", err)
				}
			}
			if err := ledger.RecordCommit(ctx, "other", commits[0]); err != nil {
				t.Fatalf("RecordCommit() error = %v", err)
			}

			got, err := ledger.CommittedTracks(ctx, "run")
			if err != nil {
				t.Fatalf("CommittedTracks() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("CommittedTracks() = %v, want 2 unique commits", got)
			}
			if got[0] != commits[0] || got[1] != commits[1] {
				t.Errorf("CommittedTracks() = %v, want commit order preserved", got)
			}

			if none, _ := ledger.CommittedTracks(ctx, "unknown"); len(none) != 0 {
				t.Errorf("CommittedTracks(unknown) = %v, want empty", none)
			}
		})
	}
}

func TestSQLiteLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	first, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger() error = %v", err)
	}
	record := core.RunPlaylist{ID: "playlist-1", Name: "Mix", URL: "https://open.spotify.com/playlist/playlist-1"}
	if err := first.RecordPlaylist(ctx, "run", record); err != nil {
		t.Fatalf("RecordPlaylist() error = %v", err)
	}
	if err := first.RecordCommit(ctx, "run", core.CommittedTrack{SeedID: "s", URI: "spotify:track:a", Title: "A"}); err != nil {
		t.Fatalf("RecordCommit() error = %v", err)
	}
	first.Close()

	second, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	if err := second.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if got, found, _ := second.PlaylistFor(ctx, "run"); !found || got != record {
		t.Errorf("PlaylistFor() after reopen = %+v, %v", got, found)
	}
	if tracks, _ := second.CommittedTracks(ctx, "run"); len(tracks) != 1 {
		t.Errorf("CommittedTracks() after reopen = %v", tracks)
	}
}

func TestSQLiteLedger_MigratesIDOnlyPlaylists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE run_playlists (
		run_key     TEXT PRIMARY KEY,
		playlist_id TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		t.Fatalf("create legacy table error = %v", err)
	}
	if _, err := db.Exec(`INSERT INTO run_playlists (run_key, playlist_id) VALUES ('old', 'playlist-0')`); err != nil {
		t.Fatalf("insert legacy row error = %v", err)
	}
	db.Close()

	ledger, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger() on legacy schema error = %v", err)
	}
	defer ledger.Close()

	got, found, err := ledger.PlaylistFor(ctx, "old")
	if err != nil || !found || got != (core.RunPlaylist{ID: "playlist-0"}) {
		t.Errorf("PlaylistFor(old) = %+v, %v, %v", got, found, err)
	}

	record := core.RunPlaylist{ID: "playlist-1", URL: "https://open.spotify.com/playlist/playlist-1"}
	if err := ledger.RecordPlaylist(ctx, "new", record); err != nil {
		t.Fatalf("RecordPlaylist() after migration error = %v", err)
	}
	if got, _, _ := ledger.PlaylistFor(ctx, "new"); got != record {
		t.Errorf("PlaylistFor(new) = %+v, want %+v", got, record)
	}
}
