package core

import (
	"context"
	"time"
)

type Mode string

const (
	// ModeSingle seeds the run with one user-specified track
	ModeSingle Mode = "single"
	// ModeTopTracks seeds the run with the user's top tracks
	ModeTopTracks Mode = "top_tracks"
)

const (
	// SourceSimilarity marks candidates produced by the similarity service
	SourceSimilarity = "similarity"
	// SourceFallback marks candidates produced by the catalog recommender
	SourceFallback = "fallback"
)

type Track struct {
	ID       string
	URI      string
	Title    string
	Artist   string
	Album    string
	Year     int
	Duration time.Duration
	URL      string
}

type Playlist struct {
	ID          string
	Name        string
	Description string
	TrackCount  int
	Owner       string
	OwnerID     string
	URL         string
}

// Seed is a track used as the basis for finding similar tracks.
type Seed struct {
	CatalogID string `json:"catalog_id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
}

// SimilarTrack is one entry of a similarity service response.
type SimilarTrack struct {
	Title  string
	Artist string
	Match  float64
}

// Candidate is a proposed playlist addition before catalog resolution.
// MatchScore is nil for candidates from the fallback recommender.
type Candidate struct {
	Title      string
	Artist     string
	MatchScore *float64
	Source     string
}

// Score returns the match score used for ranking, 0 when absent.
func (c Candidate) Score() float64 {
	if c.MatchScore == nil {
		return 0
	}
	return *c.MatchScore
}

type ResolvedCandidate struct {
	Candidate Candidate
	Track     Track
}

type Request struct {
	Mode                   Mode   `json:"mode"`
	PlaylistName           string `json:"playlist_name"`
	Description            string `json:"description,omitempty"`
	IncludeLibraryTracks   bool   `json:"include_library_tracks"`
	Public                 bool   `json:"public"`
	TrackRef               string `json:"track_ref,omitempty"`
	NumTracks              int    `json:"num_tracks,omitempty"`
	RecommendationsPerSong int    `json:"recommendations_per_song,omitempty"`
	TopTracksLimit         int    `json:"top_tracks_limit,omitempty"`
}

// PerSeedCount returns the number of tracks requested for each seed.
func (r *Request) PerSeedCount() int {
	if r.Mode == ModeTopTracks {
		return r.RecommendationsPerSong
	}
	return r.NumTracks
}

type Result struct {
	RunID          string   `json:"run_id"`
	PlaylistID     string   `json:"playlist_id"`
	PlaylistName   string   `json:"playlist_name"`
	PlaylistURL    string   `json:"playlist_url,omitempty"`
	AcceptedTitles []string `json:"accepted_titles"`
	Seeds          []Seed   `json:"seeds"`
}

type CatalogClient interface {
	CurrentUserID(ctx context.Context) (string, error)
	ExtractTrackID(ref string) (string, error)
	GetTrack(ctx context.Context, trackID string) (*Track, error)
	SearchTrack(ctx context.Context, title, artist string) ([]Track, error)
	RecommendByTrack(ctx context.Context, trackID string, limit int) ([]Track, error)
	CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*Playlist, error)
	AppendTracks(ctx context.Context, playlistID string, uris []string) error
	GetUserTopTracks(ctx context.Context, limit int) ([]Track, error)
	GetSavedLibrary(ctx context.Context) ([]string, error)
	GetUserPlaylists(ctx context.Context) ([]Playlist, error)
	GetPlaylistTracks(ctx context.Context, playlistID string) ([]string, error)
}

type SimilarityClient interface {
	GetSimilar(ctx context.Context, artist, title string, limit int) ([]SimilarTrack, error)
}

// ProgressSink receives human-readable status events. Emit must never block.
type ProgressSink interface {
	Emit(message string)
}

// Describer writes a playlist description for a set of seeds.
type Describer interface {
	DescribePlaylist(ctx context.Context, name string, seeds []Seed) (string, error)
}

// LibraryLookup answers membership queries against the user's library.
type LibraryLookup interface {
	Has(uri string) bool
	Load(uris []string)
	Size() int
}

// CommittedTrack is a track written to a run's playlist, attributed to its seed.
type CommittedTrack struct {
	SeedID string
	URI    string
	Title  string
}

// RunPlaylist is the ledger record of the playlist a run created.
type RunPlaylist struct {
	ID          string
	Name        string
	Description string
	URL         string
}

// Ledger remembers which playlist and tracks a run key has committed.
type Ledger interface {
	PlaylistFor(ctx context.Context, runKey string) (playlist RunPlaylist, found bool, err error)
	RecordPlaylist(ctx context.Context, runKey string, playlist RunPlaylist) error
	CommittedTracks(ctx context.Context, runKey string) ([]CommittedTrack, error)
	RecordCommit(ctx context.Context, runKey string, track CommittedTrack) error
}

type MetricsRecorder interface {
	RecordRun(mode, status string)
	RecordRunDuration(mode string, duration time.Duration)
	RecordCandidates(source string, count int)
	RecordFallback()
	RecordAccepted(count int)
	RecordRejected(reason string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordRun(string, string) {}
func (NopMetrics) RecordRunDuration(string, time.Duration) {}
func (NopMetrics) RecordCandidates(string, int) {}
func (NopMetrics) RecordFallback() {}
func (NopMetrics) RecordAccepted(int) {}
func (NopMetrics) RecordRejected(string) {}
