package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mock implementations for testing

func catalogTrack(title, artist string) Track {
	id := strings.ReplaceAll(strings.ToLower(title), " ", "-")
	return Track{
		ID:     id,
		URI:    "spotify:track:" + id,
		Title:  title,
		Artist: artist,
	}
}

type recommendCall struct {
	trackID string
	limit   int
}

type mockCatalog struct {
	mu sync.Mutex

	userID  string
	userErr error

	tracks    map[string]*Track
	unmatched map[string]bool
	searchErr error

	recommendations map[string][]Track
	recommendErr    error
	recommendCalls  []recommendCall

	topTracks []Track
	topErr    error

	saved           []string
	playlists       []Playlist
	playlistsErr    error
	playlistTracks  map[string][]string
	playlistErr     map[string]error
	libraryErr      error
	libraryCalls    int
	libraryDeadline bool

	createErr error
	created   []Playlist
	appendErr map[string]error
	appended  []string
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		userID:          "user-1",
		tracks:          make(map[string]*Track),
		unmatched:       make(map[string]bool),
		recommendations: make(map[string][]Track),
		playlistTracks:  make(map[string][]string),
		playlistErr:     make(map[string]error),
		appendErr:       make(map[string]error),
	}
}

func (m *mockCatalog) CurrentUserID(_ context.Context) (string, error) {
	return m.userID, m.userErr
}

func (m *mockCatalog) ExtractTrackID(ref string) (string, error) {
	if id, ok := strings.CutPrefix(ref, "spotify:track:"); ok {
		return id, nil
	}
	return "", errors.New("not a track reference")
}

func (m *mockCatalog) GetTrack(_ context.Context, trackID string) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tracks[trackID]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("track %s not found", trackID)
}

func (m *mockCatalog) SearchTrack(_ context.Context, title, artist string) ([]Track, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if m.unmatched[title] {
		return []Track{}, nil
	}
	return []Track{catalogTrack(title, artist)}, nil
}

func (m *mockCatalog) RecommendByTrack(_ context.Context, trackID string, limit int) ([]Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recommendCalls = append(m.recommendCalls, recommendCall{trackID: trackID, limit: limit})
	if m.recommendErr != nil {
		return nil, m.recommendErr
	}
	recs := m.recommendations[trackID]
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (m *mockCatalog) CreatePlaylist(_ context.Context, userID, name, description string, public bool) (*Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	pl := Playlist{
		ID:          fmt.Sprintf("playlist-%d", len(m.created)+1),
		Name:        name,
		Description: description,
		OwnerID:     userID,
	}
	pl.URL = "https://open.spotify.com/playlist/" + pl.ID
	m.created = append(m.created, pl)
	return &pl, nil
}

func (m *mockCatalog) AppendTracks(_ context.Context, _ string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uri := range uris {
		if err := m.appendErr[uri]; err != nil {
			return err
		}
	}
	m.appended = append(m.appended, uris...)
	return nil
}

func (m *mockCatalog) GetUserTopTracks(_ context.Context, limit int) ([]Track, error) {
	if m.topErr != nil {
		return nil, m.topErr
	}
	if len(m.topTracks) > limit {
		return m.topTracks[:limit], nil
	}
	return m.topTracks, nil
}

func (m *mockCatalog) GetSavedLibrary(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.libraryCalls++
	_, m.libraryDeadline = ctx.Deadline()
	if m.libraryErr != nil {
		return nil, m.libraryErr
	}
	return append([]string(nil), m.saved...), nil
}

func (m *mockCatalog) GetUserPlaylists(_ context.Context) ([]Playlist, error) {
	if m.playlistsErr != nil {
		return nil, m.playlistsErr
	}
	return m.playlists, nil
}

func (m *mockCatalog) GetPlaylistTracks(_ context.Context, playlistID string) ([]string, error) {
	if err := m.playlistErr[playlistID]; err != nil {
		return nil, err
	}
	return m.playlistTracks[playlistID], nil
}

func (m *mockCatalog) appendedURIs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.appended...)
}

func (m *mockCatalog) recommendCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recommendCalls)
}

type similarCall struct {
	artist string
	title  string
	limit  int
}

type mockSimilarity struct {
	mu      sync.Mutex
	results map[string][]SimilarTrack
	errs    map[string]error
	delays  map[string]time.Duration
	calls   []similarCall
}

func newMockSimilarity() *mockSimilarity {
	return &mockSimilarity{
		results: make(map[string][]SimilarTrack),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
	}
}

func (m *mockSimilarity) GetSimilar(ctx context.Context, artist, title string, limit int) ([]SimilarTrack, error) {
	m.mu.Lock()
	m.calls = append(m.calls, similarCall{artist: artist, title: title, limit: limit})
	delay := m.delays[title]
	err := m.errs[title]
	results := m.results[title]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *mockSimilarity) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSink) Emit(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *recordingSink) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type recordingMetrics struct {
	NopMetrics
	mu        sync.Mutex
	fallbacks int
	rejected  map[string]int
	runs      map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{rejected: make(map[string]int), runs: make(map[string]int)}
}

func (m *recordingMetrics) RecordFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func (m *recordingMetrics) RecordRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingMetrics) RecordRun(mode, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[mode+"/"+status]++
}

type mockLedger struct {
	mu        sync.Mutex
	playlists map[string]RunPlaylist
	commits   map[string][]CommittedTrack
}

func newMockLedger() *mockLedger {
	return &mockLedger{playlists: make(map[string]RunPlaylist), commits: make(map[string][]CommittedTrack)}
}

func (l *mockLedger) PlaylistFor(_ context.Context, runKey string) (RunPlaylist, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.playlists[runKey]
	return pl, ok, nil
}

func (l *mockLedger) RecordPlaylist(_ context.Context, runKey string, playlist RunPlaylist) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.playlists[runKey] = playlist
	return nil
}

func (l *mockLedger) CommittedTracks(_ context.Context, runKey string) ([]CommittedTrack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CommittedTrack(nil), l.commits[runKey]...), nil
}

func (l *mockLedger) RecordCommit(_ context.Context, runKey string, track CommittedTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits[runKey] = append(l.commits[runKey], track)
	return nil
}

type mockDescriber struct {
	description string
	err         error
}

func (d *mockDescriber) DescribePlaylist(_ context.Context, _ string, _ []Seed) (string, error) {
	return d.description, d.err
}

func score(v float64) *float64 {
	return &v
}
