package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AppendOutcome describes what Append did with a candidate.
type AppendOutcome int

const (
	// AppendAdded means the track was written to the playlist
	AppendAdded AppendOutcome = iota
	// AppendDuplicate means the playlist already holds the track
	AppendDuplicate
	// AppendFailed means the catalog rejected the write
	AppendFailed
)

// PlaylistCommitter owns the destination playlist of one run. Begin must be called
// once before Append; Append is safe for concurrent use.
type PlaylistCommitter struct {
	catalog CatalogClient
	ledger  Ledger
	timeout time.Duration
	metrics MetricsRecorder
	logger  *zap.Logger

	mu        sync.Mutex
	runKey    string
	playlist  *Playlist
	prior     map[string][]CommittedTrack
	committed map[string]struct{}
	accepted  []string
}

func NewPlaylistCommitter(
	catalog CatalogClient,
	ledger Ledger,
	timeout time.Duration,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *PlaylistCommitter {
	return &PlaylistCommitter{
		catalog:   catalog,
		ledger:    ledger,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
		prior:     make(map[string][]CommittedTrack),
		committed: make(map[string]struct{}),
	}
}

// RunKey identifies a run for idempotent retries. Identical requests from the same
// owner over the same seeds produce the same key.
func RunKey(ownerID string, req *Request, seeds []Seed) string {
	h := sha256.New()
	parts := []string{
		ownerID,
		string(req.Mode),
		req.PlaylistName,
		strconv.Itoa(req.PerSeedCount()),
		strconv.FormatBool(req.IncludeLibraryTracks),
	}
	for _, s := range seeds {
		parts = append(parts, s.CatalogID)
	}
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// Begin creates the playlist, or reopens the playlist an earlier attempt of runKey
// created. The bool result reports reuse. Creation failures are returned as *CommitError.
func (c *PlaylistCommitter) Begin(
	ctx context.Context,
	runKey, ownerID, name, description string,
	public bool,
) (*Playlist, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playlist != nil {
		return c.playlist, false, nil
	}
	c.runKey = runKey

	if playlist, ok := c.reopen(ctx, runKey, ownerID, name, description); ok {
		c.playlist = playlist
		return playlist, true, nil
	}

	callCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	playlist, err := c.catalog.CreatePlaylist(callCtx, ownerID, name, description, public)
	if err != nil {
		return nil, false, &CommitError{Op: "create", Err: err}
	}
	c.playlist = playlist

	if c.ledger != nil {
		record := RunPlaylist{
			ID:          playlist.ID,
			Name:        playlist.Name,
			Description: playlist.Description,
			URL:         playlist.URL,
		}
		if err := c.ledger.RecordPlaylist(ctx, runKey, record); err != nil {
			c.logger.Warn("Failed to record playlist in ledger",
				zap.String("playlist_id", playlist.ID),
				zap.Error(err))
		}
	}

	c.logger.Info("Created playlist",
		zap.String("playlist_id", playlist.ID),
		zap.String("name", name))
	return playlist, false, nil
}

func (c *PlaylistCommitter) reopen(ctx context.Context, runKey, ownerID, name, description string) (*Playlist, bool) {
	if c.ledger == nil {
		return nil, false
	}

	record, found, err := c.ledger.PlaylistFor(ctx, runKey)
	if err != nil {
		c.logger.Warn("Ledger lookup failed, creating a new playlist", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	tracks, err := c.ledger.CommittedTracks(ctx, runKey)
	if err != nil {
		c.logger.Warn("Failed to read committed tracks, creating a new playlist", zap.Error(err))
		return nil, false
	}
	for _, t := range tracks {
		c.prior[t.SeedID] = append(c.prior[t.SeedID], t)
		// Any earlier write blocks a second copy, whichever seed asks.
		c.committed[t.URI] = struct{}{}
	}

	c.logger.Info("Reusing playlist from earlier attempt",
		zap.String("playlist_id", record.ID),
		zap.Int("committed", len(tracks)))

	playlist := &Playlist{
		ID:          record.ID,
		Name:        record.Name,
		Description: record.Description,
		TrackCount:  len(tracks),
		OwnerID:     ownerID,
		URL:         record.URL,
	}
	// Records written before names were stored carry only the ID.
	if playlist.Name == "" {
		playlist.Name = name
	}
	if playlist.Description == "" {
		playlist.Description = description
	}
	return playlist, true
}

// Restore counts the tracks an earlier attempt committed for seedID as accepted
// and returns how many there were. It is a no-op for fresh runs.
func (c *PlaylistCommitter) Restore(seedID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := c.prior[seedID]
	delete(c.prior, seedID)
	for _, t := range restored {
		c.accepted = append(c.accepted, t.Title)
	}
	return len(restored)
}

// Append writes one resolved candidate of seedID to the playlist. Writes are serialized.
// A failed write returns AppendFailed and a *CommitError; the run may continue.
func (c *PlaylistCommitter) Append(ctx context.Context, seedID string, rc ResolvedCandidate) (AppendOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playlist == nil {
		return AppendFailed, &CommitError{Op: "append", Err: errors.New("playlist not created")}
	}

	uri := rc.Track.URI
	if _, ok := c.committed[uri]; ok {
		return AppendDuplicate, nil
	}

	callCtx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.catalog.AppendTracks(callCtx, c.playlist.ID, []string{uri}); err != nil {
		return AppendFailed, &CommitError{Op: "append", Err: err}
	}

	c.committed[uri] = struct{}{}
	c.accepted = append(c.accepted, rc.Candidate.Title)
	c.playlist.TrackCount++

	if c.ledger != nil {
		track := CommittedTrack{SeedID: seedID, URI: uri, Title: rc.Candidate.Title}
		if err := c.ledger.RecordCommit(ctx, c.runKey, track); err != nil {
			c.logger.Warn("Failed to record commit in ledger", zap.String("uri", uri), zap.Error(err))
		}
	}
	return AppendAdded, nil
}

// Accepted returns the titles committed so far, in commit order.
func (c *PlaylistCommitter) Accepted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	accepted := make([]string, len(c.accepted))
	copy(accepted, c.accepted)
	return accepted
}
