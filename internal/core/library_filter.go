package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"seedmix/internal/i18n"
)

// LibraryFilter drops resolved candidates the user already owns.
// A nil index or IncludeLibraryTracks turns it into a pass-through.
type LibraryFilter struct {
	include   bool
	index     LibraryLookup
	sink      ProgressSink
	localizer *i18n.Localizer
	metrics   MetricsRecorder
	logger    *zap.Logger
}

func NewLibraryFilter(
	include bool,
	index LibraryLookup,
	sink ProgressSink,
	localizer *i18n.Localizer,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *LibraryFilter {
	return &LibraryFilter{
		include:   include,
		index:     index,
		sink:      sink,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Filter returns the candidates whose URI is not in the library, in input order.
func (f *LibraryFilter) Filter(resolved []ResolvedCandidate) []ResolvedCandidate {
	if f.include || f.index == nil {
		return resolved
	}

	kept := make([]ResolvedCandidate, 0, len(resolved))
	for _, rc := range resolved {
		if f.index.Has(rc.Track.URI) {
			f.logger.Debug("Dropping library track",
				zap.String("uri", rc.Track.URI),
				zap.String("artist", rc.Candidate.Artist),
				zap.String("title", rc.Candidate.Title))
			f.metrics.RecordRejected("library")
			f.sink.Emit(f.localizer.T("progress.library_skip", rc.Candidate.Artist, rc.Candidate.Title))
			continue
		}
		kept = append(kept, rc)
	}
	return kept
}

// resolveCandidate maps a candidate to the first catalog match for its title and artist.
func resolveCandidate(ctx context.Context, catalog CatalogClient, timeout time.Duration, c Candidate) (ResolvedCandidate, error) {
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	tracks, err := catalog.SearchTrack(callCtx, c.Title, c.Artist)
	if err != nil {
		return ResolvedCandidate{}, fmt.Errorf("search %s - %s: %w", c.Artist, c.Title, err)
	}
	if len(tracks) == 0 || tracks[0].URI == "" {
		return ResolvedCandidate{}, fmt.Errorf("search %s - %s: %w", c.Artist, c.Title, ErrNoMatch)
	}

	return ResolvedCandidate{Candidate: c, Track: tracks[0]}, nil
}

// loadLibrary builds the index of URIs in the user's saved tracks and playlists.
// The playlist being written by the current run is skipped. Only a failed saved-tracks
// fetch fails the load; playlists that cannot be read are reported and left out.
// Per-page deadlines are the catalog client's concern.
func loadLibrary(
	ctx context.Context,
	catalog CatalogClient,
	newIndex func(expected int) LibraryLookup,
	skipPlaylistID string,
	sink ProgressSink,
	localizer *i18n.Localizer,
	logger *zap.Logger,
) (LibraryLookup, error) {
	uris, err := catalog.GetSavedLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load saved tracks: %w", err)
	}

	playlists, err := catalog.GetUserPlaylists(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthRequired) || ctx.Err() != nil {
			return nil, err
		}
		logger.Warn("Failed to list playlists, filtering saved tracks only", zap.Error(err))
		sink.Emit(localizer.T("progress.playlists_unavailable"))
		playlists = nil
	}

	for _, pl := range playlists {
		if pl.ID == skipPlaylistID {
			continue
		}
		tracks, err := catalog.GetPlaylistTracks(ctx, pl.ID)
		if err != nil {
			if errors.Is(err, ErrAuthRequired) || ctx.Err() != nil {
				return nil, err
			}
			logger.Warn("Skipping unreadable playlist",
				zap.String("playlist_id", pl.ID),
				zap.String("name", pl.Name),
				zap.Error(err))
			sink.Emit(localizer.T("progress.playlist_skipped", playlistLabel(pl)))
			continue
		}
		uris = append(uris, tracks...)
	}

	index := newIndex(len(uris))
	index.Load(uris)
	return index, nil
}

func playlistLabel(pl Playlist) string {
	if pl.Name != "" {
		return pl.Name
	}
	return pl.ID
}
