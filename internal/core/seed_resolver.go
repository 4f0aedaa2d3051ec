package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SeedResolver turns a request into the ordered seed tracks of a run.
type SeedResolver struct {
	catalog CatalogClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewSeedResolver(catalog CatalogClient, timeout time.Duration, logger *zap.Logger) *SeedResolver {
	return &SeedResolver{
		catalog: catalog,
		timeout: timeout,
		logger:  logger,
	}
}

// ResolveSeeds returns at least one seed or an error. It performs no writes.
func (r *SeedResolver) ResolveSeeds(ctx context.Context, req *Request) ([]Seed, error) {
	switch req.Mode {
	case ModeSingle:
		seed, err := r.resolveSingle(ctx, req.TrackRef)
		if err != nil {
			return nil, err
		}
		return []Seed{seed}, nil
	case ModeTopTracks:
		return r.resolveTopTracks(ctx, req.TopTracksLimit)
	default:
		return nil, newValidationError("mode", fmt.Sprintf("unsupported mode %q", req.Mode))
	}
}

func (r *SeedResolver) resolveSingle(ctx context.Context, ref string) (Seed, error) {
	if ref == "" {
		return Seed{}, newValidationError("track_ref", "is required in single mode")
	}

	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var track *Track
	if trackID, err := r.catalog.ExtractTrackID(ref); err == nil {
		track, err = r.catalog.GetTrack(callCtx, trackID)
		if err != nil {
			return Seed{}, r.unresolved(ref, err)
		}
	} else {
		// Not a link or id: treat the reference as a free-text search.
		tracks, err := r.catalog.SearchTrack(callCtx, ref, "")
		if err != nil {
			return Seed{}, r.unresolved(ref, err)
		}
		if len(tracks) == 0 {
			return Seed{}, newValidationError("track_ref", fmt.Sprintf("no track found for %q", ref))
		}
		track = &tracks[0]
	}

	r.logger.Debug("Resolved seed track",
		zap.String("ref", ref),
		zap.String("track_id", track.ID),
		zap.String("artist", track.Artist),
		zap.String("title", track.Title))

	return seedFromTrack(track), nil
}

func (r *SeedResolver) resolveTopTracks(ctx context.Context, limit int) ([]Seed, error) {
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tracks, err := r.catalog.GetUserTopTracks(callCtx, limit)
	if err != nil {
		if errors.Is(err, ErrAuthRequired) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get top tracks: %w", err)
	}
	if len(tracks) == 0 {
		return nil, newValidationError("mode", "no top tracks available for this user")
	}

	seeds := make([]Seed, 0, len(tracks))
	for i := range tracks {
		seeds = append(seeds, seedFromTrack(&tracks[i]))
	}

	r.logger.Debug("Resolved top track seeds", zap.Int("seeds", len(seeds)))
	return seeds, nil
}

func (r *SeedResolver) unresolved(ref string, err error) error {
	if errors.Is(err, ErrAuthRequired) {
		return err
	}
	r.logger.Warn("Failed to resolve track reference", zap.String("ref", ref), zap.Error(err))
	return newValidationError("track_ref", fmt.Sprintf("could not resolve %q", ref))
}

func seedFromTrack(track *Track) Seed {
	return Seed{
		CatalogID: track.ID,
		Title:     track.Title,
		Artist:    track.Artist,
	}
}

// withTimeout bounds a single upstream call. A non-positive timeout only adds cancellation.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
