package core

import (
	"fmt"
	"strings"
)

const (
	// MaxTracksPerSeed caps NumTracks and RecommendationsPerSong
	MaxTracksPerSeed = 100
	// MaxTopTracksLimit caps the number of top-track seeds
	MaxTopTracksLimit = 50
	// MaxPlaylistNameLength mirrors the catalog's playlist name limit
	MaxPlaylistNameLength = 100
)

// Normalize trims string fields and fills TopTracksLimit from the configured default.
func (r *Request) Normalize(defaultTopTracks int) {
	r.Mode = Mode(strings.ToLower(strings.TrimSpace(string(r.Mode))))
	r.PlaylistName = strings.TrimSpace(r.PlaylistName)
	r.Description = strings.TrimSpace(r.Description)
	r.TrackRef = strings.TrimSpace(r.TrackRef)

	if r.Mode == ModeTopTracks && r.TopTracksLimit <= 0 {
		r.TopTracksLimit = defaultTopTracks
	}
}

// Validate checks the request before any upstream call is made.
func (r *Request) Validate() error {
	if r.PlaylistName == "" {
		return newValidationError("playlist_name", "is required")
	}
	if len(r.PlaylistName) > MaxPlaylistNameLength {
		return newValidationError("playlist_name",
			fmt.Sprintf("must be at most %d characters", MaxPlaylistNameLength))
	}

	switch r.Mode {
	case ModeSingle:
		if r.TrackRef == "" {
			return newValidationError("track_ref", "is required in single mode")
		}
		return validateCount("num_tracks", r.NumTracks)
	case ModeTopTracks:
		if r.TopTracksLimit <= 0 || r.TopTracksLimit > MaxTopTracksLimit {
			return newValidationError("top_tracks_limit",
				fmt.Sprintf("must be between 1 and %d", MaxTopTracksLimit))
		}
		return validateCount("recommendations_per_song", r.RecommendationsPerSong)
	case "":
		return newValidationError("mode", "is required")
	default:
		return newValidationError("mode",
			fmt.Sprintf("unsupported mode %q (must be %q or %q)", r.Mode, ModeSingle, ModeTopTracks))
	}
}

func validateCount(field string, count int) error {
	if count <= 0 || count > MaxTracksPerSeed {
		return newValidationError(field, fmt.Sprintf("must be between 1 and %d", MaxTracksPerSeed))
	}
	return nil
}
