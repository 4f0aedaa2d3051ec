package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Run lifecycle
	"progress.seeds_resolved":   "Using %d seed track(s)",
	"progress.playlist_created": "Created playlist \"%s\"",
	"progress.playlist_reused":  "Continuing playlist \"%s\" from an earlier attempt",
	"progress.done":             "Playlist \"%s\" is ready with %d track(s)",

	// Per-seed progress
	"progress.seed_started":  "Looking for tracks similar to %s - %s",
	"progress.seed_done":     "Added %d of %d track(s) for %s - %s",
	"progress.no_candidates": "No candidates found for %s - %s",

	// Fallback recommender
	"progress.fallback":        "No similarity data for %s - %s, using Spotify recommendations instead",
	"progress.fallback_failed": "Spotify recommendations for %s - %s are unavailable",

	// Filtering and commits
	"progress.library_skip":          "Skipping %s - %s: already in your library",
	"progress.duplicate_skip":        "Skipping %s - %s: already in this playlist",
	"progress.library_unavailable":   "Could not load your library, library tracks will not be filtered",
	"progress.playlist_skipped":      "Could not read playlist \"%s\", its tracks will not be filtered",
	"progress.playlists_unavailable": "Could not list your playlists, only saved tracks will be filtered",
	"progress.track_added":           "Added %s - %s",
	"progress.append_failed":         "Could not add %s - %s to the playlist",
}
