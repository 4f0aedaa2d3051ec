package i18n

// berneseGermanMessages contains all Bernese Swiss German (Bärndütsch) translations
var berneseGermanMessages = map[string]string{
	// Run lifecycle
	"progress.seeds_resolved":   "Bruuche %d Start-Lied(er)",
	"progress.playlist_created": "Playliste \"%s\" isch erstellt",
	"progress.playlist_reused":  "Mache mit dr Playliste \"%s\" vo vorhär wiiter",
	"progress.done":             "D Playliste \"%s\" isch parat mit %d Lied(er)",

	// Per-seed progress
	"progress.seed_started":  "Sueche Lieder wo töne wie %s - %s",
	"progress.seed_done":     "%d vo %d Lied(er) für %s - %s drzuegfüegt",
	"progress.no_candidates": "Für %s - %s ha ni nüt gfunde",

	// Fallback recommender
	"progress.fallback":        "Kei Ähnlichkeitsdate für %s - %s, nime drum Spotify-Vorschläg",
	"progress.fallback_failed": "Spotify-Vorschläg für %s - %s si grad nid verfüegbar",

	// Filtering and commits
	"progress.library_skip":          "Lah %s - %s us: isch scho i dire Bibliothek",
	"progress.duplicate_skip":        "Lah %s - %s us: isch scho i dere Playliste",
	"progress.library_unavailable":   "Ha dini Bibliothek nid chönne lade, Lieder wärde nid gfilteret",
	"progress.playlist_skipped":      "Ha d Playliste \"%s\" nid chönne läse, ihri Lieder wärde nid gfilteret",
	"progress.playlists_unavailable": "Ha dini Playliste nid chönne lade, nume gspichereti Lieder wärde gfilteret",
	"progress.track_added":           "%s - %s drzuegfüegt",
	"progress.append_failed":         "Ha %s - %s nid chönne i d Playliste tue",
}
