package core

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestPipeline(sim SimilarityClient, ledger Ledger, metrics MetricsRecorder, describer Describer) *Pipeline {
	cfg := DefaultConfig().App
	cfg.UpstreamTimeoutSecs = 5
	return NewPipeline(cfg, PipelineDeps{
		Similarity: sim,
		Describer:  describer,
		Ledger:     ledger,
		Metrics:    metrics,
		Logger:     zap.NewNop(),
	})
}

func singleRequest(numTracks int, include bool) Request {
	return Request{
		Mode:                 ModeSingle,
		PlaylistName:         "Mix",
		TrackRef:             "spotify:track:song-a",
		NumTracks:            numTracks,
		IncludeLibraryTracks: include,
	}
}

func newSeededCatalog() *mockCatalog {
	catalog := newMockCatalog()
	catalog.tracks["song-a"] = &Track{ID: "song-a", URI: "spotify:track:song-a", Title: "Song A", Artist: "Artist A"}
	return catalog
}

func sortedTitles(result *Result) []string {
	out := slices.Clone(result.AcceptedTitles)
	slices.Sort(out)
	return out
}

func TestPipeline_ScenarioA_LibraryTrackIsBackfilled(t *testing.T) {
	catalog := newSeededCatalog()
	catalog.saved = []string{"spotify:track:t1"}
	sim := newMockSimilarity()
	sim.results["Song A"] = []SimilarTrack{
		{Title: "T1", Artist: "X", Match: 0.9},
		{Title: "T2", Artist: "X", Match: 0.8},
		{Title: "T3", Artist: "X", Match: 0.5},
	}
	sink := &recordingSink{}

	result, err := newTestPipeline(sim, nil, nil, nil).Generate(context.Background(), catalog, singleRequest(2, false), sink)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if got := sortedTitles(result); !slices.Equal(got, []string{"T2", "T3"}) {
		t.Errorf("accepted = %v, want [T2 T3]", got)
	}
	if slices.Contains(catalog.appendedURIs(), "spotify:track:t1") {
		t.Error("library track must not be appended")
	}
	if !sink.contains("already in your library") {
		t.Errorf("expected library skip event, got %v", sink.messages)
	}
	if catalog.recommendCallCount() != 0 {
		t.Error("fallback must not run when similarity has results")
	}
}

func TestPipeline_ScenarioB_FallbackOnly(t *testing.T) {
	catalog := newSeededCatalog()
	catalog.recommendations["song-a"] = []Track{
		catalogTrack("R1", "Y"),
		catalogTrack("R2", "Y"),
		catalogTrack("R3", "Y"),
	}

	result, err := newTestPipeline(newMockSimilarity(), nil, nil, nil).
		Generate(context.Background(), catalog, singleRequest(2, true), &recordingSink{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(catalog.recommendCalls) != 1 {
		t.Fatalf("fallback called %d times, want 1", len(catalog.recommendCalls))
	}
	if call := catalog.recommendCalls[0]; call.trackID != "song-a" || call.limit != 2 {
		t.Errorf("fallback call = %+v, want song-a with limit 2", call)
	}
	if got := sortedTitles(result); !slices.Equal(got, []string{"R1", "R2"}) {
		t.Errorf("accepted = %v, want [R1 R2]", got)
	}
}

func TestPipeline_ScenarioC_TopTracksOnePerSeed(t *testing.T) {
	catalog := newMockCatalog()
	catalog.topTracks = []Track{catalogTrack("Seed 1", "A"), catalogTrack("Seed 2", "B")}
	sim := newMockSimilarity()
	sim.results["Seed 1"] = []SimilarTrack{{Title: "S1-a", Artist: "X", Match: 0.7}, {Title: "S1-b", Artist: "X", Match: 0.6}}
	sim.results["Seed 2"] = []SimilarTrack{{Title: "S2-a", Artist: "Y", Match: 0.9}}
	// Finish the first seed last.
	sim.delays["Seed 1"] = 20 * time.Millisecond

	req := Request{Mode: ModeTopTracks, PlaylistName: "Top", RecommendationsPerSong: 1, TopTracksLimit: 2, IncludeLibraryTracks: true}
	result, err := newTestPipeline(sim, nil, nil, nil).Generate(context.Background(), catalog, req, &recordingSink{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if got := sortedTitles(result); !slices.Equal(got, []string{"S1-a", "S2-a"}) {
		t.Errorf("accepted = %v, want [S1-a S2-a]", got)
	}
	if len(result.Seeds) != 2 {
		t.Errorf("result has %d seeds, want 2", len(result.Seeds))
	}
	if len(catalog.created) != 1 {
		t.Errorf("created %d playlists, want exactly 1", len(catalog.created))
	}
}

func TestPipeline_ScenarioD_UnmatchedCandidateIsBackfilled(t *testing.T) {
	catalog := newSeededCatalog()
	catalog.unmatched["T1"] = true
	sim := newMockSimilarity()
	sim.results["Song A"] = []SimilarTrack{
		{Title: "T1", Artist: "X", Match: 0.9},
		{Title: "T2", Artist: "X", Match: 0.8},
		{Title: "T3", Artist: "X", Match: 0.7},
		{Title: "T4", Artist: "X", Match: 0.6},
	}
	metrics := newRecordingMetrics()

	result, err := newTestPipeline(sim, nil, metrics, nil).
		Generate(context.Background(), catalog, singleRequest(2, true), &recordingSink{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if got := sortedTitles(result); !slices.Equal(got, []string{"T2", "T3"}) {
		t.Errorf("accepted = %v, want [T2 T3]", got)
	}
	if metrics.rejected["no_match"] != 1 {
		t.Errorf("no_match rejections = %d, want 1", metrics.rejected["no_match"])
	}
}

func TestPipeline_PerSeedCapAndLibraryInvariant(t *testing.T) {
	catalog := newMockCatalog()
	var seeds []Track
	sim := newMockSimilarity()
	for _, name := range []string{"A", "B", "C", "D"} {
		seeds = append(seeds, catalogTrack("Seed "+name, name))
		var similar []SimilarTrack
		for i, suffix := range []string{"1", "2", "3", "4", "5", "6"} {
			similar = append(similar, SimilarTrack{Title: name + suffix, Artist: name, Match: 1 - float64(i)/10})
		}
		sim.results["Seed "+name] = similar
	}
	catalog.topTracks = seeds
	catalog.saved = []string{"spotify:track:a1", "spotify:track:b2", "spotify:track:c1", "spotify:track:c2"}

	req := Request{Mode: ModeTopTracks, PlaylistName: "Cap", RecommendationsPerSong: 2, TopTracksLimit: 4}
	result, err := newTestPipeline(sim, nil, nil, nil).Generate(context.Background(), catalog, req, &recordingSink{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	perSeed := make(map[byte]int)
	for _, title := range result.AcceptedTitles {
		perSeed[title[0]]++
	}
	for seed, n := range perSeed {
		if n > 2 {
			t.Errorf("seed %c accepted %d tracks, cap is 2", seed, n)
		}
	}
	if len(result.AcceptedTitles) != 8 {
		t.Errorf("accepted %d tracks, want 8: %v", len(result.AcceptedTitles), result.AcceptedTitles)
	}
	for _, uri := range catalog.appendedURIs() {
		if slices.Contains(catalog.saved, uri) {
			t.Errorf("library track %s was appended", uri)
		}
	}
	if catalog.libraryCalls != 1 {
		t.Errorf("library loaded %d times, want once per run", catalog.libraryCalls)
	}
}

func TestPipeline_DeterministicAcceptedSet(t *testing.T) {
	build := func() (*mockCatalog, *mockSimilarity) {
		catalog := newMockCatalog()
		catalog.topTracks = []Track{catalogTrack("Seed 1", "A"), catalogTrack("Seed 2", "B"), catalogTrack("Seed 3", "C")}
		sim := newMockSimilarity()
		sim.results["Seed 1"] = []SimilarTrack{{Title: "X1", Artist: "A", Match: 0.5}, {Title: "X2", Artist: "A", Match: 0.5}}
		sim.results["Seed 2"] = []SimilarTrack{{Title: "Y1", Artist: "B", Match: 0.1}, {Title: "Y2", Artist: "B", Match: 0.9}}
		catalog.recommendations["seed-3"] = []Track{catalogTrack("Z1", "C"), catalogTrack("Z2", "C")}
		return catalog, sim
	}

	req := Request{Mode: ModeTopTracks, PlaylistName: "Same", RecommendationsPerSong: 1, TopTracksLimit: 3, IncludeLibraryTracks: true}

	var sets [][]string
	for i := 0; i < 2; i++ {
		catalog, sim := build()
		result, err := newTestPipeline(sim, nil, nil, nil).Generate(context.Background(), catalog, req, nil)
		if err != nil {
			t.Fatalf("Generate() run %d error = %v", i, err)
		}
		sets = append(sets, sortedTitles(result))
	}

	if !slices.Equal(sets[0], sets[1]) {
		t.Errorf("runs accepted different sets: %v vs %v", sets[0], sets[1])
	}
	if !slices.Equal(sets[0], []string{"X1", "Y2", "Z1"}) {
		t.Errorf("accepted = %v, want [X1 Y2 Z1]", sets[0])
	}
}

func TestPipeline_RetryIsIdempotent(t *testing.T) {
	ledger := newMockLedger()
	sim := newMockSimilarity()
	sim.results["Song A"] = []SimilarTrack{
		{Title: "T1", Artist: "X", Match: 0.9},
		{Title: "T2", Artist: "X", Match: 0.8},
		{Title: "T3", Artist: "X", Match: 0.7},
	}

	first := newSeededCatalog()
	first.appendErr["spotify:track:t2"] = errors.New("transient")
	pipeline := newTestPipeline(sim, ledger, nil, nil)

	result, err := pipeline.Generate(context.Background(), first, singleRequest(2, true), nil)
	if err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	if got := sortedTitles(result); !slices.Equal(got, []string{"T1", "T3"}) {
		t.Fatalf("first run accepted %v, want [T1 T3]", got)
	}

	retry := newSeededCatalog()
	result, err = pipeline.Generate(context.Background(), retry, singleRequest(2, true), nil)
	if err != nil {
		t.Fatalf("retry Generate() error = %v", err)
	}

	if len(retry.created) != 0 {
		t.Error("retry must reuse the playlist")
	}
	if got := retry.appendedURIs(); len(got) != 0 {
		t.Errorf("retry appended %v, want nothing new", got)
	}
	if len(result.AcceptedTitles) != 2 {
		t.Errorf("retry accepted %v, want 2 restored titles", result.AcceptedTitles)
	}
	if want := "https://open.spotify.com/playlist/" + first.created[0].ID; result.PlaylistURL != want {
		t.Errorf("retry PlaylistURL = %q, want %q", result.PlaylistURL, want)
	}
}

func TestPipeline_LibraryFilteringSurvivesPartialLoad(t *testing.T) {
	similar := []SimilarTrack{
		{Title: "T1", Artist: "X", Match: 0.9},
		{Title: "T2", Artist: "X", Match: 0.8},
		{Title: "T3", Artist: "X", Match: 0.7},
	}

	t.Run("unreadable playlist is skipped", func(t *testing.T) {
		catalog := newSeededCatalog()
		catalog.saved = []string{"spotify:track:t1"}
		catalog.playlists = []Playlist{{ID: "mine"}, {ID: "followed-broken", Name: "Gone"}}
		catalog.playlistTracks["mine"] = []string{"spotify:track:t2"}
		catalog.playlistErr["followed-broken"] = errors.New("404 not found")
		sim := newMockSimilarity()
		sim.results["Song A"] = similar
		sink := &recordingSink{}

		result, err := newTestPipeline(sim, nil, nil, nil).Generate(context.Background(), catalog, singleRequest(1, false), sink)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		if got := sortedTitles(result); !slices.Equal(got, []string{"T3"}) {
			t.Errorf("accepted = %v, want [T3]", got)
		}
		if sink.contains("library tracks will not be filtered") {
			t.Error("filtering must stay on when only one playlist fails")
		}
		if !sink.contains(`Could not read playlist "Gone"`) {
			t.Errorf("expected playlist skip event, got %v", sink.messages)
		}
	})

	t.Run("library crawl has no run-wide deadline", func(t *testing.T) {
		catalog := newSeededCatalog()
		catalog.saved = []string{"spotify:track:t1"}
		sim := newMockSimilarity()
		sim.results["Song A"] = similar

		result, err := newTestPipeline(sim, nil, nil, nil).Generate(context.Background(), catalog, singleRequest(2, false), nil)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		if catalog.libraryDeadline {
			t.Error("saved library must be fetched without a whole-call deadline")
		}
		if slices.Contains(catalog.appendedURIs(), "spotify:track:t1") {
			t.Error("library track must not be appended")
		}
		if got := sortedTitles(result); !slices.Equal(got, []string{"T2", "T3"}) {
			t.Errorf("accepted = %v, want [T2 T3]", got)
		}
	})
}

func TestPipeline_HungSimilarityOnlyStallsItsSeed(t *testing.T) {
	catalog := newMockCatalog()
	catalog.topTracks = []Track{catalogTrack("Seed 1", "A"), catalogTrack("Seed 2", "B")}
	catalog.recommendations["seed-1"] = []Track{catalogTrack("R1", "Y")}
	sim := newMockSimilarity()
	sim.results["Seed 1"] = []SimilarTrack{{Title: "S1", Artist: "X", Match: 0.9}}
	sim.results["Seed 2"] = []SimilarTrack{{Title: "S2", Artist: "X", Match: 0.9}}
	sim.delays["Seed 1"] = 10 * time.Second

	cfg := DefaultConfig().App
	cfg.UpstreamTimeoutSecs = 1
	metrics := newRecordingMetrics()
	pipeline := NewPipeline(cfg, PipelineDeps{Similarity: sim, Metrics: metrics, Logger: zap.NewNop()})

	req := Request{Mode: ModeTopTracks, PlaylistName: "Top", RecommendationsPerSong: 1, TopTracksLimit: 2, IncludeLibraryTracks: true}
	start := time.Now()
	result, err := pipeline.Generate(context.Background(), catalog, req, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Generate() took %v, want the hung call cut off by the per-call timeout", elapsed)
	}
	if got := sortedTitles(result); !slices.Equal(got, []string{"R1", "S2"}) {
		t.Errorf("accepted = %v, want [R1 S2]", got)
	}
	if metrics.fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", metrics.fallbacks)
	}
}

func TestPipeline_CrossSeedDuplicateIsBackfilled(t *testing.T) {
	catalog := newMockCatalog()
	catalog.topTracks = []Track{catalogTrack("Seed 1", "A"), catalogTrack("Seed 2", "B")}
	sim := newMockSimilarity()
	sim.results["Seed 1"] = []SimilarTrack{{Title: "Shared", Artist: "X", Match: 0.9}, {Title: "S1-b", Artist: "X", Match: 0.5}}
	sim.results["Seed 2"] = []SimilarTrack{{Title: "Shared", Artist: "X", Match: 0.9}, {Title: "S2-b", Artist: "X", Match: 0.5}}
	// Let the first seed claim the shared track.
	sim.delays["Seed 2"] = 50 * time.Millisecond
	metrics := newRecordingMetrics()
	sink := &recordingSink{}

	req := Request{Mode: ModeTopTracks, PlaylistName: "Top", RecommendationsPerSong: 1, TopTracksLimit: 2, IncludeLibraryTracks: true}
	result, err := newTestPipeline(sim, nil, metrics, nil).Generate(context.Background(), catalog, req, sink)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if got := sortedTitles(result); !slices.Equal(got, []string{"S2-b", "Shared"}) {
		t.Errorf("accepted = %v, want [S2-b Shared]", got)
	}
	if metrics.rejected["duplicate"] != 1 {
		t.Errorf("duplicate rejections = %d, want 1", metrics.rejected["duplicate"])
	}
	shared := 0
	for _, uri := range catalog.appendedURIs() {
		if uri == "spotify:track:shared" {
			shared++
		}
	}
	if shared != 1 {
		t.Errorf("shared track appended %d times, want 1", shared)
	}
	if !sink.contains("already in this playlist") {
		t.Errorf("expected duplicate skip event, got %v", sink.messages)
	}
}

func TestPipeline_Errors(t *testing.T) {
	t.Run("validation error before any call", func(t *testing.T) {
		catalog := newSeededCatalog()
		metrics := newRecordingMetrics()
		req := singleRequest(2, false)
		req.TrackRef = ""

		_, err := newTestPipeline(newMockSimilarity(), nil, metrics, nil).Generate(context.Background(), catalog, req, nil)
		if !IsValidationError(err) {
			t.Fatalf("Generate() error = %v, want ValidationError", err)
		}
		if len(catalog.created) != 0 {
			t.Error("no playlist should be created for an invalid request")
		}
		if metrics.runs["single/invalid"] != 1 {
			t.Errorf("run metrics = %v", metrics.runs)
		}
	})

	t.Run("create failure is fatal", func(t *testing.T) {
		catalog := newSeededCatalog()
		catalog.createErr = errors.New("forbidden")

		_, err := newTestPipeline(newMockSimilarity(), nil, nil, nil).Generate(context.Background(), catalog, singleRequest(2, true), nil)
		if !IsCommitError(err) {
			t.Errorf("Generate() error = %v, want CommitError", err)
		}
	})

	t.Run("auth required propagates", func(t *testing.T) {
		catalog := newSeededCatalog()
		catalog.userErr = ErrAuthRequired

		_, err := newTestPipeline(newMockSimilarity(), nil, nil, nil).Generate(context.Background(), catalog, singleRequest(2, true), nil)
		if !errors.Is(err, ErrAuthRequired) {
			t.Errorf("Generate() error = %v, want ErrAuthRequired", err)
		}
	})

	t.Run("auth required from one seed cancels the run", func(t *testing.T) {
		catalog := newMockCatalog()
		catalog.topTracks = []Track{catalogTrack("Seed 1", "A"), catalogTrack("Seed 2", "B")}
		catalog.recommendErr = ErrAuthRequired

		req := Request{Mode: ModeTopTracks, PlaylistName: "Top", RecommendationsPerSong: 1, TopTracksLimit: 2}
		_, err := newTestPipeline(newMockSimilarity(), nil, nil, nil).Generate(context.Background(), catalog, req, nil)
		if !errors.Is(err, ErrAuthRequired) {
			t.Errorf("Generate() error = %v, want ErrAuthRequired", err)
		}
	})
}

func TestPipeline_DegradedRunsStillSucceed(t *testing.T) {
	t.Run("no candidates anywhere", func(t *testing.T) {
		catalog := newSeededCatalog()
		sink := &recordingSink{}

		result, err := newTestPipeline(newMockSimilarity(), nil, nil, nil).Generate(context.Background(), catalog, singleRequest(3, false), sink)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if result.PlaylistID == "" || len(result.AcceptedTitles) != 0 {
			t.Errorf("want empty result with a playlist, got %+v", result)
		}
		if !sink.contains("No candidates found") {
			t.Errorf("expected no-candidates event, got %v", sink.messages)
		}
	})

	t.Run("library unavailable disables filtering", func(t *testing.T) {
		catalog := newSeededCatalog()
		catalog.libraryErr = errors.New("timeout")
		sim := newMockSimilarity()
		sim.results["Song A"] = []SimilarTrack{{Title: "T1", Artist: "X", Match: 0.9}}
		sink := &recordingSink{}

		result, err := newTestPipeline(sim, nil, nil, nil).Generate(context.Background(), catalog, singleRequest(1, false), sink)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(result.AcceptedTitles) != 1 {
			t.Errorf("accepted = %v, want [T1]", result.AcceptedTitles)
		}
		if !sink.contains("Could not load your library") {
			t.Errorf("expected library unavailable event, got %v", sink.messages)
		}
	})
}

func TestPipeline_Description(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		describer Describer
		want      string
	}{
		{name: "request wins", requested: "mine", describer: &mockDescriber{description: "llm"}, want: "mine"},
		{name: "describer", describer: &mockDescriber{description: " llm text "}, want: "llm text"},
		{name: "describer error uses template", describer: &mockDescriber{err: errors.New("down")}, want: "Generated by seedmix from Artist A - Song A"},
		{name: "no describer uses template", want: "Generated by seedmix from Artist A - Song A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newSeededCatalog()
			req := singleRequest(1, true)
			req.Description = tt.requested

			if _, err := newTestPipeline(newMockSimilarity(), nil, nil, tt.describer).Generate(context.Background(), catalog, req, nil); err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if len(catalog.created) != 1 || catalog.created[0].Description != tt.want {
				t.Errorf("description = %q, want %q", catalog.created[0].Description, tt.want)
			}
		})
	}
}
