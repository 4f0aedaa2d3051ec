package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seedmix/internal/i18n"
)

// PipelineDeps are the collaborators shared by all runs of a Pipeline.
// The catalog client is passed per run because it carries the user's credential.
type PipelineDeps struct {
	Similarity SimilarityClient
	Describer  Describer
	Ledger     Ledger
	NewLibrary func(expected int) LibraryLookup
	Metrics    MetricsRecorder
	Localizer  *i18n.Localizer
	Logger     *zap.Logger
}

// Pipeline generates playlists from seed tracks.
type Pipeline struct {
	cfg        AppConfig
	similarity SimilarityClient
	describer  Describer
	ledger     Ledger
	newLibrary func(expected int) LibraryLookup
	metrics    MetricsRecorder
	localizer  *i18n.Localizer
	logger     *zap.Logger
}

func NewPipeline(cfg AppConfig, deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		similarity: deps.Similarity,
		describer:  deps.Describer,
		ledger:     deps.Ledger,
		newLibrary: deps.NewLibrary,
		metrics:    deps.Metrics,
		localizer:  deps.Localizer,
		logger:     deps.Logger,
	}
	if p.metrics == nil {
		p.metrics = NopMetrics{}
	}
	if p.localizer == nil {
		p.localizer = i18n.NewLocalizer(cfg.Language)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.newLibrary == nil {
		p.newLibrary = newSetLibrary
	}
	if p.cfg.BackfillFactor < 1 {
		p.cfg.BackfillFactor = DefaultBackfillFactor
	}
	if p.cfg.TopTracksLimit <= 0 {
		p.cfg.TopTracksLimit = DefaultTopTracksLimit
	}
	return p
}

// Generate runs the whole pipeline for req against catalog. Progress is reported to
// sink, which may be nil. Only validation, authentication and playlist creation
// failures are returned; everything else degrades to fewer accepted tracks.
func (p *Pipeline) Generate(ctx context.Context, catalog CatalogClient, req Request, sink ProgressSink) (*Result, error) {
	start := time.Now()
	if sink == nil {
		sink = discardSink{}
	}

	req.Normalize(p.cfg.TopTracksLimit)
	if err := req.Validate(); err != nil {
		p.metrics.RecordRun(string(req.Mode), "invalid")
		return nil, err
	}

	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run_id", runID), zap.String("mode", string(req.Mode)))
	timeout := p.cfg.UpstreamTimeout()

	result, err := p.generate(ctx, catalog, &req, sink, runID, timeout, logger)

	duration := time.Since(start)
	p.metrics.RecordRunDuration(string(req.Mode), duration)
	if err != nil {
		p.metrics.RecordRun(string(req.Mode), runStatus(err))
		logger.Warn("Playlist generation failed", zap.Error(err), zap.Duration("duration", duration))
		return nil, err
	}

	p.metrics.RecordRun(string(req.Mode), "success")
	logger.Info("Playlist generation finished",
		zap.String("playlist_id", result.PlaylistID),
		zap.Int("accepted", len(result.AcceptedTitles)),
		zap.Duration("duration", duration))
	return result, nil
}

func (p *Pipeline) generate(
	ctx context.Context,
	catalog CatalogClient,
	req *Request,
	sink ProgressSink,
	runID string,
	timeout time.Duration,
	logger *zap.Logger,
) (*Result, error) {
	seeds, err := NewSeedResolver(catalog, timeout, logger.Named("seeds")).ResolveSeeds(ctx, req)
	if err != nil {
		return nil, err
	}
	sink.Emit(p.localizer.T("progress.seeds_resolved", len(seeds)))

	callCtx, cancel := withTimeout(ctx, timeout)
	ownerID, err := catalog.CurrentUserID(callCtx)
	cancel()
	if err != nil {
		if errors.Is(err, ErrAuthRequired) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	description := p.describe(ctx, req, seeds, logger)

	committer := NewPlaylistCommitter(catalog, p.ledger, timeout, p.metrics, logger.Named("committer"))
	playlist, reused, err := committer.Begin(ctx, RunKey(ownerID, req, seeds), ownerID, req.PlaylistName, description, req.Public)
	if err != nil {
		return nil, err
	}
	if reused {
		sink.Emit(p.localizer.T("progress.playlist_reused", playlist.Name))
	} else {
		sink.Emit(p.localizer.T("progress.playlist_created", playlist.Name))
	}

	r := &run{
		pipeline:   p,
		catalog:    catalog,
		req:        req,
		sink:       sink,
		committer:  committer,
		source:     NewCandidateSource(p.similarity, catalog, p.cfg.BackfillFactor, timeout, p.localizer, p.metrics, logger.Named("candidates")),
		playlistID: playlist.ID,
		timeout:    timeout,
		logger:     logger,
	}

	if len(seeds) == 1 {
		err = r.processSeed(ctx, seeds[0])
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, seed := range seeds {
			g.Go(func() error {
				return r.processSeed(gctx, seed)
			})
		}
		err = g.Wait()
	}
	if err != nil {
		return nil, err
	}

	accepted := committer.Accepted()
	sink.Emit(p.localizer.T("progress.done", playlist.Name, len(accepted)))

	return &Result{
		RunID:          runID,
		PlaylistID:     playlist.ID,
		PlaylistName:   playlist.Name,
		PlaylistURL:    playlist.URL,
		AcceptedTitles: accepted,
		Seeds:          seeds,
	}, nil
}

// describe picks the playlist description: the request's own, a generated one,
// or the configured template.
func (p *Pipeline) describe(ctx context.Context, req *Request, seeds []Seed, logger *zap.Logger) string {
	if req.Description != "" {
		return req.Description
	}

	if p.describer != nil {
		callCtx, cancel := withTimeout(ctx, p.cfg.UpstreamTimeout())
		defer cancel()

		description, err := p.describer.DescribePlaylist(callCtx, req.PlaylistName, seeds)
		if err == nil && strings.TrimSpace(description) != "" {
			return strings.TrimSpace(description)
		}
		if err != nil {
			logger.Warn("Describer failed, using template", zap.Error(err))
		}
	}

	return RenderDescription(p.cfg.DescriptionTemplate, seeds)
}

// RenderDescription substitutes {seeds} in template with "Artist - Title" pairs.
func RenderDescription(template string, seeds []Seed) string {
	if template == "" {
		template = DefaultDescriptionTemplate
	}
	names := make([]string, 0, len(seeds))
	for _, s := range seeds {
		names = append(names, s.Artist+" - "+s.Title)
	}
	return strings.ReplaceAll(template, "{seeds}", strings.Join(names, ", "))
}

// run holds the per-request state shared by the seed subtasks.
type run struct {
	pipeline   *Pipeline
	catalog    CatalogClient
	req        *Request
	sink       ProgressSink
	committer  *PlaylistCommitter
	source     *CandidateSource
	playlistID string
	timeout    time.Duration
	logger     *zap.Logger

	filterOnce sync.Once
	filter     *LibraryFilter
	filterErr  error
}

func (r *run) processSeed(ctx context.Context, seed Seed) error {
	p := r.pipeline
	logger := r.logger.With(zap.String("seed_id", seed.CatalogID))
	count := r.req.PerSeedCount()

	r.sink.Emit(p.localizer.T("progress.seed_started", seed.Artist, seed.Title))

	accepted := r.committer.Restore(seed.CatalogID)
	defer func() {
		p.metrics.RecordAccepted(accepted)
		r.sink.Emit(p.localizer.T("progress.seed_done", accepted, count, seed.Artist, seed.Title))
		logger.Debug("Seed finished", zap.Int("accepted", accepted), zap.Int("requested", count))
	}()
	if accepted >= count {
		return nil
	}

	candidates, err := r.source.Candidates(ctx, seed, count-accepted, r.sink)
	if err != nil {
		return err
	}

	ranked := RankCandidates(candidates, count*p.cfg.BackfillFactor)
	if len(ranked) == 0 {
		r.sink.Emit(p.localizer.T("progress.no_candidates", seed.Artist, seed.Title))
		return nil
	}

	for next := 0; next < len(ranked) && accepted < count; {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(next+count-accepted, len(ranked))
		chunk := ranked[next:end]
		next = end

		resolved, err := r.resolve(ctx, chunk, logger)
		if err != nil {
			return err
		}

		filter, err := r.libraryFilter(ctx)
		if err != nil {
			return err
		}

		for _, rc := range filter.Filter(resolved) {
			if accepted >= count {
				break
			}
			outcome, err := r.committer.Append(ctx, seed.CatalogID, rc)
			switch {
			case err != nil:
				if errors.Is(err, ErrAuthRequired) {
					return err
				}
				logger.Warn("Append failed, skipping track", zap.String("uri", rc.Track.URI), zap.Error(err))
				p.metrics.RecordRejected("append_failed")
				r.sink.Emit(p.localizer.T("progress.append_failed", rc.Candidate.Artist, rc.Candidate.Title))
			case outcome == AppendDuplicate:
				p.metrics.RecordRejected("duplicate")
				r.sink.Emit(p.localizer.T("progress.duplicate_skip", rc.Candidate.Artist, rc.Candidate.Title))
			case outcome == AppendAdded:
				accepted++
				r.sink.Emit(p.localizer.T("progress.track_added", rc.Candidate.Artist, rc.Candidate.Title))
			}
		}
	}

	return nil
}

// resolve maps each candidate to a catalog track. Unmatched candidates are dropped.
func (r *run) resolve(ctx context.Context, chunk []Candidate, logger *zap.Logger) ([]ResolvedCandidate, error) {
	resolved := make([]ResolvedCandidate, 0, len(chunk))
	for _, c := range chunk {
		rc, err := resolveCandidate(ctx, r.catalog, r.timeout, c)
		if err != nil {
			if errors.Is(err, ErrAuthRequired) {
				return nil, err
			}
			if errors.Is(err, ErrNoMatch) {
				r.pipeline.metrics.RecordRejected("no_match")
				logger.Debug("No catalog match", zap.String("artist", c.Artist), zap.String("title", c.Title))
			} else {
				r.pipeline.metrics.RecordRejected("search_failed")
				logger.Warn("Catalog search failed", zap.String("artist", c.Artist), zap.String("title", c.Title), zap.Error(err))
			}
			continue
		}
		resolved = append(resolved, rc)
	}
	return resolved, nil
}

// libraryFilter builds the filter on first use. The library is only fetched when
// library tracks are excluded; a failed saved-tracks fetch disables filtering for the run.
func (r *run) libraryFilter(ctx context.Context) (*LibraryFilter, error) {
	r.filterOnce.Do(func() {
		p := r.pipeline
		var index LibraryLookup
		if !r.req.IncludeLibraryTracks {
			var err error
			index, err = loadLibrary(ctx, r.catalog, p.newLibrary, r.playlistID, r.sink, p.localizer, r.logger.Named("library"))
			if err != nil {
				if errors.Is(err, ErrAuthRequired) {
					r.filterErr = err
					return
				}
				r.logger.Warn("Library unavailable, not filtering", zap.Error(err))
				r.sink.Emit(p.localizer.T("progress.library_unavailable"))
				index = nil
			} else {
				r.logger.Debug("Library index loaded", zap.Int("tracks", index.Size()))
			}
		}
		r.filter = NewLibraryFilter(r.req.IncludeLibraryTracks, index, r.sink, p.localizer, p.metrics, r.logger.Named("library"))
	})
	return r.filter, r.filterErr
}

func runStatus(err error) string {
	switch {
	case IsValidationError(err):
		return "invalid"
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case IsCommitError(err):
		return "commit_failed"
	default:
		return "failed"
	}
}

type discardSink struct{}

func (discardSink) Emit(string) {}

// setLibrary is the LibraryLookup used when no index constructor is configured.
type setLibrary map[string]struct{}

func newSetLibrary(expected int) LibraryLookup {
	return make(setLibrary, expected)
}

func (s setLibrary) Has(uri string) bool {
	_, ok := s[uri]
	return ok
}

func (s setLibrary) Load(uris []string) {
	for _, uri := range uris {
		s[uri] = struct{}{}
	}
}

func (s setLibrary) Size() int {
	return len(s)
}
