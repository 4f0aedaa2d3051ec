package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"seedmix/internal/i18n"
)

// CandidateSource produces raw candidates for one seed. The similarity service is
// asked first; the catalog recommender is used when it has nothing or fails.
type CandidateSource struct {
	similarity     SimilarityClient
	catalog        CatalogClient
	backfillFactor int
	timeout        time.Duration
	localizer      *i18n.Localizer
	metrics        MetricsRecorder
	logger         *zap.Logger
}

func NewCandidateSource(
	similarity SimilarityClient,
	catalog CatalogClient,
	backfillFactor int,
	timeout time.Duration,
	localizer *i18n.Localizer,
	metrics MetricsRecorder,
	logger *zap.Logger,
) *CandidateSource {
	if backfillFactor < 1 {
		backfillFactor = 1
	}
	return &CandidateSource{
		similarity:     similarity,
		catalog:        catalog,
		backfillFactor: backfillFactor,
		timeout:        timeout,
		localizer:      localizer,
		metrics:        metrics,
		logger:         logger,
	}
}

// Candidates returns the unranked candidates for seed. An empty list is a valid
// outcome. Only ErrAuthRequired from the catalog is returned as an error.
func (s *CandidateSource) Candidates(ctx context.Context, seed Seed, count int, sink ProgressSink) ([]Candidate, error) {
	if count <= 0 {
		return nil, nil
	}

	similar, err := s.lookupSimilar(ctx, seed, count*s.backfillFactor)
	if err == nil && len(similar) > 0 {
		candidates := make([]Candidate, 0, len(similar))
		for _, st := range similar {
			score := st.Match
			candidates = append(candidates, Candidate{
				Title:      st.Title,
				Artist:     st.Artist,
				MatchScore: &score,
				Source:     SourceSimilarity,
			})
		}
		s.metrics.RecordCandidates(SourceSimilarity, len(candidates))
		return candidates, nil
	}

	if err != nil {
		s.logger.Warn("Similarity lookup failed, falling back to recommendations",
			zap.String("artist", seed.Artist),
			zap.String("title", seed.Title),
			zap.Error(err))
	}

	return s.fallback(ctx, seed, count, sink)
}

func (s *CandidateSource) lookupSimilar(ctx context.Context, seed Seed, limit int) ([]SimilarTrack, error) {
	if s.similarity == nil {
		return nil, nil
	}

	callCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.similarity.GetSimilar(callCtx, seed.Artist, seed.Title, limit)
}

func (s *CandidateSource) fallback(ctx context.Context, seed Seed, count int, sink ProgressSink) ([]Candidate, error) {
	s.metrics.RecordFallback()
	sink.Emit(s.localizer.T("progress.fallback", seed.Artist, seed.Title))

	callCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tracks, err := s.catalog.RecommendByTrack(callCtx, seed.CatalogID, count)
	if err != nil {
		if errors.Is(err, ErrAuthRequired) {
			return nil, err
		}
		s.logger.Warn("Fallback recommendations failed",
			zap.String("seed_id", seed.CatalogID),
			zap.Error(err))
		sink.Emit(s.localizer.T("progress.fallback_failed", seed.Artist, seed.Title))
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(tracks))
	for _, t := range tracks {
		candidates = append(candidates, Candidate{
			Title:  t.Title,
			Artist: t.Artist,
			Source: SourceFallback,
		})
	}
	s.metrics.RecordCandidates(SourceFallback, len(candidates))
	return candidates, nil
}
