// Package lastfm implements the similarity client on top of the Last.fm track.getSimilar API.
package lastfm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"seedmix/internal/core"
	"seedmix/pkg/fuzzy"
)

const (
	// errCodeNotFound is returned by Last.fm for unknown tracks and artists
	errCodeNotFound  = 6
	maxResponseBytes = 4 << 20
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *expirable.LRU[string, []core.SimilarTrack]
	normalizer *fuzzy.Normalizer
	logger     *zap.Logger
}

func NewClient(config *core.LastFMConfig, logger *zap.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = core.DefaultConfig().LastFM.BaseURL
	}

	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = core.DefaultLastFMRequestsPerSecond
	}

	cacheSize := config.CacheSize
	if cacheSize <= 0 {
		cacheSize = core.DefaultLastFMCacheSize
	}

	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = core.DefaultLastFMCacheTTL
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		cache:      expirable.NewLRU[string, []core.SimilarTrack](cacheSize, nil, ttl),
		normalizer: fuzzy.NewNormalizer(),
		logger:     logger,
	}, nil
}

// GetSimilar returns up to limit tracks similar to artist/title, best match first.
// Unknown tracks yield an empty result; transport and API failures wrap
// core.ErrUpstreamUnavailable.
func (c *Client) GetSimilar(ctx context.Context, artist, title string, limit int) ([]core.SimilarTrack, error) {
	title = c.normalizer.StripFeaturing(title)
	key := c.normalizer.Key(artist, title) + "#" + strconv.Itoa(limit)

	if cached, ok := c.cache.Get(key); ok {
		c.logger.Debug("Similarity cache hit", zap.String("artist", artist), zap.String("title", title))
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", core.ErrUpstreamUnavailable, err)
	}

	body, status, err := c.fetch(ctx, artist, title, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON response (status %d)", core.ErrUpstreamUnavailable, status)
	}

	if code := gjson.GetBytes(body, "error"); code.Exists() {
		if code.Int() == errCodeNotFound {
			c.logger.Debug("Track unknown to Last.fm", zap.String("artist", artist), zap.String("title", title))
			c.cache.Add(key, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: last.fm error %d: %s",
			core.ErrUpstreamUnavailable, code.Int(), gjson.GetBytes(body, "message").String())
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: last.fm returned status %d", core.ErrUpstreamUnavailable, status)
	}

	tracks := c.parseSimilar(body, artist, title, limit)
	c.cache.Add(key, tracks)

	c.logger.Debug("Similar tracks fetched",
		zap.String("artist", artist),
		zap.String("title", title),
		zap.Int("count", len(tracks)))

	return tracks, nil
}

func (c *Client) fetch(ctx context.Context, artist, title string, limit int) ([]byte, int, error) {
	params := url.Values{}
	params.Set("method", "track.getsimilar")
	params.Set("artist", artist)
	params.Set("track", title)
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	params.Set("autocorrect", "1")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("last.fm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) parseSimilar(body []byte, seedArtist, seedTitle string, limit int) []core.SimilarTrack {
	var tracks []core.SimilarTrack

	// Array wraps a lone object, which Last.fm returns for single results.
	for _, item := range gjson.GetBytes(body, "similartracks.track").Array() {
		if limit > 0 && len(tracks) >= limit {
			break
		}

		name := item.Get("name").String()
		artist := item.Get("artist.name").String()
		if name == "" || artist == "" {
			continue
		}
		if c.normalizer.SameTrack(seedArtist, seedTitle, artist, name) {
			continue
		}

		tracks = append(tracks, core.SimilarTrack{
			Title:  name,
			Artist: artist,
			Match:  clamp(item.Get("match").Float()),
		})
	}

	return tracks
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

var _ core.SimilarityClient = (*Client)(nil)
