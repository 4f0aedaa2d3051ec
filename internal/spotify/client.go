// Package spotify implements the catalog client on top of the Spotify Web API.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"seedmix/internal/core"
	"seedmix/pkg/fuzzy"
)

const (
	// FilePermission is the permission for token files
	FilePermission = 0600
	// SpotifyIDLength is the expected length of a Spotify track/artist/album ID
	SpotifyIDLength = 22
	// MaxTrackSearchResults limits track search results
	MaxTrackSearchResults = 10
	// MaxRecommendations is the upper bound the recommendations endpoint accepts
	MaxRecommendations = 100
	// PlaylistAddBatchSize is the maximum number of tracks per add request
	PlaylistAddBatchSize = 100
	// SavedTracksPageSize is the maximum page size of the saved tracks endpoint
	SavedTracksPageSize = 50
	// PlaylistsPageSize is the maximum page size of the playlists endpoint
	PlaylistsPageSize = 50
	// PlaylistItemsPageSize is the maximum page size of the playlist items endpoint
	PlaylistItemsPageSize = 100
	// ReleaseDateYearLength is the expected length of a release date year string
	ReleaseDateYearLength = 4
	// ShortLinkTimeout bounds resolution of spotify.link URLs
	ShortLinkTimeout = 5 * time.Second
	// MaxRedirects bounds redirects followed while resolving short links
	MaxRedirects = 5
)

var (
	spotifyTrackRegex = regexp.MustCompile(`(?:https?://)?(?:open\.)?spotify\.com/(?:intl-[a-z]+/)?track/([a-zA-Z0-9]+)`)
	spotifyURIRegex   = regexp.MustCompile(`^spotify:track:([a-zA-Z0-9]+)$`)
	spotifyIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9]{22}$`)
	shortLinkHosts    = map[string]bool{"spotify.link": true, "spotify.app.link": true}
)

// Scopes are the OAuth scopes the generator needs.
var Scopes = []string{
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopeUserTopRead,
}

type Client struct {
	config     *core.SpotifyConfig
	logger     *zap.Logger
	client     *spotify.Client
	normalizer *fuzzy.Normalizer
	auth       *spotifyauth.Authenticator
	linkClient *http.Client
}

type TokenData struct {
	Token *oauth2.Token `json:"token"`
}

func NewClient(config *core.SpotifyConfig, logger *zap.Logger) *Client {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(config.RedirectURL),
		spotifyauth.WithScopes(Scopes...),
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithClientSecret(config.ClientSecret),
	)

	return &Client{
		config:     config,
		logger:     logger,
		normalizer: fuzzy.NewNormalizer(),
		auth:       auth,
		linkClient: newLinkClient(),
	}
}

// NewClientWithToken returns a client authenticated with a caller-supplied token.
// Each HTTP request builds its own client this way; nothing is shared between users.
func NewClientWithToken(ctx context.Context, config *core.SpotifyConfig, token *oauth2.Token, logger *zap.Logger) *Client {
	c := NewClient(config, logger)
	c.client = spotify.New(c.auth.Client(ctx, token))
	return c
}

// NewClientWithHTTP returns a client that sends API calls through httpClient to baseURL.
// baseURL must end with a slash.
func NewClientWithHTTP(httpClient *http.Client, baseURL string, logger *zap.Logger) *Client {
	return &Client{
		config:     &core.SpotifyConfig{},
		logger:     logger,
		client:     spotify.New(httpClient, spotify.WithBaseURL(baseURL)),
		normalizer: fuzzy.NewNormalizer(),
		linkClient: newLinkClient(),
	}
}

func newLinkClient() *http.Client {
	return &http.Client{
		Timeout: ShortLinkTimeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// Authenticate loads the saved token or runs the interactive OAuth flow.
func (c *Client) Authenticate(ctx context.Context) error {
	token, err := c.loadToken()
	if err != nil {
		c.logger.Info("No saved token found, starting OAuth flow")
		return c.startOAuthFlow(ctx)
	}

	client := spotify.New(c.auth.Client(ctx, token))
	c.client = client

	user, err := client.CurrentUser(ctx)
	if err != nil {
		c.logger.Warn("Saved token invalid, starting OAuth flow", zap.Error(err))
		return c.startOAuthFlow(ctx)
	}

	c.logger.Info("Authenticated successfully", zap.String("user", user.DisplayName))
	return nil
}

func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	if c.client == nil {
		return "", core.ErrAuthRequired
	}

	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		return "", c.wrapError("failed to get current user", err)
	}
	return user.ID, nil
}

func (c *Client) GetTrack(ctx context.Context, trackID string) (*core.Track, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}

	track, err := c.client.GetTrack(ctx, spotify.ID(trackID))
	if err != nil {
		return nil, c.wrapError("failed to get track", err)
	}

	coreTrack := convertFullTrack(track)
	return &coreTrack, nil
}

// SearchTrack searches by title and artist field filters. With an empty artist the
// title is used as a free-text query. No results is an empty slice, not an error.
func (c *Client) SearchTrack(ctx context.Context, title, artist string) ([]core.Track, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}

	query := c.buildSearchQuery(title, artist)
	results, err := c.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(MaxTrackSearchResults))
	if err != nil {
		return nil, c.wrapError("search failed", err)
	}

	if results.Tracks == nil || len(results.Tracks.Tracks) == 0 {
		c.logger.Debug("Search returned no tracks", zap.String("query", query))
		return []core.Track{}, nil
	}

	tracks := make([]core.Track, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		tracks = append(tracks, convertFullTrack(&results.Tracks.Tracks[i]))
	}
	return tracks, nil
}

func (c *Client) buildSearchQuery(title, artist string) string {
	title = strings.ReplaceAll(c.normalizer.StripFeaturing(title), `"`, "")
	artist = strings.ReplaceAll(strings.TrimSpace(artist), `"`, "")

	if artist == "" {
		return title
	}
	return fmt.Sprintf(`track:"%s" artist:"%s"`, title, artist)
}

func (c *Client) RecommendByTrack(ctx context.Context, trackID string, limit int) ([]core.Track, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}
	if limit <= 0 {
		return []core.Track{}, nil
	}
	limit = min(limit, MaxRecommendations)

	seeds := spotify.Seeds{Tracks: []spotify.ID{spotify.ID(trackID)}}
	recs, err := c.client.GetRecommendations(ctx, seeds, spotify.NewTrackAttributes(), spotify.Limit(limit))
	if err != nil {
		return nil, c.wrapError("failed to get recommendations", err)
	}

	tracks := make([]core.Track, 0, len(recs.Tracks))
	for i := range recs.Tracks {
		tracks = append(tracks, convertSimpleTrack(&recs.Tracks[i]))
	}

	c.logger.Debug("Recommendations fetched",
		zap.String("seed", trackID),
		zap.Int("count", len(tracks)))
	return tracks, nil
}

func (c *Client) CreatePlaylist(ctx context.Context, userID, name, description string, public bool) (*core.Playlist, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}

	playlist, err := c.client.CreatePlaylistForUser(ctx, userID, name, description, public, false)
	if err != nil {
		return nil, c.wrapError("failed to create playlist", err)
	}

	c.logger.Info("Playlist created",
		zap.String("playlistID", string(playlist.ID)),
		zap.String("name", playlist.Name))

	return &core.Playlist{
		ID:          string(playlist.ID),
		Name:        playlist.Name,
		Description: playlist.Description,
		Owner:       playlist.Owner.DisplayName,
		OwnerID:     playlist.Owner.ID,
		URL:         playlist.ExternalURLs["spotify"],
	}, nil
}

// AppendTracks adds uris to the end of the playlist in batches of PlaylistAddBatchSize.
func (c *Client) AppendTracks(ctx context.Context, playlistID string, uris []string) error {
	if c.client == nil {
		return core.ErrAuthRequired
	}

	ids := make([]spotify.ID, 0, len(uris))
	for _, uri := range uris {
		id, err := trackIDFromURI(uri)
		if err != nil {
			return err
		}
		ids = append(ids, spotify.ID(id))
	}

	for start := 0; start < len(ids); start += PlaylistAddBatchSize {
		end := min(start+PlaylistAddBatchSize, len(ids))
		if _, err := c.client.AddTracksToPlaylist(ctx, spotify.ID(playlistID), ids[start:end]...); err != nil {
			return c.wrapError("failed to add tracks to playlist", err)
		}
	}

	c.logger.Debug("Tracks added to playlist",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(ids)))
	return nil
}

func (c *Client) GetUserTopTracks(ctx context.Context, limit int) ([]core.Track, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}

	page, err := c.client.CurrentUsersTopTracks(ctx, spotify.Limit(limit))
	if err != nil {
		return nil, c.wrapError("failed to get top tracks", err)
	}

	tracks := make([]core.Track, 0, len(page.Tracks))
	for i := range page.Tracks {
		tracks = append(tracks, convertFullTrack(&page.Tracks[i]))
	}
	return tracks, nil
}

// pageContext bounds one request of a paged read.
func (c *Client) pageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.PageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.PageTimeout)
}

// GetSavedLibrary returns the URIs of every track in the user's saved library.
func (c *Client) GetSavedLibrary(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}

	var uris []string
	for offset := 0; ; offset += SavedTracksPageSize {
		pageCtx, cancel := c.pageContext(ctx)
		page, err := c.client.CurrentUsersTracks(pageCtx, spotify.Limit(SavedTracksPageSize), spotify.Offset(offset))
		cancel()
		if err != nil {
			return nil, c.wrapError("failed to get saved tracks", err)
		}

		for i := range page.Tracks {
			if page.Tracks[i].URI != "" {
				uris = append(uris, string(page.Tracks[i].URI))
			}
		}

		if len(page.Tracks) < SavedTracksPageSize {
			break
		}
	}

	c.logger.Debug("Retrieved saved tracks", zap.Int("count", len(uris)))
	return uris, nil
}

func (c *Client) GetUserPlaylists(ctx context.Context) ([]core.Playlist, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}

	var playlists []core.Playlist
	for offset := 0; ; offset += PlaylistsPageSize {
		pageCtx, cancel := c.pageContext(ctx)
		page, err := c.client.CurrentUsersPlaylists(pageCtx, spotify.Limit(PlaylistsPageSize), spotify.Offset(offset))
		cancel()
		if err != nil {
			return nil, c.wrapError("failed to get playlists", err)
		}

		for i := range page.Playlists {
			pl := &page.Playlists[i]
			playlists = append(playlists, core.Playlist{
				ID:          string(pl.ID),
				Name:        pl.Name,
				Description: pl.Description,
				TrackCount:  int(pl.Tracks.Total), //nolint:gosec // Spotify playlist counts are reasonable for int conversion
				Owner:       pl.Owner.DisplayName,
				OwnerID:     pl.Owner.ID,
				URL:         pl.ExternalURLs["spotify"],
			})
		}

		if len(page.Playlists) < PlaylistsPageSize {
			break
		}
	}

	return playlists, nil
}

// GetPlaylistTracks returns the track URIs of a playlist. Episodes and removed tracks are skipped.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistID string) ([]string, error) {
	if c.client == nil {
		return nil, core.ErrAuthRequired
	}

	var uris []string
	for offset := 0; ; offset += PlaylistItemsPageSize {
		pageCtx, cancel := c.pageContext(ctx)
		items, err := c.client.GetPlaylistItems(pageCtx, spotify.ID(playlistID),
			spotify.Limit(PlaylistItemsPageSize), spotify.Offset(offset))
		cancel()
		if err != nil {
			return nil, c.wrapError("failed to get playlist items", err)
		}

		for i := range items.Items {
			if track := items.Items[i].Track.Track; track != nil && track.URI != "" {
				uris = append(uris, string(track.URI))
			}
		}

		if len(items.Items) < PlaylistItemsPageSize {
			break
		}
	}

	c.logger.Debug("Retrieved playlist tracks",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(uris)))
	return uris, nil
}

// ExtractTrackID accepts a track URL, a spotify:track URI, a bare ID or a spotify.link short link.
func (c *Client) ExtractTrackID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	if matches := spotifyURIRegex.FindStringSubmatch(ref); len(matches) > 1 {
		return matches[1], nil
	}

	if matches := spotifyTrackRegex.FindStringSubmatch(ref); len(matches) > 1 {
		return matches[1], nil
	}

	if spotifyIDRegex.MatchString(ref) {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("not a Spotify track reference: %q", ref)
	}

	if shortLinkHosts[strings.ToLower(u.Hostname())] {
		resolved, err := c.resolveShortURL(ref)
		if err != nil {
			return "", fmt.Errorf("failed to resolve shortened URL: %w", err)
		}
		if matches := spotifyTrackRegex.FindStringSubmatch(resolved); len(matches) > 1 {
			return matches[1], nil
		}
	}

	return "", fmt.Errorf("no track ID found in URL %q", ref)
}

// resolveShortURL follows redirects of a shortened Spotify URL.
func (c *Client) resolveShortURL(shortURL string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ShortLinkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, http.NoBody)
	if err != nil {
		return "", err
	}

	resp, err := c.linkClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return resp.Request.URL.String(), nil
}

// wrapError maps expired or missing credentials to core.ErrAuthRequired.
func (c *Client) wrapError(msg string, err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %s", msg, core.ErrAuthRequired, apiErr.Message)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%s: %w: token refresh failed", msg, core.ErrAuthRequired)
	}

	return fmt.Errorf("%s: %w", msg, err)
}

func trackIDFromURI(uri string) (string, error) {
	if matches := spotifyURIRegex.FindStringSubmatch(uri); len(matches) > 1 {
		return matches[1], nil
	}
	if spotifyIDRegex.MatchString(uri) {
		return uri, nil
	}
	return "", fmt.Errorf("invalid track URI %q", uri)
}

func convertFullTrack(track *spotify.FullTrack) core.Track {
	t := convertSimpleTrack(&track.SimpleTrack)
	t.Album = track.Album.Name
	t.Year = releaseYear(track.Album.ReleaseDate)
	return t
}

func convertSimpleTrack(track *spotify.SimpleTrack) core.Track {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}

	return core.Track{
		ID:       string(track.ID),
		URI:      string(track.URI),
		Title:    track.Name,
		Artist:   strings.Join(artists, ", "),
		Duration: time.Duration(track.Duration) * time.Millisecond,
		URL:      track.ExternalURLs["spotify"],
	}
}

func releaseYear(releaseDate string) int {
	if len(releaseDate) < ReleaseDateYearLength {
		return 0
	}
	var year int
	if _, err := fmt.Sscanf(releaseDate[:ReleaseDateYearLength], "%d", &year); err != nil {
		return 0
	}
	return year
}

func (c *Client) startOAuthFlow(ctx context.Context) error {
	state := "seedmix-auth-state"
	authURL := c.auth.AuthURL(state)

	fmt.Printf("Please visit the following URL to authorize the application:\n%s\n", authURL)
	fmt.Print("Enter the authorization code: ")

	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	token, err := c.auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	if saveErr := c.saveToken(token); saveErr != nil {
		c.logger.Warn("Failed to save token", zap.Error(saveErr))
	}

	client := spotify.New(c.auth.Client(ctx, token))
	c.client = client

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}

	c.logger.Info("OAuth flow completed successfully", zap.String("user", user.DisplayName))
	return nil
}

func (c *Client) loadToken() (*oauth2.Token, error) {
	file, err := os.Open(c.config.TokenPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	var tokenData TokenData
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return nil, err
	}
	if tokenData.Token == nil {
		return nil, errors.New("token file has no token")
	}

	return tokenData.Token, nil
}

func (c *Client) saveToken(token *oauth2.Token) error {
	tokenData := TokenData{Token: token}

	data, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.config.TokenPath, data, FilePermission)
}

var _ core.CatalogClient = (*Client)(nil)
