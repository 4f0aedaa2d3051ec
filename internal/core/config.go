package core

import (
	"time"

	"seedmix/internal/i18n"
)

const (
	// DefaultServerPort is the default HTTP server port
	DefaultServerPort = 8080
	// DefaultUpstreamTimeoutSecs bounds every similarity and catalog call
	DefaultUpstreamTimeoutSecs = 10
	// DefaultBackfillFactor sizes the ranked window relative to the requested count
	DefaultBackfillFactor = 3
	// DefaultTopTracksLimit is the number of top tracks used as seeds
	DefaultTopTracksLimit = 5
	// DefaultGenerateLimitPerMinute is the per-client request limit of the HTTP API
	DefaultGenerateLimitPerMinute = 4
	// DefaultLastFMRequestsPerSecond stays under the Last.fm API rate limit
	DefaultLastFMRequestsPerSecond = 5
	// DefaultLastFMCacheSize is the number of similarity responses kept in memory
	DefaultLastFMCacheSize = 512
	// DefaultLastFMCacheTTL is how long a similarity response is reused
	DefaultLastFMCacheTTL = 6 * time.Hour
	// DefaultDescriptionTemplate is used when the request has no description
	DefaultDescriptionTemplate = "Generated by seedmix from {seeds}"
)

type Config struct {
	Spotify SpotifyConfig
	LastFM  LastFMConfig
	LLM     LLMConfig
	Server  ServerConfig
	Log     LogConfig
	App     AppConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string
	// PageTimeout bounds each page of a paged library read; zero disables it
	PageTimeout time.Duration
}

type LastFMConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
	CacheSize         int
	CacheTTL          time.Duration
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	UpstreamTimeoutSecs    int
	BackfillFactor         int
	TopTracksLimit         int
	DescriptionTemplate    string
	LedgerPath             string
	Language               string
	GenerateLimitPerMinute int
}

// UpstreamTimeout returns the per-call deadline for similarity and catalog requests.
func (a AppConfig) UpstreamTimeout() time.Duration {
	if a.UpstreamTimeoutSecs <= 0 {
		return DefaultUpstreamTimeoutSecs * time.Second
	}
	return time.Duration(a.UpstreamTimeoutSecs) * time.Second
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
			TokenPath:   "./spotify_token.json",
			PageTimeout: DefaultUpstreamTimeoutSecs * time.Second,
		},
		LastFM: LastFMConfig{
			BaseURL:           "https://ws.audioscrobbler.com/2.0/",
			RequestsPerSecond: DefaultLastFMRequestsPerSecond,
			CacheSize:         DefaultLastFMCacheSize,
			CacheTTL:          DefaultLastFMCacheTTL,
		},
		LLM: LLMConfig{
			Provider: "none",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			UpstreamTimeoutSecs:    DefaultUpstreamTimeoutSecs,
			BackfillFactor:         DefaultBackfillFactor,
			TopTracksLimit:         DefaultTopTracksLimit,
			DescriptionTemplate:    DefaultDescriptionTemplate,
			LedgerPath:             "./seedmix_ledger.db",
			Language:               i18n.DefaultLanguage,
			GenerateLimitPerMinute: DefaultGenerateLimitPerMinute,
		},
	}
}
