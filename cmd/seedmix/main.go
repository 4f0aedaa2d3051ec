// Package main provides the seedmix CLI application entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"seedmix/internal/core"
	"seedmix/internal/flood"
	httpserver "seedmix/internal/http"
	"seedmix/internal/i18n"
	"seedmix/internal/lastfm"
	"seedmix/internal/llm"
	"seedmix/internal/progress"
	"seedmix/internal/spotify"
	"seedmix/internal/store"
)

const (
	defaultServerHost = "0.0.0.0"
	noneProvider      = "none"
	envPrefix         = "SEEDMIX"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "seedmix",
	Short: "seedmix - Spotify playlists grown from seed tracks",
	Long: `seedmix builds Spotify playlists from a seed track or from your top tracks.
Similar tracks come from Last.fm, with Spotify recommendations as a fallback.`,
	RunE: runRoot,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one playlist and exit",
	RunE:  runGenerate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the playlist API",
	RunE:  runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", "", "Spotify OAuth redirect URL")
	flags.String("spotify-token-path", "./spotify_token.json", "Spotify token storage path")
	flags.String("lastfm-api-key", "", "Last.fm API key (empty disables similarity lookups)")
	flags.String("lastfm-base-url", core.DefaultConfig().LastFM.BaseURL, "Last.fm API base URL")
	flags.Float64("lastfm-requests-per-second", core.DefaultLastFMRequestsPerSecond, "Last.fm request rate limit")
	flags.Int("lastfm-cache-size", core.DefaultLastFMCacheSize, "Number of cached similarity responses")
	flags.Duration("lastfm-cache-ttl", core.DefaultLastFMCacheTTL, "Lifetime of cached similarity responses")
	flags.String("llm-provider", noneProvider, "LLM provider for playlist descriptions (openai, anthropic, ollama, none)")
	flags.String("llm-model", "", "LLM model name")
	flags.String("llm-api-key", "", "LLM API key")
	flags.String("llm-base-url", "", "LLM API base URL")
	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", core.DefaultServerPort, "HTTP server port")
	flags.Int("upstream-timeout-secs", core.DefaultUpstreamTimeoutSecs, "Timeout for each Last.fm and Spotify call")
	flags.Int("backfill-factor", core.DefaultBackfillFactor, "Ranked candidates kept per requested track")
	flags.Int("top-tracks-limit", core.DefaultTopTracksLimit, "Default number of top tracks used as seeds")
	flags.String("description-template", core.DefaultDescriptionTemplate, "Playlist description template ({seeds} is replaced)")
	flags.String("ledger-path", "./seedmix_ledger.db", "SQLite file remembering committed runs")
	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	flags.String("language", i18n.DefaultLanguage, fmt.Sprintf("Progress message language (%s)", supportedLangs))
	flags.Int("generate-limit-per-minute", core.DefaultGenerateLimitPerMinute, "Maximum API runs per client per minute (0 disables)")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	gen := generateCmd.Flags()
	gen.String("mode", string(core.ModeSingle), "seed mode (single, top_tracks)")
	gen.String("name", "", "playlist name")
	gen.String("description", "", "playlist description (default: generated)")
	gen.String("track", "", "seed track URL, URI, ID or search text (single mode)")
	gen.Int("num-tracks", 20, "tracks to add (single mode)")
	gen.Int("per-song", 5, "tracks to add per top track (top_tracks mode)")
	gen.Int("top-limit", 0, "number of top tracks to use as seeds (default: --top-tracks-limit)")
	gen.Bool("include-library", false, "allow tracks already in your library")
	gen.Bool("public", false, "create a public playlist")

	rootCmd.AddCommand(generateCmd, serveCmd)
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureSpotify(cfg)
	configureLastFM(cfg)
	configureLLM(cfg)
	configureApp(cfg)
	cfg.Spotify.PageTimeout = cfg.App.UpstreamTimeout()

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	if port := viper.GetInt("server-port"); port > 0 {
		cfg.Server.Port = port
	}
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	if path := viper.GetString("spotify-token-path"); path != "" {
		cfg.Spotify.TokenPath = path
	}

	if cfg.Spotify.RedirectURL == "" {
		serverHost := cfg.Server.Host
		if serverHost == defaultServerHost {
			serverHost = "127.0.0.1"
		}
		cfg.Spotify.RedirectURL = fmt.Sprintf("http://%s:%d/callback", serverHost, cfg.Server.Port)
	}
}

func configureLastFM(cfg *core.Config) {
	cfg.LastFM.APIKey = viper.GetString("lastfm-api-key")
	if baseURL := viper.GetString("lastfm-base-url"); baseURL != "" {
		cfg.LastFM.BaseURL = baseURL
	}
	if rps := viper.GetFloat64("lastfm-requests-per-second"); rps > 0 {
		cfg.LastFM.RequestsPerSecond = rps
	}
	if size := viper.GetInt("lastfm-cache-size"); size > 0 {
		cfg.LastFM.CacheSize = size
	}
	if ttl := viper.GetDuration("lastfm-cache-ttl"); ttl > 0 {
		cfg.LastFM.CacheTTL = ttl
	}
}

func configureLLM(cfg *core.Config) {
	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
}

func configureApp(cfg *core.Config) {
	if secs := viper.GetInt("upstream-timeout-secs"); secs > 0 {
		cfg.App.UpstreamTimeoutSecs = secs
	}
	if factor := viper.GetInt("backfill-factor"); factor > 0 {
		cfg.App.BackfillFactor = factor
	}
	if limit := viper.GetInt("top-tracks-limit"); limit > 0 {
		cfg.App.TopTracksLimit = limit
	}
	if tmpl := viper.GetString("description-template"); tmpl != "" {
		cfg.App.DescriptionTemplate = tmpl
	}
	if path := viper.GetString("ledger-path"); path != "" {
		cfg.App.LedgerPath = path
	}
	cfg.App.GenerateLimitPerMinute = viper.GetInt("generate-limit-per-minute")

	cfg.App.Language = viper.GetString("language")
	if cfg.App.Language == "" {
		cfg.App.Language = i18n.DefaultLanguage
	}
	if !i18n.IsSupported(cfg.App.Language) {
		fmt.Fprintf(os.Stderr, "Warning: Unsupported language '%s', falling back to '%s'. Supported languages: %s\n",
			cfg.App.Language, i18n.DefaultLanguage, strings.Join(i18n.GetSupportedLanguages(), ", "))
		cfg.App.Language = i18n.DefaultLanguage
	}
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runRoot(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}
	return cmd.Help()
}

// services are the collaborators shared by the generate and serve commands.
type services struct {
	ledger   *store.SQLiteLedger
	pipeline *core.Pipeline
}

func (s *services) Close() {
	if err := s.ledger.Close(); err != nil {
		logger.Debug("Failed to close ledger", zap.Error(err))
	}
}

func initializeServices(metrics core.MetricsRecorder) (*services, error) {
	ledger, err := store.NewSQLiteLedger(config.App.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	similarity, err := createSimilarityClient()
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	describer, err := createDescriber()
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	deps := core.PipelineDeps{
		Describer: describer,
		Ledger:    ledger,
		NewLibrary: func(expected int) core.LibraryLookup {
			return store.NewLibraryIndex(expected, store.DefaultFalsePositiveRate)
		},
		Metrics:   metrics,
		Localizer: i18n.NewLocalizer(config.App.Language),
		Logger:    logger.Named("pipeline"),
	}
	if similarity != nil {
		deps.Similarity = similarity
	}

	return &services{
		ledger:   ledger,
		pipeline: core.NewPipeline(config.App, deps),
	}, nil
}

func createSimilarityClient() (*lastfm.Client, error) {
	if config.LastFM.APIKey == "" {
		logger.Warn("No Last.fm API key configured, every seed will use Spotify recommendations")
		return nil, nil
	}
	client, err := lastfm.NewClient(&config.LastFM, logger.Named("lastfm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create Last.fm client: %w", err)
	}
	return client, nil
}

func createDescriber() (core.Describer, error) {
	if config.LLM.Provider == noneProvider || config.LLM.Provider == "" {
		return nil, nil
	}
	provider, err := llm.NewProvider(&config.LLM, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svcs, err := initializeServices(nil)
	if err != nil {
		return err
	}
	defer svcs.Close()

	spotifyClient := spotify.NewClient(&config.Spotify, logger.Named("spotify"))
	if authErr := spotifyClient.Authenticate(ctx); authErr != nil {
		return fmt.Errorf("failed to authenticate with Spotify: %w", authErr)
	}

	sink := progress.NewChannelSink(progress.DefaultChannelBuffer)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for msg := range sink.Messages() {
			fmt.Fprintln(cmd.OutOrStdout(), msg)
		}
		return nil
	})

	var result *core.Result
	g.Go(func() error {
		defer sink.Close()
		var genErr error
		result, genErr = svcs.pipeline.Generate(gCtx, spotifyClient, req,
			progress.Multi(sink, progress.NewLogSink(logger.Named("progress"), "")))
		return genErr
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if dropped := sink.Dropped(); dropped > 0 {
		logger.Debug("Progress messages dropped", zap.Int64("count", dropped))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nPlaylist: %s\n", result.PlaylistName)
	if result.PlaylistURL != "" {
		fmt.Fprintf(out, "URL:      %s\n", result.PlaylistURL)
	}
	fmt.Fprintf(out, "Tracks:   %d\n", len(result.AcceptedTitles))
	return nil
}

func requestFromFlags(cmd *cobra.Command) (core.Request, error) {
	flags := cmd.Flags()
	var req core.Request

	mode, err := flags.GetString("mode")
	if err != nil {
		return req, err
	}
	req.Mode = core.Mode(mode)

	if req.PlaylistName, err = flags.GetString("name"); err != nil {
		return req, err
	}
	if req.Description, err = flags.GetString("description"); err != nil {
		return req, err
	}
	if req.TrackRef, err = flags.GetString("track"); err != nil {
		return req, err
	}
	if req.NumTracks, err = flags.GetInt("num-tracks"); err != nil {
		return req, err
	}
	if req.RecommendationsPerSong, err = flags.GetInt("per-song"); err != nil {
		return req, err
	}
	if req.TopTracksLimit, err = flags.GetInt("top-limit"); err != nil {
		return req, err
	}
	if req.IncludeLibraryTracks, err = flags.GetBool("include-library"); err != nil {
		return req, err
	}
	if req.Public, err = flags.GetBool("public"); err != nil {
		return req, err
	}
	return req, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting seedmix",
		zap.String("llm_provider", config.LLM.Provider),
		zap.Bool("lastfm_enabled", config.LastFM.APIKey != ""),
		zap.String("language", config.App.Language))

	metrics := httpserver.NewMetrics(prometheus.DefaultRegisterer)
	svcs, err := initializeServices(metrics)
	if err != nil {
		return err
	}
	defer svcs.Close()

	floodgate := flood.New(config.App.GenerateLimitPerMinute)
	defer floodgate.Stop()

	spotifyLogger := logger.Named("spotify")
	server := httpserver.NewServer(&config.Server, httpserver.Options{
		Generator: svcs.pipeline,
		NewCatalog: func(ctx context.Context, token *oauth2.Token) core.CatalogClient {
			return spotify.NewClientWithToken(ctx, &config.Spotify, token, spotifyLogger)
		},
		Floodgate: floodgate,
		Metrics:   metrics,
		Ready:     svcs.ledger.Ping,
	}, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gCtx)
	})

	logger.Info("seedmix started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("seedmix stopped with error", zap.Error(err))
		return err
	}

	logger.Info("seedmix stopped gracefully")
	return nil
}

func validateConfig() error {
	if err := validateSpotifyConfig(); err != nil {
		return err
	}
	if err := validateLLMConfig(); err != nil {
		return err
	}
	return validateAppConfig()
}

func validateSpotifyConfig() error {
	if config.Spotify.ClientID == "" {
		return errors.New("spotify client ID is required")
	}
	if config.Spotify.ClientSecret == "" {
		return errors.New("spotify client secret is required")
	}
	return nil
}

func validateLLMConfig() error {
	switch config.LLM.Provider {
	case noneProvider, "", "ollama":
		return nil
	case "openai", "anthropic":
		if config.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for provider: %s", config.LLM.Provider)
		}
		return nil
	default:
		return fmt.Errorf("unsupported LLM provider: %s", config.LLM.Provider)
	}
}

func validateAppConfig() error {
	if config.App.LedgerPath == "" {
		return errors.New("ledger path is required")
	}
	if !i18n.IsSupported(config.App.Language) {
		return fmt.Errorf("unsupported language: %s", config.App.Language)
	}
	return nil
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# seedmix configuration\n")
	content.WriteString("# Every flag can be set as an environment variable with the SEEDMIX_ prefix.\n\n")

	generateSpotifySection(&content)
	generateLastFMSection(&content, cmd)
	generateLLMSection(&content, cmd)
	generateAppSection(&content, cmd)
	generateServerSection(&content, cmd)
	generateLoggingSection(&content, cmd)

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.Root().PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

func writeEnvLine(content *strings.Builder, cmd *cobra.Command, flagName, help string) {
	def := getDefaultValueString(cmd, flagName)
	fmt.Fprintf(content, "%s=%s  # %s (default: %q)\n", flagToEnvVar(flagName), def, help, def)
}

func generateSpotifySection(content *strings.Builder) {
	content.WriteString("# Spotify (create an app at https://developer.spotify.com/dashboard)\n")
	fmt.Fprintf(content, "%s=your_spotify_client_id_here  # Spotify app client ID\n",
		flagToEnvVar("spotify-client-id"))
	fmt.Fprintf(content, "%s=your_spotify_client_secret_here  # Spotify app client secret\n",
		flagToEnvVar("spotify-client-secret"))
	fmt.Fprintf(content, "%s=http://127.0.0.1:8080/callback  # OAuth callback URL (default: auto-generated)\n",
		flagToEnvVar("spotify-redirect-url"))
	fmt.Fprintf(content, "%s=./spotify_token.json  # Token storage path for the generate command\n",
		flagToEnvVar("spotify-token-path"))
	content.WriteString("\n")
}

func generateLastFMSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# Last.fm (get an API key at https://www.last.fm/api/account/create)\n")
	fmt.Fprintf(content, "%s=your_lastfm_api_key_here  # Empty uses Spotify recommendations only\n",
		flagToEnvVar("lastfm-api-key"))
	writeEnvLine(content, cmd, "lastfm-requests-per-second", "Request rate limit")
	writeEnvLine(content, cmd, "lastfm-cache-size", "Cached similarity responses")
	writeEnvLine(content, cmd, "lastfm-cache-ttl", "Cache lifetime")
	content.WriteString("\n")
}

func generateLLMSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# Playlist descriptions\n")
	writeEnvLine(content, cmd, "llm-provider", "Provider: none, openai, anthropic, ollama")
	fmt.Fprintf(content, "# %s=sk-...  # OpenAI or Anthropic API key\n", flagToEnvVar("llm-api-key"))
	fmt.Fprintf(content, "# %s=gpt-4o-mini  # Model name\n", flagToEnvVar("llm-model"))
	fmt.Fprintf(content, "# %s=http://localhost:11434  # Ollama server URL\n", flagToEnvVar("llm-base-url"))
	content.WriteString("\n")
}

func generateAppSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# Playlist generation\n")
	writeEnvLine(content, cmd, "language", "Progress language: "+strings.Join(i18n.GetSupportedLanguages(), ", "))
	writeEnvLine(content, cmd, "upstream-timeout-secs", "Timeout for each upstream call")
	writeEnvLine(content, cmd, "backfill-factor", "Ranked candidates kept per requested track")
	writeEnvLine(content, cmd, "top-tracks-limit", "Default number of top-track seeds")
	writeEnvLine(content, cmd, "description-template", "Fallback description, {seeds} is replaced")
	writeEnvLine(content, cmd, "ledger-path", "SQLite file remembering committed runs")
	writeEnvLine(content, cmd, "generate-limit-per-minute", "API runs per client per minute, 0 disables")
	content.WriteString("\n")
}

func generateServerSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# HTTP server\n")
	writeEnvLine(content, cmd, "server-host", "Bind address")
	writeEnvLine(content, cmd, "server-port", "Port")
	content.WriteString("\n")
}

func generateLoggingSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# Logging\n")
	writeEnvLine(content, cmd, "log-level", "debug, info, warn, error")
	writeEnvLine(content, cmd, "log-format", "json, console")
}
