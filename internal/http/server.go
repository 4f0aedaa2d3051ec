// Package http serves the playlist API, health checks and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"seedmix/internal/core"
	"seedmix/internal/flood"
	"seedmix/internal/progress"
)

const (
	// maxRequestBody bounds the size of a playlist request body
	maxRequestBody = 64 << 10
	// shutdownTimeout bounds graceful shutdown
	shutdownTimeout = 10 * time.Second
)

// Generator runs one playlist request.
type Generator interface {
	Generate(ctx context.Context, catalog core.CatalogClient, req core.Request, sink core.ProgressSink) (*core.Result, error)
}

// CatalogFactory builds a catalog client for the caller's access token.
type CatalogFactory func(ctx context.Context, token *oauth2.Token) core.CatalogClient

// Options are the collaborators of a Server. Floodgate, Metrics, Gatherer and Ready are optional.
type Options struct {
	Generator  Generator
	NewCatalog CatalogFactory
	Floodgate  *flood.Floodgate
	Metrics    *Metrics
	Gatherer   prometheus.Gatherer
	Ready      func(ctx context.Context) error
}

type Server struct {
	config *core.ServerConfig
	logger *zap.Logger
	server *http.Server
	opts   Options
}

type playlistResponse struct {
	Result   *core.Result `json:"result,omitempty"`
	Error    string       `json:"error,omitempty"`
	Field    string       `json:"field,omitempty"`
	Progress []string     `json:"progress"`
}

func NewServer(config *core.ServerConfig, opts Options, logger *zap.Logger) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config: config,
		logger: logger,
		opts:   opts,
	}
	s.server = createHTTPServer(config, s.setupRoutes())
	return s
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok", "service": "seedmix"})
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /api/playlists", s.handleGenerate)

	return mux
}

type readyResponse struct {
	Status  string       `json:"status"`
	Service string       `json:"service"`
	Flood   *flood.Stats `json:"flood,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ready", Service: "seedmix"}
	if s.opts.Floodgate != nil {
		stats := s.opts.Floodgate.GetStats()
		resp.Flood = &stats
	}

	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			resp.Status = "unavailable"
			writeJSON(w, s.logger, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, s.logger, http.StatusOK, resp)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := bearerToken(r)
	if !ok {
		writeJSON(w, s.logger, http.StatusUnauthorized,
			playlistResponse{Error: core.ErrAuthRequired.Error(), Progress: []string{}})
		return
	}

	var req core.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, s.logger, http.StatusBadRequest,
			playlistResponse{Error: "invalid request body: " + err.Error(), Progress: []string{}})
		return
	}

	// Malformed requests are rejected before they count against the client's quota.
	checked := req
	checked.Normalize(core.DefaultTopTracksLimit)
	if err := checked.Validate(); err != nil {
		resp := playlistResponse{Error: err.Error(), Progress: []string{}}
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
		writeJSON(w, s.logger, http.StatusBadRequest, resp)
		return
	}

	if s.opts.Floodgate != nil && !s.opts.Floodgate.Allow(clientID(r)) {
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordFloodRejected()
		}
		w.Header().Set("Retry-After", "60")
		writeJSON(w, s.logger, http.StatusTooManyRequests,
			playlistResponse{Error: "too many requests", Progress: []string{}})
		return
	}

	catalog := s.opts.NewCatalog(r.Context(), &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	collector := progress.NewCollector()
	sink := progress.Multi(collector, progress.NewLogSink(s.logger.Named("progress"), ""))

	result, err := s.opts.Generator.Generate(r.Context(), catalog, req, sink)
	if err != nil {
		status := statusFor(err)
		resp := playlistResponse{Error: err.Error(), Progress: collector.Messages()}
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("Playlist generation failed", zap.Error(err))
		}
		writeJSON(w, s.logger, status, resp)
		return
	}

	writeJSON(w, s.logger, http.StatusCreated, playlistResponse{Result: result, Progress: collector.Messages()})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case core.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrAuthRequired):
		return http.StatusUnauthorized
	case core.IsCommitError(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}
