package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"seedmix/internal/core"
)

// Metrics records pipeline activity as Prometheus collectors.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	CandidatesTotal    *prometheus.CounterVec
	FallbacksTotal     prometheus.Counter
	AcceptedTotal      prometheus.Counter
	RejectedTotal      *prometheus.CounterVec
	FloodRejectedTotal prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedmix_runs_total",
				Help: "Total number of playlist runs by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seedmix_run_duration_seconds",
				Help:    "Time spent generating a playlist",
				Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"mode"},
		),
		CandidatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedmix_candidates_total",
				Help: "Total number of candidates produced by source",
			},
			[]string{"source"},
		),
		FallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedmix_fallbacks_total",
				Help: "Total number of seeds that used the catalog recommender",
			},
		),
		AcceptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedmix_tracks_accepted_total",
				Help: "Total number of tracks added to playlists",
			},
		),
		RejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedmix_tracks_rejected_total",
				Help: "Total number of candidates rejected by reason",
			},
			[]string{"reason"},
		),
		FloodRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedmix_flood_rejected_total",
				Help: "Total number of API requests rejected by the flood limit",
			},
		),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.CandidatesTotal,
		m.FallbacksTotal,
		m.AcceptedTotal,
		m.RejectedTotal,
		m.FloodRejectedTotal,
	)

	return m
}

func (m *Metrics) RecordRun(mode, status string) {
	m.RunsTotal.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) RecordRunDuration(mode string, duration time.Duration) {
	m.RunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordCandidates(source string, count int) {
	m.CandidatesTotal.WithLabelValues(source).Add(float64(count))
}

func (m *Metrics) RecordFallback() {
	m.FallbacksTotal.Inc()
}

func (m *Metrics) RecordAccepted(count int) {
	m.AcceptedTotal.Add(float64(count))
}

func (m *Metrics) RecordRejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordFloodRejected() {
	m.FloodRejectedTotal.Inc()
}

var _ core.MetricsRecorder = (*Metrics)(nil)
