// Package metrics exposes the pipeline's Prometheus counters and the
// optional scrape endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "pinger/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

// Metrics owns the registry so tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RefreshTurns    *prometheus.CounterVec
	RefreshFailures *prometheus.CounterVec
	EventsIngested  prometheus.Counter
	EventsRendered  *prometheus.CounterVec
	PingsCreated    prometheus.Counter
	Deliveries      *prometheus.CounterVec
	EngineJobs      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RefreshTurns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinger",
		Name:      "refresh_turns_total",
		Help:      "Completed polling turns per corporation.",
	}, []string{"corporation"})
	m.RefreshFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinger",
		Name:      "refresh_failures_total",
		Help:      "Abandoned polling turns per corporation.",
	}, []string{"corporation"})
	m.EventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pinger",
		Name:      "events_ingested_total",
		Help:      "New notifications written to storage.",
	})
	m.EventsRendered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinger",
		Name:      "events_rendered_total",
		Help:      "Notifications rendered, by type.",
	}, []string{"type"})
	m.PingsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pinger",
		Name:      "pings_created_total",
		Help:      "Delivery records created by the fanout.",
	})
	m.Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinger",
		Name:      "deliveries_total",
		Help:      "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})
	m.EngineJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pinger",
		Name:      "engine_jobs_total",
		Help:      "Task engine job runs by result.",
	}, []string{"result"})

	m.registry.MustRegister(
		m.RefreshTurns, m.RefreshFailures, m.EventsIngested,
		m.EventsRendered, m.PingsCreated, m.Deliveries, m.EngineJobs,
	)
	return m
}

// ObserveQueueDepth registers a gauge fed by fn, usually the task
// engine's queue length snapshot.
func (m *Metrics) ObserveQueueDepth(fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "pinger",
		Name:      "task_queue_depth",
		Help:      "Jobs waiting in the task engine queue.",
	}, fn))
}

// Delivery outcomes.
const (
	OutcomeSent        = "sent"
	OutcomeRateLimited = "rate_limited"
	OutcomeDeferred    = "deferred"
	OutcomeFailed      = "failed"
)

// Engine job results.
const (
	ResultFinished = "finished"
	ResultFailed   = "failed"
)

// Server serves the /metrics scrape endpoint.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg Config, m *Metrics, log logx.Logger) *Server {
	if !cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log.With(logx.String("component", "metrics")),
	}
}

func (s *Server) Start() {
	if s == nil {
		return
	}
	go func() {
		s.log.Info("metrics listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
}
