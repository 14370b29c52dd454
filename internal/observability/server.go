// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the extension ecosystem finished
// bootstrapping, i.e. the main-loop entry reached its terminal Done state.
type ReadinessChecker func() bool

// Package-level counters let the bus and bootstrap record metrics without
// holding a Server reference.
var (
	busPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graft_bus_publishes_total",
			Help: "Total number of event bus publishes by channel",
		},
		[]string{"channel"},
	)
	busHandlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graft_bus_handler_failures_total",
			Help: "Total number of isolated subscriber failures by channel",
		},
		[]string{"channel"},
	)
	busSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graft_bus_suppressed_total",
			Help: "Total number of duplicate lifecycle firings suppressed by channel",
		},
		[]string{"channel"},
	)
	busTypeMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graft_bus_type_mismatches_total",
			Help: "Total number of publishes dropped for payload type mismatch by channel",
		},
		[]string{"channel"},
	)
	bootstrapOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graft_bootstrap_outcomes_total",
			Help: "Total number of bootstrap attempts by terminal outcome",
		},
		[]string{"outcome"},
	)
	extensionsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "graft_extensions_loaded",
		Help: "Number of currently loaded extensions",
	})
	persistHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "graft_persist_handles",
		Help: "Number of registered persistent collection handles",
	})
)

// RecordBusPublish increments the publish counter for a channel.
func RecordBusPublish(channel string) {
	busPublishes.WithLabelValues(channel).Inc()
}

// RecordHandlerFailure increments the isolated-failure counter for a channel.
func RecordHandlerFailure(channel string) {
	busHandlerFailures.WithLabelValues(channel).Inc()
}

// RecordBusSuppressed increments the duplicate-suppression counter for a channel.
func RecordBusSuppressed(channel string) {
	busSuppressed.WithLabelValues(channel).Inc()
}

// RecordBusTypeMismatch increments the type-mismatch counter for a channel.
func RecordBusTypeMismatch(channel string) {
	busTypeMismatches.WithLabelValues(channel).Inc()
}

// RecordBootstrapOutcome increments the bootstrap outcome counter.
// outcome is one of "done", "readiness-timeout", "world-timeout", "resolve-failed".
func RecordBootstrapOutcome(outcome string) {
	bootstrapOutcomes.WithLabelValues(outcome).Inc()
}

// SetExtensionsLoaded records the number of currently loaded extensions.
func SetExtensionsLoaded(n int) {
	extensionsLoaded.Set(float64(n))
}

// SetPersistHandles records the number of registered persistence handles.
func SetPersistHandles(n int) {
	persistHandles.Set(float64(n))
}

// Metrics holds the custom gauges registered alongside the bus counters.
type Metrics struct {
	ExtensionsLoaded prometheus.Gauge
	PersistHandles   prometheus.Gauge
}

// NewMetrics registers the custom graft metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExtensionsLoaded: extensionsLoaded,
		PersistHandles:   persistHandles,
	}

	reg.MustRegister(m.ExtensionsLoaded)
	reg.MustRegister(m.PersistHandles)
	reg.MustRegister(busPublishes)
	reg.MustRegister(busHandlerFailures)
	reg.MustRegister(busSuppressed)
	reg.MustRegister(busTypeMismatches)
	reg.MustRegister(bootstrapOutcomes)

	return m
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Create a new registry to avoid polluting the global one
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the custom metrics for recording application events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 once the bootstrap reached Done, 503 before.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
