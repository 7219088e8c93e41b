// Package health exposes each pool's engine.PoolHealthStatus over
// HTTP as both a JSON snapshot and Prometheus gauges, in the style of
// the teacher's Cobra/zap command layer: a small always-on server
// alongside the engine's own event loop rather than folded into it.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rangekeeper/rangekeeper/internal/engine"
)

// Metrics holds the Prometheus series updated on every status push.
type Metrics struct {
	State             *prometheus.GaugeVec
	LedgerSize        *prometheus.GaugeVec
	LastRebalanceMs   *prometheus.GaugeVec
	ConsecutiveErrors *prometheus.GaugeVec
}

// NewMetrics registers rangekeeper's pool gauges against registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rangekeeper_pool_state",
			Help: "Set to 1 for the current engine.State, labeled by pool and state name.",
		}, []string{"pool_id", "state"}),
		LedgerSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rangekeeper_pool_ledger_size",
			Help: "Number of active liquidity bands.",
		}, []string{"pool_id"}),
		LastRebalanceMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rangekeeper_pool_last_rebalance_timestamp_ms",
			Help: "Unix millis of the most recent completed rebalance.",
		}, []string{"pool_id"}),
		ConsecutiveErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rangekeeper_pool_consecutive_errors",
			Help: "Current consecutive-failure count toward the stop threshold.",
		}, []string{"pool_id"}),
	}
	registry.MustRegister(m.State, m.LedgerSize, m.LastRebalanceMs, m.ConsecutiveErrors)
	return m
}

// Surface implements engine.HealthSurface, serving /healthz (JSON
// snapshot per pool) and /metrics (Prometheus) over one HTTP server.
type Surface struct {
	log     *zap.Logger
	metrics *Metrics

	mu       sync.RWMutex
	statuses map[string]engine.PoolHealthStatus

	httpServer *http.Server
}

// Config configures the health HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewSurface builds a Surface bound to cfg.Addr, registering its own
// Prometheus metrics against a fresh registry.
func NewSurface(cfg Config, logger *zap.Logger) *Surface {
	registry := prometheus.NewRegistry()
	s := &Surface{
		log:      logger,
		metrics:  NewMetrics(registry),
		statuses: make(map[string]engine.PoolHealthStatus),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/healthz/{pool_id}", s.handlePoolHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Surface) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("health server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// UpdatePoolStatus implements engine.HealthSurface.
func (s *Surface) UpdatePoolStatus(poolID string, status engine.PoolHealthStatus) {
	s.mu.Lock()
	s.statuses[poolID] = status
	s.mu.Unlock()

	stateName := status.State.String()
	s.metrics.State.Reset()
	s.metrics.State.WithLabelValues(poolID, stateName).Set(1)
	s.metrics.LedgerSize.WithLabelValues(poolID).Set(float64(status.LedgerSize))
	s.metrics.LastRebalanceMs.WithLabelValues(poolID).Set(float64(status.LastRebalanceTimeMs))
	s.metrics.ConsecutiveErrors.WithLabelValues(poolID).Set(float64(status.ConsecutiveErrors))
}

func (s *Surface) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshot := make(map[string]engine.PoolHealthStatus, len(s.statuses))
	for k, v := range s.statuses {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.log.Warn("encode healthz response", zap.Error(err))
	}
}

func (s *Surface) handlePoolHealthz(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["pool_id"]

	s.mu.RLock()
	status, found := s.statuses[poolID]
	s.mu.RUnlock()

	if !found {
		http.Error(w, fmt.Sprintf("unknown pool %q", poolID), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.log.Warn("encode healthz response", zap.Error(err))
	}
}
