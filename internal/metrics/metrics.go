// Package metrics exposes Prometheus metrics for backtest, paper and API
// processes, plus a dependency health probe.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/model"
	"github.com/OffGrid0xDAO/OffGrid-Scalp-Bot-sub004/internal/portfolio"
)

// Metrics holds all Prometheus metrics. It implements backtest.Observer.
type Metrics struct {
	SnapshotsProcessed prometheus.Counter
	SnapshotsSkipped   *prometheus.CounterVec // labels: reason
	PositionsOpened    *prometheus.CounterVec // labels: direction
	TradesClosed       *prometheus.CounterVec // labels: direction, exit_reason
	TradeProfitPct     prometheus.Histogram
	OpenPosition       prometheus.Gauge // -1 short, 0 flat, 1 long

	RunDuration    prometheus.Histogram
	RunsTotal      *prometheus.CounterVec // labels: kind=backtest|sweep|reconcile
	ReconcileMatch prometheus.Gauge

	// Backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	FanoutSaturation *prometheus.GaugeVec   // labels: subscriber; queued/capacity

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedTrades      prometheus.Counter

	// Registry serves /metrics when built with New.
	Registry *prometheus.Registry
}

// New creates metrics on a private registry, so several instances can exist
// in one process (tests, API handlers).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)
	m.Registry = reg
	return m
}

// NewWith registers all metrics on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SnapshotsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_snapshots_processed_total",
			Help: "Snapshots accepted and processed",
		}),
		SnapshotsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_snapshots_skipped_total",
			Help: "Snapshots skipped by validation",
		}, []string{"reason"}),
		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_positions_opened_total",
			Help: "Positions opened",
		}, []string{"direction"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Trades closed",
		}, []string{"direction", "exit_reason"}),
		TradeProfitPct: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_trade_profit_pct",
			Help:    "Realized profit percentage per closed trade",
			Buckets: []float64{-5, -3, -2, -1, -0.5, 0, 0.5, 1, 2, 3, 5, 10},
		}),
		OpenPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_position",
			Help: "Current position: -1 short, 0 flat, 1 long",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_run_duration_seconds",
			Help:    "Wall time of one backtest run",
			Buckets: prometheus.DefBuckets,
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_runs_total",
			Help: "Completed runs by kind",
		}, []string{"kind"}),
		ReconcileMatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_reconcile_match_rate",
			Help: "Match rate percent of the last reconciliation",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_fanout_drops_total",
			Help: "Trades dropped for slow subscribers",
		}, []string{"subscriber"}),
		FanoutSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_fanout_saturation_ratio",
			Help: "Fill ratio of each trade subscriber queue",
		}, []string{"subscriber"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state: 0=closed, 1=open, 2=half-open",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBufferedTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_buffered_trades_total",
			Help: "Trades buffered while Redis was unavailable",
		}),
	}

	reg.MustRegister(
		m.SnapshotsProcessed,
		m.SnapshotsSkipped,
		m.PositionsOpened,
		m.TradesClosed,
		m.TradeProfitPct,
		m.OpenPosition,
		m.RunDuration,
		m.RunsTotal,
		m.ReconcileMatch,
		m.FanoutDropsTotal,
		m.FanoutSaturation,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedTrades,
	)
	return m
}

// SnapshotProcessed implements backtest.Observer.
func (m *Metrics) SnapshotProcessed() { m.SnapshotsProcessed.Inc() }

// SnapshotSkipped implements backtest.Observer.
func (m *Metrics) SnapshotSkipped(reason string) { m.SnapshotsSkipped.WithLabelValues(reason).Inc() }

// PositionOpened implements backtest.Observer.
func (m *Metrics) PositionOpened(pos portfolio.Position) {
	m.PositionsOpened.WithLabelValues(string(pos.Direction)).Inc()
	m.OpenPosition.Set(pos.Direction.Sign())
}

// TradeClosed implements backtest.Observer.
func (m *Metrics) TradeClosed(t model.Trade) {
	m.TradesClosed.WithLabelValues(string(t.Direction), string(t.ExitReason)).Inc()
	m.TradeProfitPct.Observe(t.ProfitPct)
	m.OpenPosition.Set(0)
}

// ObserveRun records a finished run of the given kind.
func (m *Metrics) ObserveRun(kind string, took time.Duration) {
	m.RunsTotal.WithLabelValues(kind).Inc()
	m.RunDuration.Observe(took.Seconds())
}

// ObserveQueue records how full subscriber queue idx is.
func (m *Metrics) ObserveQueue(idx, length, capacity int) {
	ratio := 0.0
	if capacity > 0 {
		ratio = float64(length) / float64(capacity)
	}
	m.FanoutSaturation.WithLabelValues(strconv.Itoa(idx)).Set(ratio)
}

// Handler serves the metrics of m's registry, or the default registry when
// m was built with NewWith.
func (m *Metrics) Handler() http.Handler {
	if m.Registry != nil {
		return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// HealthStatus tracks dependency health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either dependency may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	check()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// Report is the JSON health document.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

// Report summarizes health. Redis only counts when it was configured.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if !h.SQLiteOK || (h.RedisEnabled && !h.RedisConnected) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	r := Report{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(r)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if health != nil {
		mux.HandleFunc("/healthz", health.ServeHTTP)
	}
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
