package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the simulation service.
// Every method is safe on a nil *Metrics, which records nothing.
type Metrics struct {
	SimulationsTotal   *prometheus.CounterVec   // labels: mode, outcome
	BarsProcessed      prometheus.Counter
	TradesTotal        *prometheus.CounterVec   // labels: action
	SimulationDuration *prometheus.HistogramVec // labels: mode
	ActiveStreams      prometheus.Gauge

	// Bar cache
	CacheRequests *prometheus.CounterVec // labels: result=hit|miss|error
	BreakerState  *prometheus.GaugeVec   // labels: name; 0=closed, 1=half-open, 2=open

	// Predictor
	PredictorErrors prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SimulationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratsim_simulations_total",
			Help: "Simulations finished, by mode (batch, stream) and outcome",
		}, []string{"mode", "outcome"}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratsim_bars_processed_total",
			Help: "Total bars stepped through by simulation drivers",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratsim_trades_total",
			Help: "Simulated fills, by action",
		}, []string{"action"}),
		SimulationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stratsim_simulation_duration_seconds",
			Help:    "Wall-clock duration of a simulation run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"mode"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stratsim_active_streams",
			Help: "Streaming simulations currently connected",
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratsim_cache_requests_total",
			Help: "Bar cache lookups, by result",
		}, []string{"result"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratsim_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		PredictorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratsim_predictor_errors_total",
			Help: "Failed calls to the failure-probability predictor",
		}),
	}

	reg.MustRegister(
		m.SimulationsTotal,
		m.BarsProcessed,
		m.TradesTotal,
		m.SimulationDuration,
		m.ActiveStreams,
		m.CacheRequests,
		m.BreakerState,
		m.PredictorErrors,
	)

	return m
}

// ObserveSimulation records a finished run.
func (m *Metrics) ObserveSimulation(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SimulationsTotal.WithLabelValues(mode, outcome).Inc()
	m.SimulationDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) IncBars() {
	if m == nil {
		return
	}
	m.BarsProcessed.Inc()
}

func (m *Metrics) IncTrade(action string) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(action).Inc()
}

// StreamStarted increments the active stream gauge and returns its decrement.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveStreams.Inc()
	return m.ActiveStreams.Dec
}

func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) IncPredictorError() {
	if m == nil {
		return
	}
	m.PredictorErrors.Inc()
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteEnabled  bool `json:"sqlite_enabled"`
	SQLiteOK       bool `json:"sqlite_ok"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
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
	h.SQLiteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckAll runs every configured dependency check once.
func (h *HealthStatus) CheckAll(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB) {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if rdb != nil {
		h.CheckRedis(checkCtx, rdb)
	}
	if sqlDB != nil {
		h.CheckSQLite(checkCtx, sqlDB)
	}
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		h.CheckAll(ctx, rdb, sqlDB)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.CheckAll(ctx, rdb, sqlDB)
			}
		}
	}()
}

// Report is the JSON body of /healthz.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteEnabled   bool    `json:"sqlite_enabled"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at,omitempty"`
}

// Report summarises current health. A disabled dependency never degrades status.
// The Redis cache is optional, so losing it only degrades.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if redisDown {
		overallStatus = "degraded"
	}
	if sqliteDown {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	r := Report{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	return r, httpCode
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	body, err := sonic.Marshal(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates a metrics and health server. gatherer may be nil for the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
