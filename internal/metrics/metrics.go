// Package metrics exposes Prometheus metrics and the health report of the
// analytics service.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coinarius-analytics/internal/model"
)

// Metrics holds all Prometheus metrics for the analytics engine.
type Metrics struct {
	registry *prometheus.Registry

	// Engine cycles
	CyclesTotal        *prometheus.CounterVec   // labels: mode, outcome
	CycleDuration      *prometheus.HistogramVec // labels: mode
	CalculatorDuration *prometheus.HistogramVec // labels: calculator
	OutputVersion      prometheus.Gauge
	LastCycleUnix      prometheus.Gauge
	FetchErrors        prometheus.Counter
	TotalZScore        *prometheus.GaugeVec // labels: symbol

	// Delivery
	SinkPublishTotal *prometheus.CounterVec // labels: sink, outcome
	SinkPublishDur   *prometheus.HistogramVec

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// WebSocket gateway
	WSClients    prometheus.Gauge
	WSDropsTotal prometheus.Counter

	AlertsTotal    *prometheus.CounterVec // labels: symbol
	SnapshotsSaved prometheus.Counter
}

// NewMetrics creates the metrics on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_cycles_total",
			Help: "Engine cycles by mode and outcome",
		}, []string{"mode", "outcome"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analytics_cycle_duration_seconds",
			Help:    "Engine cycle latency including the upstream fetch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		CalculatorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analytics_calculator_duration_seconds",
			Help:    "Per-calculator compute latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"calculator"}),
		OutputVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_output_version",
			Help: "Version of the latest published output",
		}),
		LastCycleUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_last_cycle_timestamp_seconds",
			Help: "Unix time of the last successful cycle",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_fetch_errors_total",
			Help: "Upstream feed fetch failures",
		}),
		TotalZScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analytics_total_z_score",
			Help: "Latest total z-score per symbol",
		}, []string{"symbol"}),

		SinkPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_sink_publish_total",
			Help: "Output publications by sink and outcome",
		}, []string{"sink", "outcome"}),
		SinkPublishDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analytics_sink_publish_duration_seconds",
			Help:    "Output publication latency by sink",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_ws_drops_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_alerts_total",
			Help: "Total z-score alerts fired",
		}, []string{"symbol"}),
		SnapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analytics_snapshots_saved_total",
			Help: "Outputs checkpointed to SQLite",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CyclesTotal,
		m.CycleDuration,
		m.CalculatorDuration,
		m.OutputVersion,
		m.LastCycleUnix,
		m.FetchErrors,
		m.TotalZScore,
		m.SinkPublishTotal,
		m.SinkPublishDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
		m.WSDropsTotal,
		m.AlertsTotal,
		m.SnapshotsSaved,
	)

	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveCycle records one engine cycle.
func (m *Metrics) ObserveCycle(mode string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CyclesTotal.WithLabelValues(mode, outcome).Inc()
	m.CycleDuration.WithLabelValues(mode).Observe(took.Seconds())
}

// ObserveCalculator records one calculator run.
func (m *Metrics) ObserveCalculator(id string, took time.Duration) {
	m.CalculatorDuration.WithLabelValues(id).Observe(took.Seconds())
}

// ObserveOutput records a published output.
func (m *Metrics) ObserveOutput(out *model.Output) {
	if out == nil {
		return
	}
	m.OutputVersion.Set(float64(out.Version))
	m.LastCycleUnix.Set(float64(out.UpdatedAt.Unix()))
	for code, so := range out.Symbols {
		m.TotalZScore.WithLabelValues(code).Set(so.TotalZScore)
	}
}

// ObserveBreaker mirrors a Redis circuit breaker transition; to is the
// numeric state (0=closed, 1=open, 2=half-open).
func (m *Metrics) ObserveBreaker(to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// ObservePublish records one sink publication.
func (m *Metrics) ObservePublish(sink string, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SinkPublishTotal.WithLabelValues(sink, outcome).Inc()
	m.SinkPublishDur.WithLabelValues(sink).Observe(took.Seconds())
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedOK         bool      `json:"feed_ok"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastError      string    `json:"last_error"`
	OutputVersion  uint64    `json:"output_version"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// StaleAfter marks the service degraded when no cycle succeeded for this long.
	StaleAfter time.Duration `json:"-"`

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		StaleAfter: staleAfter,
		now:        time.Now,
	}
}

// RecordCycle updates the status after an engine cycle.
func (h *HealthStatus) RecordCycle(version uint64, at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.FeedOK = false
		h.LastError = err.Error()
		return
	}
	h.FeedOK = true
	h.LastError = ""
	h.LastCycleAt = at
	h.OutputVersion = version
}

func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
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

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Report is the JSON body of the health endpoint.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	FeedOK          bool    `json:"feed_ok"`
	LastCycleAt     string  `json:"last_cycle_at"`
	CycleAge        string  `json:"cycle_age"`
	LastError       string  `json:"last_error,omitempty"`
	OutputVersion   uint64  `json:"output_version"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Report summarises the status. The service is healthy once a cycle has
// succeeded recently and every enabled store answered its last probe.
func (h *HealthStatus) Report() (Report, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status, code := "healthy", http.StatusOK

	stale := h.LastCycleAt.IsZero() || (h.StaleAfter > 0 && now.Sub(h.LastCycleAt) > h.StaleAfter)
	storesDown := (h.RedisEnabled && !h.RedisConnected) || (h.SQLiteEnabled && !h.SQLiteOK)
	if !h.FeedOK || stale || storesDown {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if h.LastCycleAt.IsZero() {
		status = "starting"
	}

	cycleAge := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = now.Sub(h.LastCycleAt).Round(time.Millisecond).String()
	}

	return Report{
		Status:          status,
		Uptime:          now.Sub(h.StartedAt).Round(time.Second).String(),
		FeedOK:          h.FeedOK,
		LastCycleAt:     h.LastCycleAt.Format(time.RFC3339),
		CycleAge:        cycleAge,
		LastError:       h.LastError,
		OutputVersion:   h.OutputVersion,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.Report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}
