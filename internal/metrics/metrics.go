package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the divergence monitor.
type Metrics struct {
	// Ingest
	BarsTotal    prometheus.Counter
	TicksTotal   prometheus.Counter
	CandlesTotal prometheus.Counter
	DroppedTicks prometheus.Counter
	WSReconnects prometheus.Counter
	BackfillBars prometheus.Counter
	CandleLag    prometheus.Gauge

	// Pipeline
	ScanDur           prometheus.Histogram
	SignalsTotal      *prometheus.CounterVec // labels: direction, strength
	SignalsSuppressed prometheus.Counter
	SignalsDropped    prometheus.Counter
	AlertFailures     prometheus.Counter
	SymbolState       *prometheus.GaugeVec // labels: symbol; 0=warming up, 1=active

	// Storage and mirror
	SQLiteCommitDur          prometheus.Histogram
	LedgerDur                prometheus.Histogram
	FanoutDropsTotal         *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct     *prometheus.GaugeVec   // labels: channel_name
	PublishDrops             prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_bars_total",
			Help: "Total bars received from the market data stream",
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_ticks_total",
			Help: "Total raw ticks ingested into the aggregator",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_candles_total",
			Help: "Total working-timeframe candles closed",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_dropped_ticks_total",
			Help: "Ticks rejected by the aggregator (malformed or out of order)",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_ws_reconnects_total",
			Help: "Total stream reconnection attempts",
		}),
		BackfillBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_backfill_bars_total",
			Help: "Historical bars fetched for seeding and resync",
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divmon_candle_lag_seconds",
			Help: "Lag between candle close time and processing time",
		}),

		ScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "divmon_scan_duration_seconds",
			Help:    "Detection plus confirmation latency per closed candle",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "divmon_signals_total",
			Help: "Signals emitted (by direction and strength)",
		}, []string{"direction", "strength"}),
		SignalsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_signals_suppressed_total",
			Help: "Signals suppressed because the ledger already held the identity",
		}),
		SignalsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_signals_dropped_total",
			Help: "Signals dropped because the ledger was unavailable",
		}),
		AlertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_alert_failures_total",
			Help: "Alert deliveries that failed after the ledger admitted the signal",
		}),
		SymbolState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "divmon_symbol_state",
			Help: "Per-symbol pipeline state (0=warming up, 1=active)",
		}, []string{"symbol"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "divmon_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		LedgerDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "divmon_ledger_duration_seconds",
			Help:    "Ledger check-and-record latency",
			Buckets: prometheus.DefBuckets,
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "divmon_fanout_drops_total",
			Help: "Candles dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "divmon_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		PublishDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_publish_drops_total",
			Help: "Mirror publishes dropped on a full queue or open breaker",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divmon_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divmon_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divmon_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.BarsTotal,
		m.TicksTotal,
		m.CandlesTotal,
		m.DroppedTicks,
		m.WSReconnects,
		m.BackfillBars,
		m.CandleLag,
		m.ScanDur,
		m.SignalsTotal,
		m.SignalsSuppressed,
		m.SignalsDropped,
		m.AlertFailures,
		m.SymbolState,
		m.SQLiteCommitDur,
		m.LedgerDur,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.PublishDrops,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.MarketState,
	)

	return m
}

// HealthStatus represents the monitor's health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	MarketOpen     bool      `json:"market_open"`
	Symbols        []string  `json:"symbols"`
	ActiveSymbols  int       `json:"active_symbols"`

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

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveSymbols(n int) {
	h.mu.Lock()
	h.ActiveSymbols = n
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

// CheckSQLite runs a trivial query and records latency + health.
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

// StartLivenessChecker runs periodic dependency checks.
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

// ServeHTTP handles the /healthz endpoint. A disconnected stream only
// degrades health while the market session is open; overnight and weekend
// disconnects are normal.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	wsOK := h.WSConnected || !h.MarketOpen
	if !wsOK || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && !wsOK {
		overallStatus = "unhealthy"
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		MarketOpen      bool     `json:"market_open"`
		WSConnected     bool     `json:"ws_connected"`
		LastBarTime     string   `json:"last_bar_time"`
		BarAge          string   `json:"bar_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Symbols         []string `json:"symbols"`
		ActiveSymbols   int      `json:"active_symbols"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		MarketOpen:      h.MarketOpen,
		WSConnected:     h.WSConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Symbols:         h.Symbols,
		ActiveSymbols:   h.ActiveSymbols,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
