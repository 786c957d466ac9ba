// Package metrics provides Prometheus instrumentation for the
// settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts accepted bets, partitioned by choice.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arenax_bets_total",
		Help: "Total number of bets accepted",
	}, []string{"choice"})

	// BetVolume tracks cumulative accepted bet volume in lamports.
	BetVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenax_bet_volume_lamports_total",
		Help: "Cumulative accepted bet volume in lamports",
	})

	// FinalizationsTotal counts match finalizations by outcome.
	FinalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arenax_finalizations_total",
		Help: "Total match finalizations",
	}, []string{"winner"})

	// ClaimsTotal counts successful winnings claims.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenax_claims_total",
		Help: "Successful winnings claims",
	})

	// RefundsTotal counts successful bet refunds.
	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenax_refunds_total",
		Help: "Successful bet refunds",
	})

	// PayoutVolume tracks cumulative payouts in lamports.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenax_payout_volume_lamports_total",
		Help: "Cumulative payout volume in lamports",
	})

	// ActiveMatches tracks the number of open matches.
	ActiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arenax_active_matches",
		Help: "Number of currently open matches",
	})

	// ComplianceRejections counts bets blocked by the compliance oracle.
	ComplianceRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenax_compliance_rejections_total",
		Help: "Bets blocked by the compliance oracle",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arenax_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arenax_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arenax_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small
		// enough that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
