// Package metrics provides Prometheus instrumentation for the homeflow API.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homeflow",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "homeflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OffersSubmittedTotal counts offers submitted by buyers.
	OffersSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homeflow",
		Name:      "offers_submitted_total",
		Help:      "Total offers submitted.",
	})

	// OfferResponsesTotal counts seller responses by action.
	OfferResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homeflow",
			Name:      "offer_responses_total",
			Help:      "Total offer responses by action (accept, decline, counter).",
		},
		[]string{"action"},
	)

	// EscrowsOpenedTotal counts escrows opened on offer acceptance.
	EscrowsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homeflow",
		Name:      "escrows_opened_total",
		Help:      "Total escrows opened.",
	})

	// EscrowStatusChangesTotal counts escrow status updates by target status.
	EscrowStatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homeflow",
			Name:      "escrow_status_changes_total",
			Help:      "Total escrow status changes by new status.",
		},
		[]string{"status"},
	)

	// DocumentsAddedTotal counts documents attached to escrows.
	DocumentsAddedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homeflow",
		Name:      "escrow_documents_added_total",
		Help:      "Total documents attached to escrows.",
	})

	// ListingsCreatedTotal counts listings created by sellers.
	ListingsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homeflow",
		Name:      "listings_created_total",
		Help:      "Total listings created.",
	})

	// OutboxEventsTotal counts lifecycle events enqueued by type.
	OutboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homeflow",
			Name:      "outbox_events_total",
			Help:      "Total lifecycle events enqueued by event type.",
		},
		[]string{"type"},
	)

	// OutboxDroppedTotal counts lifecycle events dropped on queue overflow.
	OutboxDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "homeflow",
		Name:      "outbox_dropped_total",
		Help:      "Total lifecycle events dropped because the outbox was full.",
	})

	// WebhookDeliveriesTotal counts webhook delivery attempts by result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "homeflow",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "homeflow",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "homeflow", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "homeflow", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "homeflow", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "homeflow", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OffersSubmittedTotal,
		OfferResponsesTotal,
		EscrowsOpenedTotal,
		EscrowStatusChangesTotal,
		DocumentsAddedTotal,
		ListingsCreatedTotal,
		OutboxEventsTotal,
		OutboxDroppedTotal,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
