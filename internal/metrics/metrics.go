// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultError   = "error"
)

// AuthOperations counts auth flows by operation and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var AuthOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "contacts_auth_operations_total",
		Help: "Total number of auth operations",
	},
	[]string{"operation", "result"},
)

// SessionCacheLookups counts session cache reads on the current-user path
var SessionCacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "contacts_session_cache_lookups_total",
		Help: "Session cache lookups by result",
	},
	[]string{"result"},
)

// MailDispatches counts emails handed to the dispatcher
var MailDispatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "contacts_mail_dispatches_total",
		Help: "Emails handed off for delivery",
	},
	[]string{"kind", "result"},
)

// HTTPRequests counts served requests
var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "contacts_http_requests_total",
		Help: "Total number of HTTP requests",
	},
	[]string{"method", "route", "status"},
)

// HTTPDuration observes request latency
var HTTPDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "contacts_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

// RegisterMetrics registers all collectors with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthOperations)
	reg.MustRegister(SessionCacheLookups)
	reg.MustRegister(MailDispatches)
	reg.MustRegister(HTTPRequests)
	reg.MustRegister(HTTPDuration)
}

// RecordAuthOperation records the outcome of an auth flow
func RecordAuthOperation(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	AuthOperations.WithLabelValues(operation, result).Inc()
}

// RecordCacheLookup records a session cache read (use ResultHit, ResultMiss or ResultError)
func RecordCacheLookup(result string) {
	SessionCacheLookups.WithLabelValues(result).Inc()
}

// RecordMailDispatch records a mail hand-off
func RecordMailDispatch(kind string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	MailDispatches.WithLabelValues(kind, result).Inc()
}

// GinMiddleware records request count and latency per matched route
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
