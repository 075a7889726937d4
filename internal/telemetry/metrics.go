package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Protocol ----
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zcs",
			Name:      "messages_received_total",
			Help:      "Datagrams decoded and dispatched, by message kind.",
		},
		[]string{"kind"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zcs",
			Name:      "messages_sent_total",
			Help:      "Datagrams sent, by message kind and result (ok|error).",
		},
		[]string{"kind", "result"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zcs",
			Name:      "messages_dropped_total",
			Help:      "Datagrams discarded, by reason (malformed|ignored|unknown_node|invalid|panic).",
		},
		[]string{"reason"},
	)

	NodeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zcs",
			Name:      "node_transitions_total",
			Help:      "Liveness transitions, by new status.",
		},
		[]string{"status"},
	)

	AdsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zcs",
			Name:      "ads_delivered_total",
			Help:      "Advertisements handed to a registered callback.",
		},
	)

	KnownNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zcs",
			Name:      "known_nodes",
			Help:      "Nodes in the registry, by status.",
		},
		[]string{"status"},
	)

	LogEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zcs",
			Name:      "log_entries_total",
			Help:      "Log entries written, by level.",
		},
		[]string{"level"},
	)

	// ---- HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zcs",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zcs",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zcs",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zcs",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zcs",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesReceived, MessagesSent, MessagesDropped, NodeTransitions, AdsDelivered, KnownNodes, LogEntries,
		RequestsTotal, RequestDuration, InFlight, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with e.GET("/metrics", echo.WrapHandler(telemetry.MetricsHandler())).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// Result maps a send error to the "result" label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ---- Middleware instrumentation ----

// Instrument records request metrics labeled by the matched route, e.g.
// "/v1/nodes/:name". Unmatched requests share the "unmatched" label.
//
//	e.Use(telemetry.Instrument())
func Instrument() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			op := c.Path()
			if op == "" {
				op = "unmatched"
			}
			start := time.Now()

			InFlight.WithLabelValues(op).Inc()
			defer InFlight.WithLabelValues(op).Dec()

			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			class := strconv.Itoa(c.Response().Status/100) + "xx"
			RequestsTotal.WithLabelValues(op, class).Inc()
			RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
