package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transportConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "convosync_transport_connected",
			Help: "1 while the socket channel is connected.",
		},
	)
	transportReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convosync_transport_reconnects_total",
			Help: "Reconnect attempts by outcome.",
		},
		[]string{"result"},
	)
	inboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convosync_inbound_events_total",
			Help: "Socket events received by the client channel.",
		},
		[]string{"event"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convosync_sends_total",
			Help: "Optimistic sends by result.",
		},
		[]string{"result"},
	)
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convosync_loads_total",
			Help: "Conversation history loads by result.",
		},
		[]string{"result"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convosync_http_requests_total",
			Help: "Total number of HTTP requests processed by the reference backend.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convosync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "convosync_ws_active_connections",
			Help: "Number of sockets attached to the reference backend.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		transportConnected,
		transportReconnectsTotal,
		inboundEventsTotal,
		sendsTotal,
		loadsTotal,
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
	)
}

func SetTransportConnected(connected bool) {
	if connected {
		transportConnected.Set(1)
		return
	}
	transportConnected.Set(0)
}

func IncReconnect(result string) {
	transportReconnectsTotal.WithLabelValues(result).Inc()
}

func IncInboundEvent(event string) {
	inboundEventsTotal.WithLabelValues(event).Inc()
}

func IncSend(result string) {
	sendsTotal.WithLabelValues(result).Inc()
}

func IncLoad(result string) {
	loadsTotal.WithLabelValues(result).Inc()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
