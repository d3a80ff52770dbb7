package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/event"
)

const namespace = "quizsync"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Committed session mutations by event name.",
	}, []string{"event"})

	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "live",
		Help:      "Sessions created and not yet ended or expired by this process.",
	})
)

// GinMetrics records request count and latency per matched route.
func GinMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// MonitorSessions counts session events published on eb.
func MonitorSessions(eb *event.Bus) {
	count := func(_ context.Context, e event.Event) error {
		sessionEvents.WithLabelValues(e.Name()).Inc()

		switch e.(type) {
		case domain.EventSessionCreated:
			liveSessions.Inc()
		case domain.EventSessionEnded:
			liveSessions.Dec()
		}

		return nil
	}

	for _, name := range []string{
		domain.EventNameSessionCreated,
		domain.EventNamePlayerJoined,
		domain.EventNameScoreUpdated,
		domain.EventNameImageSet,
		domain.EventNameSessionEnded,
	} {
		eb.Subscribe(name, "telemetry", count)
	}
}
