// Package telemetry exposes the clinic server's Prometheus metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

var (
	// Registry holds every collector served on /metrics.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})

	smsSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sms",
		Name:      "sends_total",
		Help:      "Outbound SMS attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	smsReceipts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sms",
		Name:      "webhooks_total",
		Help:      "Inbound provider callbacks by provider and kind.",
	}, []string{"provider", "kind"})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})

	otpEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "otp",
		Name:      "events_total",
		Help:      "OTP issue and verification outcomes.",
	}, []string{"event"})

	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open WebSocket connections.",
	})

	realtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "events_total",
		Help:      "Database change events fanned out to subscribers.",
	}, []string{"table"})

	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Scheduled job runs by outcome.",
	}, []string{"job", "outcome"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "run_duration_seconds",
		Help:      "Duration of scheduled job runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"job"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		smsSends,
		smsReceipts,
		notifications,
		otpEvents,
		wsConnections,
		realtimeEvents,
		jobRuns,
		jobDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}

// Middleware records request count and latency per route template, so
// /api/v1/appointments/:id is one series regardless of the id.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}

			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Outcome maps an error to the "success" or "failure" label value.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordSMSSend counts one outbound SMS attempt.
func RecordSMSSend(provider string, err error) {
	smsSends.WithLabelValues(provider, Outcome(err)).Inc()
}

// RecordSMSWebhook counts one provider callback ("status" or "inbound").
func RecordSMSWebhook(provider, kind string) {
	smsReceipts.WithLabelValues(provider, kind).Inc()
}

// RecordNotification counts a delivery on channel ("sms", "email", "in_app").
// Skipped deliveries (opt-out, no phone) use outcome "skipped".
func RecordNotification(channel, result string) {
	notifications.WithLabelValues(channel, result).Inc()
}

// RecordOTP counts an OTP event such as "issued", "verified", "expired",
// "invalid", "locked" or "throttled".
func RecordOTP(event string) {
	otpEvents.WithLabelValues(event).Inc()
}

func WSConnected()    { wsConnections.Inc() }
func WSDisconnected() { wsConnections.Dec() }

func RecordRealtimeEvent(table string) {
	realtimeEvents.WithLabelValues(table).Inc()
}

func RecordJobRun(job string, d time.Duration, err error) {
	jobRuns.WithLabelValues(job, Outcome(err)).Inc()
	jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
