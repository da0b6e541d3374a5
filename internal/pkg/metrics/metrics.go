package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georef",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "georef",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "georef",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
	}, []string{"method", "path"})

	// Engine metrics
	FitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georef",
		Subsystem: "engine",
		Name:      "fits_total",
		Help:      "Similarity fits attempted, by outcome",
	}, []string{"outcome"})

	FitRMSE = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "georef",
		Subsystem: "engine",
		Name:      "fit_rmse",
		Help:      "Control point RMSE of successful fits, in target units",
		Buckets:   prometheus.ExponentialBuckets(1e-9, 10, 12),
	})

	ProjectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "georef",
		Subsystem: "engine",
		Name:      "projection_duration_seconds",
		Help:      "Time spent reprojecting a dataset",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	GeometriesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georef",
		Subsystem: "engine",
		Name:      "geometries_skipped_total",
		Help:      "Geometries passed through untransformed, by kind",
	}, []string{"kind"})

	// Session metrics
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georef",
		Subsystem: "session",
		Name:      "uploads_total",
		Help:      "Datasets uploaded, by slot",
	}, []string{"slot"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "georef",
		Subsystem: "session",
		Name:      "active",
		Help:      "Sessions currently held by the in-memory store",
	})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "georef",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}
