// internal/observability/metrics.go

package observability

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

// Collector bundles the service's Prometheus metrics. It implements the
// observer hooks of the imaging, analysis and geo services.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	CompressionRuns     *prometheus.CounterVec
	CompressionAttempts *prometheus.HistogramVec
	CompressionBytes    *prometheus.HistogramVec

	AnalysisAttempts  *prometheus.CounterVec
	AnalysisOutcomes  *prometheus.CounterVec
	AnalysisDurations *prometheus.HistogramVec

	ResolverTransitions *prometheus.CounterVec
	PositionSessions    prometheus.Gauge
}

// NewCollector registers metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.HTTPRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agrosense_http_requests_total",
		Help: "Handled HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agrosense_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}

	if c.CompressionRuns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agrosense_compression_runs_total",
		Help: "Image compressions by preset and outcome.",
	}, []string{"preset", "outcome"})); err != nil {
		return nil, err
	}
	if c.CompressionAttempts, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agrosense_compression_attempts",
		Help:    "Re-encodes needed to meet the byte budget.",
		Buckets: prometheus.LinearBuckets(0, 2, 8),
	}, []string{"preset"})); err != nil {
		return nil, err
	}
	if c.CompressionBytes, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agrosense_compression_output_bytes",
		Help:    "Size of compressed uploads in bytes.",
		Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8),
	}, []string{"preset"})); err != nil {
		return nil, err
	}

	if c.AnalysisAttempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agrosense_analysis_calls_total",
		Help: "Remote analysis calls by kind and error class.",
	}, []string{"kind", "class"})); err != nil {
		return nil, err
	}
	if c.AnalysisOutcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agrosense_analysis_outcomes_total",
		Help: "Completed analysis flows by kind and outcome.",
	}, []string{"kind", "outcome"})); err != nil {
		return nil, err
	}
	if c.AnalysisDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agrosense_analysis_duration_seconds",
		Help:    "End to end analysis latency including retries.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
	}, []string{"kind"})); err != nil {
		return nil, err
	}

	if c.ResolverTransitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agrosense_resolver_transitions_total",
		Help: "Geolocation resolver transitions by phase and source.",
	}, []string{"phase", "source"})); err != nil {
		return nil, err
	}
	if c.PositionSessions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agrosense_position_sessions",
		Help: "Open websocket position sessions.",
	})); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies by chi route pattern
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveCompression implements the imaging observer
func (c *Collector) ObserveCompression(preset string, attempts, size int, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.CompressionRuns.WithLabelValues(preset, outcome).Inc()
	c.CompressionAttempts.WithLabelValues(preset).Observe(float64(attempts))
	if err == nil {
		c.CompressionBytes.WithLabelValues(preset).Observe(float64(size))
	}
}

// ObserveAttempt implements the analysis observer
func (c *Collector) ObserveAttempt(kind, class string) {
	if c == nil {
		return
	}
	c.AnalysisAttempts.WithLabelValues(kind, class).Inc()
}

// ObserveAnalysis implements the analysis observer
func (c *Collector) ObserveAnalysis(kind, outcome string, _ int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.AnalysisOutcomes.WithLabelValues(kind, outcome).Inc()
	c.AnalysisDurations.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveState counts a resolver transition. Register it with OnChange.
func (c *Collector) ObserveState(s geo.State) {
	if c == nil {
		return
	}
	c.ResolverTransitions.WithLabelValues(string(s.Phase), string(s.Source)).Inc()
}

// SessionOpened tracks a websocket position session
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.PositionSessions.Inc()
}

// SessionClosed is the counterpart of SessionOpened
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.PositionSessions.Dec()
}

// register adds col to reg, returning the already registered collector of
// the same type when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return col, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		return col, err
	}
	return col, nil
}
