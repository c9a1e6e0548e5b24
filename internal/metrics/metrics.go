// Package metrics holds the Prometheus instrumentation for the engine and
// its HTTP surface. All collectors register on the default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitlab_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitlab_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitlab_scheduler_ticks_total",
		Help: "Scheduler ticks that produced a frame.",
	})

	tickDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitlab_scheduler_tick_duration_seconds",
		Help:    "Time spent computing one frame.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	bodyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitlab_body_errors_total",
			Help: "Per-body propagation failures during ticks, by error kind.",
		},
		[]string{"kind"},
	)

	framesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitlab_frames_dropped_total",
		Help: "Frames not delivered to a slow subscriber.",
	})

	bodiesRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitlab_bodies_registered",
		Help: "Number of bodies in the registry.",
	})

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitlab_analyses_total",
			Help: "Conjunction analyses by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitlab_analysis_duration_seconds",
		Help:    "Wall-clock duration of conjunction analyses.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
	})

	analysisInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitlab_analysis_in_flight",
		Help: "1 while a conjunction analysis is running.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitlab_stream_connections_total",
			Help: "SSE connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitlab_streams_active",
		Help: "Open SSE streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitlab_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitlab_stream_messages_total",
		Help: "SSE data messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitlab_stream_bytes_total",
		Help: "SSE bytes written.",
	})

	catalogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitlab_tle_catalog_size",
		Help: "Entries in the loaded TLE catalog.",
	})

	catalogAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitlab_tle_catalog_age_seconds",
		Help: "Age of the loaded TLE catalog.",
	})

	tleFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitlab_tle_fetches_total",
			Help: "TLE fetch attempts by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		ticksTotal,
		tickDurationSeconds,
		bodyErrorsTotal,
		framesDroppedTotal,
		bodiesRegistered,
		analysesTotal,
		analysisDurationSeconds,
		analysisInFlight,
		streamConnectionsTotal,
		streamsActive,
		streamErrorsTotal,
		streamMessagesTotal,
		streamBytesTotal,
		catalogSize,
		catalogAgeSeconds,
		tleFetchesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveTick(d time.Duration) {
	ticksTotal.Inc()
	tickDurationSeconds.Observe(d.Seconds())
}

func IncBodyErrors(kind string) { bodyErrorsTotal.WithLabelValues(kind).Inc() }
func IncFramesDropped()         { framesDroppedTotal.Inc() }
func SetBodiesRegistered(n int) { bodiesRegistered.Set(float64(n)) }

// ObserveAnalysis records one finished analysis.
func ObserveAnalysis(outcome string, d time.Duration) {
	analysesTotal.WithLabelValues(outcome).Inc()
	analysisDurationSeconds.Observe(d.Seconds())
}

func SetAnalysisInFlight(running bool) {
	if running {
		analysisInFlight.Set(1)
		return
	}
	analysisInFlight.Set(0)
}

func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }
func IncStreamsActive()                 { streamsActive.Inc() }
func DecStreamsActive()                 { streamsActive.Dec() }
func IncStreamErrors(reason string)     { streamErrorsTotal.WithLabelValues(reason).Inc() }
func IncStreamMessages()                { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64)            { streamBytesTotal.Add(float64(n)) }

func SetCatalogSize(n int)          { catalogSize.Set(float64(n)) }
func SetCatalogAge(seconds float64) { catalogAgeSeconds.Set(seconds) }
func IncTLEFetches(status string)   { tleFetchesTotal.WithLabelValues(status).Inc() }

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// routeLabel returns the matched route template so that path parameters do
// not explode label cardinality. Unmatched requests collapse to "other".
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "other"
}

// Middleware records request count and duration. Install it with
// (*mux.Router).Use so the matched route is known.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := routeLabel(r)
		code := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}
