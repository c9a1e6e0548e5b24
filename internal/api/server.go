// Package api exposes a simulation session over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/star/orbitlab/internal/auth"
	"github.com/star/orbitlab/internal/health"
	"github.com/star/orbitlab/internal/httputil"
	"github.com/star/orbitlab/internal/metrics"
	"github.com/star/orbitlab/internal/session"
	"github.com/star/orbitlab/internal/stream"
	"github.com/star/orbitlab/internal/tle"
)

// Options configures the HTTP surface.
type Options struct {
	Addr       string
	Auth       auth.Config
	Stream     stream.Config
	TrustProxy bool
	// CatalogGroup is fetched when POST /api/v1/catalog/fetch names none.
	CatalogGroup string
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	sess       *session.Session
	catalog    *tle.Store
	opts       Options
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server for sess. catalog may be nil,
// in which case the catalog routes answer 404.
func NewServer(sess *session.Session, catalog *tle.Store, opts Options, logger *slog.Logger) *Server {
	if opts.CatalogGroup == "" {
		opts.CatalogGroup = "stations"
	}
	opts.Stream.TrustProxy = opts.TrustProxy

	s := &Server{
		sess:    sess,
		catalog: catalog,
		opts:    opts,
		logger:  logger.With("component", "api"),
	}

	router := mux.NewRouter()
	router.Use(metrics.Middleware)
	router.Use(auth.Middleware(opts.Auth))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorBody{Error: "no such route", Kind: "not_found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: "method not allowed", Kind: "invalid_parameter"})
	})
	s.routes(router)

	s.handler = loggingMiddleware(s.logger, opts.TrustProxy)(router)
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(r *mux.Router) {
	r.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", health.Readyz(s.sess.Ready)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/bodies", s.listBodies).Methods(http.MethodGet)
	v1.HandleFunc("/bodies", s.createBody).Methods(http.MethodPost)
	v1.HandleFunc("/bodies/{id}", s.getBody).Methods(http.MethodGet)
	v1.HandleFunc("/bodies/{id}", s.updateBody).Methods(http.MethodPut)
	v1.HandleFunc("/bodies/{id}", s.deleteBody).Methods(http.MethodDelete)
	v1.HandleFunc("/bodies/{id}/trail", s.bodyTrail).Methods(http.MethodGet)
	v1.HandleFunc("/selection", s.setSelection).Methods(http.MethodPut)
	v1.HandleFunc("/presets", s.listPresets).Methods(http.MethodGet)

	v1.HandleFunc("/clock", s.getClock).Methods(http.MethodGet)
	v1.HandleFunc("/clock/play", s.play).Methods(http.MethodPost)
	v1.HandleFunc("/clock/pause", s.pause).Methods(http.MethodPost)
	v1.HandleFunc("/clock/reset", s.reset).Methods(http.MethodPost)
	v1.HandleFunc("/clock/speed", s.setSpeed).Methods(http.MethodPut)
	v1.HandleFunc("/trail-length", s.getTrailLength).Methods(http.MethodGet)
	v1.HandleFunc("/trail-length", s.setTrailLength).Methods(http.MethodPut)

	v1.HandleFunc("/analysis", s.startAnalysis).Methods(http.MethodPost)
	v1.HandleFunc("/analysis", s.latestAnalysis).Methods(http.MethodGet)
	v1.HandleFunc("/analysis", s.cancelAnalysis).Methods(http.MethodDelete)
	v1.HandleFunc("/analysis/result", s.analysisResult).Methods(http.MethodGet)

	v1.HandleFunc("/snapshot", s.snapshot).Methods(http.MethodGet)
	v1.Handle("/stream", stream.NewHandler(s.sess, s.opts.Stream, s.logger)).Methods(http.MethodGet)

	v1.HandleFunc("/catalog", s.catalogInfo).Methods(http.MethodGet)
	v1.HandleFunc("/catalog/entries/{query}", s.catalogEntry).Methods(http.MethodGet)
	v1.HandleFunc("/catalog/fetch", s.catalogFetch).Methods(http.MethodPost)

	v1.HandleFunc("/passes", s.predictPasses).Methods(http.MethodPost)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath reports paths that log at Debug instead of Info.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the connection.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
