// The HTTP port serves the quiz API, a health route and the prometheus exposition. Every response body is JSON;
// failures carry {"error": "..."}. Routes are matched by httprouter and every route is measured under its pattern,
// so per-quiz paths don't explode the label space.

package port

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

var (
	httpPort            = flag.Int("port", 8080, "The port to serve the HTTP API on.")
	httpShutdownTimeout = flag.Duration("http_shutdown_timeout", 10*time.Second,
		"How long in-flight HTTP requests get to finish once the server is asked to stop.")

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quizlet_http_requests_total",
		Help: "Total number of HTTP requests served.",
	}, []string{"route", "method", "code"})
	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quizlet_http_request_duration_seconds",
		Help:    "Latency of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// maxBodyBytes bounds a quiz create or update body.
const maxBodyBytes = 1 << 20

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// measured wraps a route handler with request metrics labeled by `route`.
func measured(route string, handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handle(recorder, r, ps)
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
		httpLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	}
}

// errorBody is the JSON body of every failed request.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes `body` with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write HTTP response.", "status", status, "error", err)
	}
}

// writeRawJSON writes an already encoded JSON body with status 200.
func writeRawJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("Failed to write HTTP response.", "error", err)
	}
}

// writeError maps `err` to its status code and writes it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed.", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("Request rejected.", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// RunHTTPServer serves `handler` on --port until `ctx` is done, then gives in-flight requests
// --http_shutdown_timeout to finish.
func RunHTTPServer(ctx context.Context, handler http.Handler) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", *httpPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", *httpPort, err)
	}
	return serveHTTP(ctx, listener, handler)
}

// serveHTTP serves `handler` over `listener` until `ctx` is done.
func serveHTTP(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()
	slog.Info("HTTP server listening.", "address", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), *httpShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut the HTTP server down: %w", err)
		}
		slog.Info("HTTP server stopped.")
	case err, ok := <-serverErrSignal:
		if ok {
			return fmt.Errorf("HTTP server stopped unexpectedly: %w", err)
		}
	}
	return nil
}

// newRouter returns a router answering the common routes, with the API routes left to the caller.
func newRouter() *httprouter.Router {
	router := httprouter.New()
	router.GET("/api", measured("/api", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]string{"api": "v0"})
	}))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no route for " + r.Method + " " + r.URL.Path})
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, recovered any) {
		slog.Error("Request handler panicked.", "method", r.Method, "path", r.URL.Path, "panic", recovered)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
	return router
}

// withCORS lets browsers on any origin call the API.
func withCORS(handler http.Handler) http.Handler {
	return cors.AllowAll().Handler(handler)
}
