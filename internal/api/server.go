// Package api exposes the optimizer and the job queue over HTTP.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fleetroute/internal/broker"
	"fleetroute/internal/jobs"
	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
	"fleetroute/internal/optimizer"
	"fleetroute/internal/webhooks"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Optimizer *optimizer.Service
	Jobs      *jobs.Queue
	Broker    broker.Broker
	// Deliveries backs the admin webhook listing; nil hides it.
	Deliveries *webhooks.Memory
	Checks     map[string]Pinger
	Log        logging.Logger
	// Heartbeat is the idle interval between SSE heartbeats.
	Heartbeat time.Duration
}

func NewServer(opt *optimizer.Service, q *jobs.Queue, b broker.Broker) *Server {
	return &Server{
		Optimizer: opt,
		Jobs:      q,
		Broker:    b,
		Checks:    map[string]Pinger{},
		Log:       logging.Noop(),
		Heartbeat: 15 * time.Second,
	}
}

// Router wires every endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, instrument)

	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.ReadyHandler).Methods(http.MethodGet)
	r.HandleFunc("/config", s.ConfigHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/vars", s.DebugJSON).Methods(http.MethodGet)

	r.HandleFunc("/optimize", s.OptimizeHandler).Methods(http.MethodPost)
	r.HandleFunc("/optimize/async", s.OptimizeAsyncHandler).Methods(http.MethodPost)

	r.HandleFunc("/jobs", s.JobsHandler).Methods(http.MethodGet)
	r.HandleFunc("/jobs/stats", s.JobStatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.JobHandler).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.CancelJobHandler).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{id}/events", s.JobEventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}/ws", s.JobWSHandler).Methods(http.MethodGet)

	r.HandleFunc("/admin/search-metrics", s.SearchMetricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/admin/webhook-deliveries", s.WebhookDeliveriesHandler).Methods(http.MethodGet)

	r.HandleFunc("/openapi.yaml", s.OpenAPIHandler).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.OpenAPIJSONHandler).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.DocsHandler).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method, r.URL.Path)
	})
	return r
}

// requestID propagates X-Request-Id, generating one when absent.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-Id"))
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot hijack")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument records request counts and durations by route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
