// Package telemetry exposes Prometheus collectors for the coordinator.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksAssignedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_tasks_assigned_total",
			Help: "Total number of tasks handed to workers, labeled by kind.",
		},
		[]string{"kind"},
	)

	noTaskTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_no_task_total",
			Help: "Total number of assignment calls that found no claimable work.",
		},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_submissions_total",
			Help: "Total number of worker submissions processed, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)

	assignmentsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_assignments_reclaimed_total",
			Help: "Total number of stale assignments released back to the queue.",
		},
	)

	discoveryRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_discovery_restarts_total",
			Help: "Total number of store-wide discovery cycle restarts.",
		},
	)

	leaderboardUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_leaderboard_updates_total",
			Help: "Total number of leaderboard mutations, labeled by operation.",
		},
		[]string{"op"},
	)

	submissionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_submission_queue_depth",
			Help: "Number of queued background submission jobs.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTaskAssigned counts one handed-out task.
func ObserveTaskAssigned(kind string) {
	tasksAssignedTotal.WithLabelValues(kind).Inc()
}

// ObserveNoTask counts one empty assignment call.
func ObserveNoTask() {
	noTaskTotal.Inc()
}

// ObserveSubmission counts one processed submission.
func ObserveSubmission(kind, status string) {
	submissionsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveReclaimed counts released stale assignments.
func ObserveReclaimed(n int64) {
	if n > 0 {
		assignmentsReclaimed.Add(float64(n))
	}
}

// ObserveDiscoveryRestart counts one discovery cycle restart.
func ObserveDiscoveryRestart() {
	discoveryRestartsTotal.Inc()
}

// ObserveLeaderboardUpdate counts one leaderboard mutation.
func ObserveLeaderboardUpdate(op string) {
	leaderboardUpdatesTotal.WithLabelValues(op).Inc()
}

// SetSubmissionQueueDepth publishes the background queue depth.
func SetSubmissionQueueDepth(n int) {
	submissionQueueDepth.Set(float64(n))
}

// Middleware is a chi middleware recording HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

// ObserveHTTPRequest records one HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
