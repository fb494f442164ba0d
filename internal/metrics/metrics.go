// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes an optional side HTTP server reporting
// session-lifecycle counters. The primary transport stays pure stdio;
// this endpoint is strictly supplementary and never touches stdin/stdout.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sandbox-runner/internal/logutil"
)

var logger = logutil.GetLogger("metrics")

var (
	// SessionsStarted counts every call to start_program that produced a
	// session, regardless of how it later terminates.
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandbox_sessions_started_total",
		Help: "Count of sessions successfully started.",
	})

	// SessionsSpawnErrors counts start_program calls that failed before a
	// session was registered.
	SessionsSpawnErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandbox_session_spawn_errors_total",
		Help: "Count of start_program calls that failed to launch a container.",
	})

	// SessionsTerminal counts sessions reaching a terminal lifecycle event,
	// labeled by which one (exit, timeout, idle_timeout, limit).
	SessionsTerminal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_sessions_terminal_total",
		Help: "Count of sessions reaching a terminal event, by reason.",
	}, []string{"reason"})

	// SessionsActive is a live gauge of sessions still tracked by the
	// registry (not necessarily still running).
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandbox_sessions_active",
		Help: "Sessions currently tracked by the registry.",
	})

	httpRequestRt = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sandbox_metrics_http_request_rt_ms",
		Help:    "Latency of requests served by the metrics side server.",
		Buckets: []float64{1, 5, 10, 50, 100},
	}, []string{"path", "method"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_metrics_http_requests_total",
		Help: "Count of requests served by the metrics side server.",
	}, []string{"path", "method", "code"})
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsSpawnErrors,
		SessionsTerminal,
		SessionsActive,
		httpRequestRt,
		httpRequests,
	)
}

func wrapPrometheus(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method, start := r.URL.Path, r.Method, time.Now()

		snooped := httpsnoop.CaptureMetrics(next, w, r)

		code := strconv.Itoa(snooped.Code)
		httpRequestRt.WithLabelValues(path, method).Observe(float64(time.Since(start).Milliseconds()))
		httpRequests.WithLabelValues(path, method, code).Inc()
	})
}

// StartServer starts the optional metrics side server and blocks. Callers
// run it in its own goroutine; a listen failure is logged, not fatal,
// since the primary stdio transport must keep running regardless.
func StartServer(addr string) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	logger.Infof("metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, wrapPrometheus(router)); err != nil {
		logger.WithError(err).Error("metrics server stopped")
	}
}
