// Package metrics wires the process's Prometheus registry to an HTTP
// endpoint, the one ambient surface every component's counters and
// gauges (registered via MustRegister in their own packages) are served
// through.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the process is currently healthy; wired to
// supervisor.Supervisor.Healthy by the caller.
type HealthFunc func() bool

// Serve starts an HTTP server exposing /metrics and /healthz on addr. It
// returns immediately; call Shutdown on the returned server to stop it.
func Serve(addr string, healthy HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if healthy != nil && !healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

// Shutdown gracefully stops srv within ctx's deadline.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
