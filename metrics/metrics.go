// Package metrics exposes Prometheus-compatible service metrics over HTTP.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves the /metrics endpoint for Prometheus scraping.
type MetricsServer struct {
	srv       *http.Server
	namespace string
}

// New creates a metrics server listening on addr. The namespace prefixes
// all counters registered through this package.
func New(namespace, addr string) (*MetricsServer, error) {
	if addr == "" {
		return &MetricsServer{namespace: namespace}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		vmetrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		namespace: namespace,
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe starts serving metrics. Blocks until the server stops.
func (m *MetricsServer) ListenAndServe() error {
	if m.srv == nil {
		return nil
	}
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}

// IncCounter increments the named counter, prefixed with the server namespace.
func (m *MetricsServer) IncCounter(name string) {
	vmetrics.GetOrCreateCounter(fmt.Sprintf("%s_%s_total", m.namespace, name)).Inc()
}

// ObserveDuration records a duration observation in the named histogram.
func (m *MetricsServer) ObserveDuration(name string, d time.Duration) {
	vmetrics.GetOrCreateHistogram(fmt.Sprintf("%s_%s_seconds", m.namespace, name)).Update(d.Seconds())
}
