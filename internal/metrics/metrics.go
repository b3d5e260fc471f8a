// Package metrics provides Prometheus metrics for sync runs.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	CatalogFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bom_sync_catalog_fetches_total",
			Help: "Catalog lookups by supplier, lookup kind and result",
		},
		[]string{"supplier", "kind", "result"},
	)

	CatalogFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bom_sync_catalog_fetch_duration_seconds",
			Help:    "Time taken by catalog lookups",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"supplier"},
	)

	// Backend metrics
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bom_sync_backend_requests_total",
			Help: "InvenTree API requests by operation, collection and status",
		},
		[]string{"operation", "collection", "status"},
	)

	// Pipeline metrics
	LinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bom_sync_lines_total",
			Help: "BOM lines processed by final status",
		},
		[]string{"status"},
	)
)

// Result label values.
const (
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// ObserveFetch records one catalog lookup.
func ObserveFetch(supplier, kind, result string, started time.Time) {
	CatalogFetchesTotal.WithLabelValues(supplier, kind, result).Inc()
	CatalogFetchDuration.WithLabelValues(supplier).Observe(time.Since(started).Seconds())
}

// Serve exposes /metrics on addr until the server is closed.
// It returns nil when addr is empty.
func Serve(addr string) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(100 * time.Millisecond):
		return srv, nil
	}
}
