// Package metrics provides Prometheus metrics for the search server and the
// import jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. A nil *Metrics records nothing, so callers
// that do not export metrics can pass nil.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SearchQueriesTotal *prometheus.CounterVec
	SearchDuration     prometheus.Histogram
	SearchResultsTotal prometheus.Counter

	IndexOperationsTotal *prometheus.CounterVec
	DocumentsDeleted     prometheus.Counter
	DocumentsUpdated     prometheus.Counter

	ImportFilesTotal   *prometheus.CounterVec
	ImportManualsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)
	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsearch_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.SearchQueriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_search_queries_total",
			Help: "Total number of search queries",
		},
		[]string{"status"},
	)
	m.SearchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsearch_search_duration_seconds",
			Help:    "Duration of search queries including facets in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	m.SearchResultsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsearch_search_results_total",
			Help: "Total number of search hits returned",
		},
	)

	m.IndexOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_index_operations_total",
			Help: "Total number of index write operations",
		},
		[]string{"operation", "status"},
	)
	m.DocumentsDeleted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsearch_documents_deleted_total",
			Help: "Total number of section documents removed from the index",
		},
	)
	m.DocumentsUpdated = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsearch_documents_version_removed_total",
			Help: "Total number of section documents that lost one version but were kept",
		},
	)

	m.ImportFilesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_import_files_total",
			Help: "Total number of HTML files processed by imports",
		},
		[]string{"status"},
	)
	m.ImportManualsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsearch_import_manuals_total",
			Help: "Total number of manuals processed by imports",
		},
		[]string{"status"},
	)

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, statusClass(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// RecordSearch records one search and the number of hits it found.
func (m *Metrics) RecordSearch(hits int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(status(err)).Inc()
	m.SearchDuration.Observe(duration.Seconds())
	if err == nil {
		m.SearchResultsTotal.Add(float64(hits))
	}
}

// RecordIndexOperation records one write against the index.
func (m *Metrics) RecordIndexOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.IndexOperationsTotal.WithLabelValues(operation, status(err)).Inc()
}

// RecordDeletion records the outcome of a version-aware manual delete.
func (m *Metrics) RecordDeletion(deleted, updated int64) {
	if m == nil {
		return
	}
	m.DocumentsDeleted.Add(float64(deleted))
	m.DocumentsUpdated.Add(float64(updated))
}

// RecordImportFile records one processed HTML file.
func (m *Metrics) RecordImportFile(err error) {
	if m == nil {
		return
	}
	m.ImportFilesTotal.WithLabelValues(status(err)).Inc()
}

// RecordImportManual records one processed manual.
func (m *Metrics) RecordImportManual(err error) {
	if m == nil {
		return
	}
	m.ImportManualsTotal.WithLabelValues(status(err)).Inc()
}
