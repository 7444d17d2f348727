// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlRunsTotal      *prometheus.CounterVec
	crawlPagesTotal     *prometheus.CounterVec
	themesIngestedTotal *prometheus.CounterVec
	recordsSkippedTotal *prometheus.CounterVec
	snapshotsTotal      prometheus.Counter
	activeWorkers       prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themewatch_crawl_runs_total",
				Help: "Total number of crawl runs started, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themewatch_crawl_pages_total",
				Help: "Total number of pages processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		themesIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themewatch_themes_ingested_total",
				Help: "Total number of theme records reconciled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recordsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themewatch_records_skipped_total",
				Help: "Total number of upstream records skipped as anomalous, labeled by reason.",
			},
			[]string{"reason"},
		)

		snapshotsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "themewatch_stat_snapshots_total",
				Help: "Total number of theme stat snapshots appended.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "themewatch_active_workers",
				Help: "Number of workers currently processing a crawl job.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRunStarted counts a new crawl run for a kind.
func ObserveRunStarted(kind string) {
	if crawlRunsTotal == nil {
		return
	}
	crawlRunsTotal.WithLabelValues(kind).Inc()
}

// ObservePage counts one processed page with its outcome status.
func ObservePage(kind string, status string) {
	if crawlPagesTotal == nil {
		return
	}
	crawlPagesTotal.WithLabelValues(kind, status).Inc()
}

// ObserveThemes counts reconciled theme records by outcome.
func ObserveThemes(created, updated int) {
	if themesIngestedTotal == nil {
		return
	}
	themesIngestedTotal.WithLabelValues("created").Add(float64(created))
	themesIngestedTotal.WithLabelValues("updated").Add(float64(updated))
}

// ObserveSkipped counts skipped anomalous records.
func ObserveSkipped(reason string, n int) {
	if recordsSkippedTotal == nil || n == 0 {
		return
	}
	recordsSkippedTotal.WithLabelValues(reason).Add(float64(n))
}

// ObserveSnapshots counts appended stat snapshots.
func ObserveSnapshots(n int) {
	if snapshotsTotal == nil || n == 0 {
		return
	}
	snapshotsTotal.Add(float64(n))
}

// WorkerActive adjusts the active worker gauge.
func WorkerActive(delta float64) {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Add(delta)
}
