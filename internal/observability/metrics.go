package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Every collector is registered on the default registry served at /v1/metrics.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablerag_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablerag_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern. Turn routes wait on model calls.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablerag_turns_total",
			Help: "Conversational turns by outcome.",
		},
		[]string{"outcome"},
	)
	turnStepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablerag_turn_step_duration_seconds",
			Help:    "Latency of each orchestrator step; step=\"done\" times whole completed turns.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"step"},
	)
	queryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablerag_query_failures_total",
			Help: "Synthesized queries that did not execute, by reason.",
		},
		[]string{"reason"},
	)
	catalogueDesyncTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablerag_catalogue_desync_total",
			Help: "Turns aborted because a retrieved id had no catalogue row.",
		},
	)
	kbEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablerag_kb_entities",
			Help: "Entities in the most recently built or loaded knowledge base.",
		},
	)
	kbBuildDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablerag_kb_build_duration_seconds",
			Help:    "Wall time of knowledge-base builds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
	ingestFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablerag_ingest_files_total",
			Help: "Source files processed by the importer, by outcome.",
		},
		[]string{"outcome"},
	)
	ingestRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablerag_ingest_rows_total",
			Help: "Rows loaded into the data store from source files.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		turnsTotal,
		turnStepDurationSeconds,
		queryFailuresTotal,
		catalogueDesyncTotal,
		kbEntities,
		kbBuildDurationSeconds,
		ingestFilesTotal,
		ingestRowsTotal,
	)
}

func ObserveTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveTurnStep(step string, elapsed time.Duration) {
	turnStepDurationSeconds.WithLabelValues(step).Observe(elapsed.Seconds())
}

func IncrementQueryFailure(reason string) {
	queryFailuresTotal.WithLabelValues(reason).Inc()
}

func IncrementCatalogueDesync() {
	catalogueDesyncTotal.Inc()
}

func SetKBEntities(count int64) {
	if count < 0 {
		count = 0
	}
	kbEntities.Set(float64(count))
}

func ObserveKBBuild(elapsed time.Duration) {
	kbBuildDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveIngest records one processed source file; rows only count on success.
func ObserveIngest(outcome string, rows int64) {
	ingestFilesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" && rows > 0 {
		ingestRowsTotal.Add(float64(rows))
	}
}
