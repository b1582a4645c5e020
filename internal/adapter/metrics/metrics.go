package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"annotator/internal/domain"
)

var (
	chunkOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "pipeline",
			Name:      "chunk_ops_total",
			Help:      "The total number of chunks processed, by outcome.",
		},
		[]string{"status"},
	)
	runOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "pipeline",
			Name:      "run_ops_total",
			Help:      "The total number of pipeline runs, by final state.",
		},
		[]string{"state"},
	)
	entityOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "pipeline",
			Name:      "entity_ops_total",
			Help:      "The total number of entities seen at each pipeline stage.",
		},
		[]string{"stage"}, // raw, duplicate, invalid, kept
	)

	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "annotator",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Time taken by a single LLM completion.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model", "outcome"},
	)
	tokenOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "llm",
			Name:      "token_ops_total",
			Help:      "The total number of tokens billed.",
		},
		[]string{"model", "direction"},
	)

	repairOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "repair",
			Name:      "entity_ops_total",
			Help:      "The total number of entities passed through repair, by outcome.",
		},
		[]string{"outcome"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(chunkOps)
	prometheus.MustRegister(runOps)
	prometheus.MustRegister(entityOps)
	prometheus.MustRegister(llmCallDuration)
	prometheus.MustRegister(tokenOps)
	prometheus.MustRegister(repairOps)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
}

// RecordChunk counts one finished chunk.
func RecordChunk(status domain.ChunkStatus) {
	chunkOps.WithLabelValues(string(status)).Inc()
}

// RecordRun counts one finished pipeline run.
func RecordRun(state string) {
	runOps.WithLabelValues(state).Inc()
}

func RecordEntities(stage string, n int) {
	if n > 0 {
		entityOps.WithLabelValues(stage).Add(float64(n))
	}
}

// RecordLLMCall records the duration of one completion attempt.
func RecordLLMCall(model, outcome string, seconds float64) {
	llmCallDuration.WithLabelValues(model, outcome).Observe(seconds)
}

func RecordTokens(model string, input, output int) {
	tokenOps.WithLabelValues(model, "input").Add(float64(input))
	tokenOps.WithLabelValues(model, "output").Add(float64(output))
}

// RecordRepair counts the outcome of one repair invocation.
func RecordRepair(stats domain.FixStats) {
	repairOps.WithLabelValues("already_correct").Add(float64(stats.AlreadyCorrect))
	repairOps.WithLabelValues("fixed").Add(float64(stats.Fixed))
	repairOps.WithLabelValues("unfixable").Add(float64(stats.Unfixable))
	repairOps.WithLabelValues("multiple_matches").Add(float64(stats.MultipleMatches))
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}

// WriteTextfile dumps every registered metric in the text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
