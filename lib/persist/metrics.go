package persist

import "github.com/VictoriaMetrics/metrics"

// Counters for the coordinator hot paths. Hosts that expose a metrics
// endpoint can publish them via metrics.WritePrometheus.
var (
	metricHydrations     = metrics.NewCounter(`restate_hydrations_total`)
	metricCacheHits      = metrics.NewCounter(`restate_cache_hits_total`)
	metricBackendReads   = metrics.NewCounter(`restate_backend_reads_total`)
	metricBackendWrites  = metrics.NewCounter(`restate_backend_writes_total`)
	metricSuppressed     = metrics.NewCounter(`restate_suppressed_writes_total`)
	metricDebounceResets = metrics.NewCounter(`restate_debounce_resets_total`)
	metricMigrations     = metrics.NewCounter(`restate_migrations_total`)
	metricErrors         = metrics.NewCounter(`restate_errors_total`)
)
