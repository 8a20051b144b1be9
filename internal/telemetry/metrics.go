package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stages
const (
	StageBuild     = "build"
	StageAggregate = "aggregate"
	StageAnalyze   = "analyze"
	StageStore     = "store"
)

// Kinds of skipped sources
const (
	SkipCSV      = "csv"
	SkipArtifact = "artifact"
)

// Metrics holds the pipeline's prometheus collectors
type Metrics struct {
	Registry *prometheus.Registry

	RecordsSkipped  prometheus.Counter
	ParentConflicts prometheus.Counter
	IDCollisions    prometheus.Counter
	SourcesSkipped  *prometheus.CounterVec
	PathsIndexed    prometheus.Gauge
	NodesRegistered prometheus.Gauge
	StageDuration   *prometheus.HistogramVec
}

// New registers the pipeline collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RecordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "calltree",
			Subsystem: "pipeline",
			Name:      "records_skipped_total",
			Help:      "Rows skipped because their rule id could not be parsed",
		}),
		ParentConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "calltree",
			Subsystem: "pipeline",
			Name:      "parent_conflicts_total",
			Help:      "Observations whose parent differs from the first-seen parent",
		}),
		IDCollisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "calltree",
			Subsystem: "pipeline",
			Name:      "id_collisions_total",
			Help:      "Rule ids registered by two sources with different parents",
		}),
		SourcesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calltree",
			Subsystem: "pipeline",
			Name:      "sources_skipped_total",
			Help:      "Input files skipped because they could not be read",
		}, []string{"kind"}),
		PathsIndexed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "calltree",
			Subsystem: "pipeline",
			Name:      "paths_indexed",
			Help:      "Call paths in the aggregated index",
		}),
		NodesRegistered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "calltree",
			Subsystem: "pipeline",
			Name:      "nodes_registered",
			Help:      "Rule nodes in the aggregated forest",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "calltree",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
	}
}

// ObserveStage records how long stage took since start
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordBuild counts one run's skipped rows and parent conflicts
func (m *Metrics) RecordBuild(skipped, conflicts int) {
	m.RecordsSkipped.Add(float64(skipped))
	m.ParentConflicts.Add(float64(conflicts))
}

// RecordSkipped counts n skipped sources of kind
func (m *Metrics) RecordSkipped(kind string, n int) {
	m.SourcesSkipped.WithLabelValues(kind).Add(float64(n))
}

// RecordAggregate sets the aggregated sizes and counts id collisions
func (m *Metrics) RecordAggregate(nodes, paths, collisions int) {
	m.NodesRegistered.Set(float64(nodes))
	m.PathsIndexed.Set(float64(paths))
	m.IDCollisions.Add(float64(collisions))
}
