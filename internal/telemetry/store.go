package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/store"
)

// LatestRunFunc returns the most recently stored run
type LatestRunFunc func(ctx context.Context) (*store.Run, error)

// StoreCollector exports the counts of the latest stored run. The store is
// read on every scrape, so a process that never ran the pipeline still
// reports what the last analyze persisted.
type StoreCollector struct {
	latest  LatestRunFunc
	timeout time.Duration
	counts  *prometheus.Desc
	created *prometheus.Desc
}

// NewStoreCollector reads runs through latest
func NewStoreCollector(latest LatestRunFunc) *StoreCollector {
	return &StoreCollector{
		latest:  latest,
		timeout: 5 * time.Second,
		counts: prometheus.NewDesc(
			prometheus.BuildFQName("calltree", "store", "latest_run"),
			"Counts recorded with the latest stored run",
			[]string{"count"}, nil,
		),
		created: prometheus.NewDesc(
			prometheus.BuildFQName("calltree", "store", "latest_run_timestamp_seconds"),
			"Creation time of the latest stored run",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.counts
	ch <- c.created
}

// Collect implements prometheus.Collector. An empty store yields no samples.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	run, err := c.latest(ctx)
	if errors.Is(err, store.ErrNoRuns) {
		return
	}
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.counts, err)
		return
	}
	for _, s := range []struct {
		name  string
		value int
	}{
		{"nodes", run.NodeCount},
		{"paths", run.PathCount},
		{"sources", len(run.Sources)},
		{"parent_conflicts", run.Conflicts},
		{"id_collisions", run.Collisions},
		{"skipped_sources", run.SkippedSources},
	} {
		ch <- prometheus.MustNewConstMetric(c.counts, prometheus.GaugeValue, float64(s.value), s.name)
	}
	ch <- prometheus.MustNewConstMetric(c.created, prometheus.GaugeValue, float64(run.CreatedAt)/1000)
}
