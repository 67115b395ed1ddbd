package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	stageCountDesc = prometheus.NewDesc(
		"agentflow_stage_executions_total",
		"Number of recorded pipeline stage executions.",
		[]string{"stage"}, nil,
	)
	stageSuccessDesc = prometheus.NewDesc(
		"agentflow_stage_successes_total",
		"Number of successful pipeline stage executions.",
		[]string{"stage"}, nil,
	)
	stageCacheHitDesc = prometheus.NewDesc(
		"agentflow_stage_cache_hits_total",
		"Number of stage executions served from a cache.",
		[]string{"stage"}, nil,
	)
	stageMeanDesc = prometheus.NewDesc(
		"agentflow_stage_duration_mean_seconds",
		"Mean duration of pipeline stage executions.",
		[]string{"stage"}, nil,
	)
	stageMaxDesc = prometheus.NewDesc(
		"agentflow_stage_duration_max_seconds",
		"Longest observed duration of a pipeline stage execution.",
		[]string{"stage"}, nil,
	)
)

// Collector exposes an Aggregator's snapshots as Prometheus metrics.
type Collector struct {
	agg *Aggregator
}

// NewCollector wraps an Aggregator for registration with a Prometheus
// registry.
func NewCollector(agg *Aggregator) *Collector {
	return &Collector{agg: agg}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- stageCountDesc
	ch <- stageSuccessDesc
	ch <- stageCacheHitDesc
	ch <- stageMeanDesc
	ch <- stageMaxDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.agg.Snapshot() {
		ch <- prometheus.MustNewConstMetric(stageCountDesc, prometheus.CounterValue, float64(s.Count), s.Stage)
		ch <- prometheus.MustNewConstMetric(stageSuccessDesc, prometheus.CounterValue, float64(s.Successes), s.Stage)
		ch <- prometheus.MustNewConstMetric(stageCacheHitDesc, prometheus.CounterValue, float64(s.CacheHits), s.Stage)
		ch <- prometheus.MustNewConstMetric(stageMeanDesc, prometheus.GaugeValue, s.Mean.Seconds(), s.Stage)
		ch <- prometheus.MustNewConstMetric(stageMaxDesc, prometheus.GaugeValue, s.Max.Seconds(), s.Stage)
	}
}
