// Package telemetry counts and logs everything the pipeline drops, retries
// or fails on.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kgsink"

// Collector is a prometheus.Collector for the indexing pipeline.
type Collector struct {
	events              *prometheus.CounterVec
	failures            *prometheus.CounterVec
	drops               *prometheus.CounterVec
	proposalsWritten    *prometheus.CounterVec
	versionsWritten     prometheus.Counter
	retries             *prometheus.CounterVec
	invariantViolations prometheus.Counter
	blockDuration       prometheus.Histogram
	lastBlock           prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "The number of events received, by kind.",
			}, []string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "failures_total",
				Help:      "The number of events that failed, by stage and reason.",
			}, []string{"stage", "reason"},
		),
		drops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "drops_total",
				Help:      "The number of proposals the mapper decided to drop.",
			}, []string{"reason"},
		),
		proposalsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "proposals_written_total",
				Help:      "The number of proposals persisted, by type.",
			}, []string{"type"},
		),
		versionsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "versions_written_total",
				Help:      "The number of entity versions persisted.",
			},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_total",
				Help:      "The number of retried attempts, by stage.",
			}, []string{"stage"},
		),
		invariantViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "invariant_violations_total",
				Help:      "The number of entities skipped because their version chain is inconsistent.",
			},
		),
		blockDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "block_duration_seconds",
				Help:      "The time taken to process one block.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		lastBlock: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_block",
				Help:      "The number of the last processed block.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.failures.Describe(ch)
	c.drops.Describe(ch)
	c.proposalsWritten.Describe(ch)
	c.versionsWritten.Describe(ch)
	c.retries.Describe(ch)
	c.invariantViolations.Describe(ch)
	c.blockDuration.Describe(ch)
	c.lastBlock.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.failures.Collect(ch)
	c.drops.Collect(ch)
	c.proposalsWritten.Collect(ch)
	c.versionsWritten.Collect(ch)
	c.retries.Collect(ch)
	c.invariantViolations.Collect(ch)
	c.blockDuration.Collect(ch)
	c.lastBlock.Collect(ch)
}
