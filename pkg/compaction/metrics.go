package compaction

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsPrefix = "kiln_compaction_"

// statisticsCollector exposes the planner's running statistics as const
// metrics, labelled by datasource.
type statisticsCollector struct {
	planner *Planner

	compactedBytes     *prometheus.Desc
	compactedSegments  *prometheus.Desc
	compactedIntervals *prometheus.Desc
	skippedBytes       *prometheus.Desc
	skippedSegments    *prometheus.Desc
	skippedIntervals   *prometheus.Desc
}

func newStatisticsCollector(p *Planner) *statisticsCollector {
	labels := []string{"datasource"}
	return &statisticsCollector{
		planner: p,

		compactedBytes: prometheus.NewDesc(
			metricsPrefix+"compacted_bytes_total",
			"The total size of segments already in the configured state.",
			labels, nil,
		),
		compactedSegments: prometheus.NewDesc(
			metricsPrefix+"compacted_segments_total",
			"The total number of segments already in the configured state.",
			labels, nil,
		),
		compactedIntervals: prometheus.NewDesc(
			metricsPrefix+"compacted_intervals_total",
			"The total number of distinct intervals already in the configured state.",
			labels, nil,
		),
		skippedBytes: prometheus.NewDesc(
			metricsPrefix+"skipped_bytes_total",
			"The total size of segments skipped by the planner.",
			labels, nil,
		),
		skippedSegments: prometheus.NewDesc(
			metricsPrefix+"skipped_segments_total",
			"The total number of segments skipped by the planner.",
			labels, nil,
		),
		skippedIntervals: prometheus.NewDesc(
			metricsPrefix+"skipped_intervals_total",
			"The total number of distinct intervals skipped by the planner.",
			labels, nil,
		),
	}
}

func (c *statisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactedBytes
	ch <- c.compactedSegments
	ch <- c.compactedIntervals
	ch <- c.skippedBytes
	ch <- c.skippedSegments
	ch <- c.skippedIntervals
}

func (c *statisticsCollector) Collect(ch chan<- prometheus.Metric) {
	c.planner.mu.Lock()
	defer c.planner.mu.Unlock()
	for datasource, s := range c.planner.compacted {
		ch <- prometheus.MustNewConstMetric(c.compactedBytes, prometheus.CounterValue, float64(s.Bytes), datasource)
		ch <- prometheus.MustNewConstMetric(c.compactedSegments, prometheus.CounterValue, float64(s.Segments), datasource)
		ch <- prometheus.MustNewConstMetric(c.compactedIntervals, prometheus.CounterValue, float64(s.Intervals), datasource)
	}
	for datasource, s := range c.planner.skipped {
		ch <- prometheus.MustNewConstMetric(c.skippedBytes, prometheus.CounterValue, float64(s.Bytes), datasource)
		ch <- prometheus.MustNewConstMetric(c.skippedSegments, prometheus.CounterValue, float64(s.Segments), datasource)
		ch <- prometheus.MustNewConstMetric(c.skippedIntervals, prometheus.CounterValue, float64(s.Intervals), datasource)
	}
}
