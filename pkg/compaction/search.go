package compaction

import (
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"

	"github.com/grafana/kiln/pkg/granularity"
	kilnmodel "github.com/grafana/kiln/pkg/model"
	"github.com/grafana/kiln/pkg/timeline"
)

// mergeSkipIntervals builds the effective skip list: the tail skip derived
// from skipOffset, merged with any operator skip overlapping it; disjoint
// operator skips are kept as-is, in start-then-end order, with the combined
// tail appended last.
func mergeSkipIntervals(
	latest model.Time,
	skipOffset time.Duration,
	g granularity.Granularity,
	skipIntervals []kilnmodel.Interval,
) []kilnmodel.Interval {
	var tail kilnmodel.Interval
	if g != nil {
		tail = kilnmodel.Interval{Start: g.BucketStart(latest.Add(-skipOffset)), End: latest}
	} else {
		tail = kilnmodel.Interval{Start: latest.Add(-skipOffset), End: latest}
	}

	if len(skipIntervals) == 0 {
		return []kilnmodel.Interval{tail}
	}

	sorted := make([]kilnmodel.Interval, len(skipIntervals))
	copy(sorted, skipIntervals)
	kilnmodel.SortIntervals(sorted)

	merged := make([]kilnmodel.Interval, 0, len(sorted)+1)
	var overlapping []kilnmodel.Interval
	for _, in := range sorted {
		if in.Overlaps(tail) {
			overlapping = append(overlapping, in)
		} else {
			merged = append(merged, in)
		}
	}
	if len(overlapping) > 0 {
		overlapping = append(overlapping, tail)
		merged = append(merged, kilnmodel.Umbrella(overlapping))
	} else {
		merged = append(merged, tail)
	}
	return merged
}

// findInitialSearchIntervals computes the ordered intervals the cursor will
// visit: the timeline's total interval minus the effective skips, each
// remaining piece tightened to the span of the segments fully inside it.
// Segments falling inside an effective skip are accounted as skipped.
func (p *Planner) findInitialSearchIntervals(
	datasource string,
	tl *timeline.Timeline,
	cfg *Config,
	g granularity.Granularity,
	skipIntervals []kilnmodel.Interval,
) ([]kilnmodel.Interval, error) {
	first, last := tl.First(), tl.Last()
	if first == nil || last == nil {
		return nil, errors.Errorf("invariant violation: empty holder on a non-empty timeline (datasource %q)", datasource)
	}

	effectiveSkips := mergeSkipIntervals(last.Interval.End, time.Duration(cfg.SkipOffsetFromLatest), g, skipIntervals)
	for _, skip := range effectiveSkips {
		var contained []*kilnmodel.Segment
		for _, s := range tl.FindNonOvershadowed(skip, timeline.OnlyComplete) {
			if skip.Contains(s.Interval) {
				contained = append(contained, s)
			}
		}
		if len(contained) > 0 {
			p.collectStatistics(p.skipped, datasource, newSegmentBatch(contained))
		}
	}

	totalInterval := kilnmodel.Interval{Start: first.Interval.Start, End: last.Interval.End}
	var searchIntervals []kilnmodel.Interval
	for _, lookup := range kilnmodel.Subtract(totalInterval, effectiveSkips) {
		// The timeline may return segments merely intersecting the lookup
		// interval; only segments fully inside it are candidates.
		var contained []*kilnmodel.Segment
		for _, s := range tl.FindNonOvershadowed(lookup, timeline.OnlyComplete) {
			if lookup.Contains(s.Interval) {
				contained = append(contained, s)
			}
		}
		if len(contained) == 0 {
			continue
		}
		span := kilnmodel.Umbrella(intervalsOf(contained))
		searchIntervals = append(searchIntervals, span)
	}

	level.Debug(p.logger).Log(
		"msg", "computed search intervals",
		"datasource", datasource,
		"total_interval", totalInterval,
		"search_intervals", len(searchIntervals),
	)
	return searchIntervals, nil
}

func intervalsOf(segments []*kilnmodel.Segment) []kilnmodel.Interval {
	intervals := make([]kilnmodel.Interval, len(segments))
	for i, s := range segments {
		intervals[i] = s.Interval
	}
	return intervals
}
