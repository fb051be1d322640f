package compaction

import (
	"github.com/samber/lo"

	kilnmodel "github.com/grafana/kiln/pkg/model"
)

// segmentBatch is an ordered set of segments of one datasource, planned to be
// compacted together.
type segmentBatch struct {
	segments  []*kilnmodel.Segment
	totalSize int64
}

func newSegmentBatch(segments []*kilnmodel.Segment) *segmentBatch {
	return &segmentBatch{
		segments:  segments,
		totalSize: lo.SumBy(segments, func(s *kilnmodel.Segment) int64 { return s.Size }),
	}
}

func (b *segmentBatch) isEmpty() bool {
	return len(b.segments) == 0
}

// umbrella is the smallest interval containing every segment, going by the
// segments' stored intervals.
func (b *segmentBatch) umbrella() kilnmodel.Interval {
	return kilnmodel.Umbrella(b.intervals())
}

func (b *segmentBatch) intervals() []kilnmodel.Interval {
	return lo.Map(b.segments, func(s *kilnmodel.Segment, _ int) kilnmodel.Interval { return s.Interval })
}

// numIntervals counts the distinct segment intervals in the batch.
func (b *segmentBatch) numIntervals() uint64 {
	distinct := make(map[kilnmodel.Interval]struct{}, len(b.segments))
	for _, s := range b.segments {
		distinct[s.Interval] = struct{}{}
	}
	return uint64(len(distinct))
}

// queueEntry keys a planned batch by its umbrella interval for global
// newest-first ordering.
type queueEntry struct {
	interval kilnmodel.Interval
	segments []*kilnmodel.Segment
}

func newQueueEntry(segments []*kilnmodel.Segment) *queueEntry {
	intervals := make([]kilnmodel.Interval, len(segments))
	for i, s := range segments {
		intervals[i] = s.Interval
	}
	return &queueEntry{
		interval: kilnmodel.Umbrella(intervals),
		segments: segments,
	}
}

// entryQueue is a max-heap over queue entries: the entry with the greatest
// (start, end) umbrella interval is at the head, so the newest batch across
// all datasources is popped first.
type entryQueue []*queueEntry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool {
	return kilnmodel.CompareIntervals(q[i].interval, q[j].interval) > 0
}

func (q entryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *entryQueue) Push(x any) { *q = append(*q, x.(*queueEntry)) }

func (q *entryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
