package compaction

import (
	kilnmodel "github.com/grafana/kiln/pkg/model"
	"github.com/grafana/kiln/pkg/timeline"
)

// holderCursor drains the compactible holders of one datasource, newest
// first. When the timeline was re-bucketed to a configured granularity, the
// cursor re-resolves every yielded holder against the original timeline so
// callers always see real segments with their true versions and shard specs.
type holderCursor struct {
	holders  []*timeline.Holder
	original *timeline.Timeline
}

func newHolderCursor(tl *timeline.Timeline, searchIntervals []kilnmodel.Interval, original *timeline.Timeline) *holderCursor {
	var holders []*timeline.Holder
	for _, in := range searchIntervals {
		for _, h := range tl.Lookup(in) {
			if isCompactibleHolder(in, h) {
				holders = append(holders, h)
			}
		}
	}
	return &holderCursor{holders: holders, original: original}
}

// isCompactibleHolder requires at least one chunk, the first chunk's segment
// interval contained in the search interval (partially overlapping boundary
// holders are not candidates), and a positive total size.
func isCompactibleHolder(in kilnmodel.Interval, h *timeline.Holder) bool {
	if len(h.Chunks) == 0 {
		return false
	}
	if !in.Contains(h.Chunks[0].Segment.Interval) {
		return false
	}
	partitionBytes := h.Chunks[0].Segment.Size
	for i := 1; partitionBytes == 0 && i < len(h.Chunks); i++ {
		partitionBytes += h.Chunks[i].Segment.Size
	}
	return partitionBytes > 0
}

func (c *holderCursor) hasNext() bool {
	return len(c.holders) > 0
}

// next pops the newest remaining holder and returns its segments.
func (c *holderCursor) next() []*kilnmodel.Segment {
	if len(c.holders) == 0 {
		return nil
	}
	h := c.holders[len(c.holders)-1]
	c.holders = c.holders[:len(c.holders)-1]
	candidates := h.Segments()
	if c.original == nil {
		return candidates
	}
	intervals := make([]kilnmodel.Interval, len(candidates))
	for i, s := range candidates {
		intervals[i] = s.Interval
	}
	return c.original.FindNonOvershadowed(kilnmodel.Umbrella(intervals), timeline.OnlyComplete)
}
