// Package timeline implements a versioned interval timeline: a view over the
// segments of one datasource that resolves overshadowing, so that only the
// winning version of every time chunk is visible.
package timeline

import (
	"cmp"
	"slices"

	"github.com/grafana/kiln/pkg/model"
)

// Completeness selects which partition sets qualify for a lookup.
type Completeness int

const (
	// OnlyComplete restricts visibility to versions whose partition set
	// covers [0, P).
	OnlyComplete Completeness = iota

	// IncludingIncomplete also exposes time chunks where no version is
	// complete, surfacing the newest version present. Incomplete versions
	// never overshadow anything.
	IncludingIncomplete
)

// Chunk is one partition of a time chunk at one version.
type Chunk struct {
	Partition int
	Segment   *model.Segment
}

// Holder is a contiguous time chunk at a single version, holding the
// partition chunks of that version. Chunk segments keep their own intervals,
// which may differ from the holder interval.
type Holder struct {
	Interval model.Interval
	Version  string
	Chunks   []Chunk
}

func (h *Holder) Segments() []*model.Segment {
	segments := make([]*model.Segment, len(h.Chunks))
	for i, c := range h.Chunks {
		segments[i] = c.Segment
	}
	return segments
}

type partitionHolder struct {
	chunks map[int]*model.Segment
}

// isComplete reports whether the chunk set covers a full partition space:
// partitions 0..k-1 are all present and no chunk claims a different count.
func (p *partitionHolder) isComplete() bool {
	k := len(p.chunks)
	if k == 0 {
		return false
	}
	for i := 0; i < k; i++ {
		s, ok := p.chunks[i]
		if !ok {
			return false
		}
		if n := s.Shard.NumPartitions; n != 0 && n != k {
			return false
		}
	}
	return true
}

func (p *partitionHolder) sortedChunks() []Chunk {
	chunks := make([]Chunk, 0, len(p.chunks))
	for partition, s := range p.chunks {
		chunks = append(chunks, Chunk{Partition: partition, Segment: s})
	}
	slices.SortFunc(chunks, func(a, b Chunk) int { return cmp.Compare(a.Partition, b.Partition) })
	return chunks
}

// Timeline indexes segments by time chunk and version.
// It is not safe for concurrent use.
type Timeline struct {
	entries map[model.Interval]map[string]*partitionHolder
}

func New() *Timeline {
	return &Timeline{entries: make(map[model.Interval]map[string]*partitionHolder)}
}

// FromSegments builds a timeline keyed by the segments' own intervals.
func FromSegments(segments ...*model.Segment) *Timeline {
	t := New()
	t.Add(segments...)
	return t
}

func (t *Timeline) Add(segments ...*model.Segment) {
	for _, s := range segments {
		t.AddChunk(s.Interval, s.Version, Chunk{Partition: s.Shard.Partition, Segment: s})
	}
}

// AddChunk inserts a chunk into the time chunk interval at version. The chunk
// segment's own interval may differ from the time chunk, as is the case for
// re-bucketed timelines.
func (t *Timeline) AddChunk(interval model.Interval, version string, c Chunk) {
	versions, ok := t.entries[interval]
	if !ok {
		versions = make(map[string]*partitionHolder)
		t.entries[interval] = versions
	}
	holder, ok := versions[version]
	if !ok {
		holder = &partitionHolder{chunks: make(map[int]*model.Segment)}
		versions[version] = holder
	}
	holder.chunks[c.Partition] = c.Segment
}

func (t *Timeline) IsEmpty() bool {
	return len(t.entries) == 0
}

// visible resolves overshadowing and returns the winning holders sorted by
// interval start, then end.
func (t *Timeline) visible(c Completeness) []*Holder {
	type winner struct {
		holder   *Holder
		complete bool
	}
	winners := make([]winner, 0, len(t.entries))
	for interval, versions := range t.entries {
		names := make([]string, 0, len(versions))
		for v := range versions {
			names = append(names, v)
		}
		// Newest version first; the first complete one wins.
		slices.Sort(names)
		slices.Reverse(names)
		picked, complete := "", false
		for _, v := range names {
			if versions[v].isComplete() {
				picked, complete = v, true
				break
			}
		}
		if !complete {
			if c == OnlyComplete {
				continue
			}
			picked = names[0]
		}
		winners = append(winners, winner{
			holder: &Holder{
				Interval: interval,
				Version:  picked,
				Chunks:   versions[picked].sortedChunks(),
			},
			complete: complete,
		})
	}
	// A time chunk is overshadowed when a strictly newer complete time chunk
	// contains it entirely.
	holders := make([]*Holder, 0, len(winners))
	for _, w := range winners {
		overshadowed := false
		for _, o := range winners {
			if o.holder == w.holder || !o.complete {
				continue
			}
			if o.holder.Version > w.holder.Version && o.holder.Interval.Contains(w.holder.Interval) {
				overshadowed = true
				break
			}
		}
		if !overshadowed {
			holders = append(holders, w.holder)
		}
	}
	slices.SortFunc(holders, func(a, b *Holder) int {
		return model.CompareIntervals(a.Interval, b.Interval)
	})
	return holders
}

// First returns the earliest visible holder, or nil on an empty timeline.
func (t *Timeline) First() *Holder {
	holders := t.visible(OnlyComplete)
	if len(holders) == 0 {
		return nil
	}
	return holders[0]
}

// Last returns the latest visible holder, or nil on an empty timeline.
func (t *Timeline) Last() *Holder {
	holders := t.visible(OnlyComplete)
	if len(holders) == 0 {
		return nil
	}
	return holders[len(holders)-1]
}

// Lookup returns the visible holders overlapping in, ordered by holder
// interval.
func (t *Timeline) Lookup(in model.Interval) []*Holder {
	var out []*Holder
	for _, h := range t.visible(OnlyComplete) {
		if h.Interval.Overlaps(in) {
			out = append(out, h)
		}
	}
	return out
}

// FindNonOvershadowed returns the segments of visible holders overlapping in.
// Segments merely intersecting in are included; callers interested in full
// containment must filter. The result is deterministically ordered by
// (interval, version, partition).
func (t *Timeline) FindNonOvershadowed(in model.Interval, c Completeness) []*model.Segment {
	seen := make(map[string]struct{})
	var out []*model.Segment
	for _, h := range t.visible(c) {
		if !h.Interval.Overlaps(in) {
			continue
		}
		for _, chunk := range h.Chunks {
			id := chunk.Segment.ID()
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, chunk.Segment)
		}
	}
	slices.SortFunc(out, func(a, b *model.Segment) int {
		if c := model.CompareIntervals(a.Interval, b.Interval); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return cmp.Compare(a.Shard.Partition, b.Shard.Partition)
	})
	return out
}
