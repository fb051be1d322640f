package compaction

// Statistics accumulates per-datasource counters over planned, skipped, or
// already-compacted segments.
type Statistics struct {
	Bytes     uint64 `json:"bytes" yaml:"bytes"`
	Segments  uint64 `json:"segments" yaml:"segments"`
	Intervals uint64 `json:"intervals" yaml:"intervals"`
}

func (s *Statistics) add(b *segmentBatch) {
	s.Bytes += uint64(b.totalSize)
	s.Segments += uint64(len(b.segments))
	s.Intervals += b.numIntervals()
}
