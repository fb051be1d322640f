package model

import (
	"fmt"
	"reflect"
)

// ShardSpec places a segment within the partition set of its time chunk and
// version. Partition numbers are dense: 0 <= Partition < NumPartitions.
// NumPartitions == 0 means the partition count is not fixed (dynamically
// appended partitions).
type ShardSpec struct {
	Partition     int `json:"partitionNum" yaml:"partition"`
	NumPartitions int `json:"partitions" yaml:"partitions"`
}

// Segment is an immutable data file covering a half-open time interval within
// a datasource. Two segments with the same (datasource, interval, version,
// partition) are the same segment.
type Segment struct {
	Datasource          string           `json:"dataSource" yaml:"datasource"`
	Interval            Interval         `json:"interval" yaml:"interval"`
	Version             string           `json:"version" yaml:"version"`
	Shard               ShardSpec        `json:"shardSpec" yaml:"shard"`
	Size                int64            `json:"size" yaml:"size"`
	LastCompactionState *CompactionState `json:"lastCompactionState,omitempty" yaml:"lastCompactionState,omitempty"`
}

// ID returns the canonical segment identifier:
// datasource_start_end_version(_partition).
func (s *Segment) ID() string {
	id := fmt.Sprintf("%s_%s_%s_%s",
		s.Datasource,
		formatTime(s.Interval.Start),
		formatTime(s.Interval.End),
		s.Version,
	)
	if s.Shard.Partition > 0 {
		id = fmt.Sprintf("%s_%d", id, s.Shard.Partition)
	}
	return id
}

// WithShardSpec returns a copy of the segment placed in a different partition
// set. The original segment is left untouched.
func (s *Segment) WithShardSpec(shard ShardSpec) *Segment {
	c := *s
	c.Shard = shard
	return &c
}

// CompactionState records the policy a segment was last compacted under, or is
// absent if the segment was never compacted. PartitionsSpec and DimensionsSpec
// are typed; the remaining fields are opaque documents decoded on demand.
type CompactionState struct {
	PartitionsSpec  *PartitionsSpec `json:"partitionsSpec,omitempty" yaml:"partitionsSpec,omitempty"`
	DimensionsSpec  *DimensionsSpec `json:"dimensionsSpec,omitempty" yaml:"dimensionsSpec,omitempty"`
	IndexSpec       map[string]any  `json:"indexSpec,omitempty" yaml:"indexSpec,omitempty"`
	GranularitySpec map[string]any  `json:"granularitySpec,omitempty" yaml:"granularitySpec,omitempty"`
	TransformSpec   map[string]any  `json:"transformSpec,omitempty" yaml:"transformSpec,omitempty"`
	MetricsSpec     []any           `json:"metricsSpec,omitempty" yaml:"metricsSpec,omitempty"`
}

// Equal reports structural equality of two compaction states.
func (s *CompactionState) Equal(o *CompactionState) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.PartitionsSpec.Equal(o.PartitionsSpec) &&
		s.DimensionsSpec.Equal(o.DimensionsSpec) &&
		reflect.DeepEqual(s.IndexSpec, o.IndexSpec) &&
		reflect.DeepEqual(s.GranularitySpec, o.GranularitySpec) &&
		reflect.DeepEqual(s.TransformSpec, o.TransformSpec) &&
		reflect.DeepEqual(s.MetricsSpec, o.MetricsSpec)
}
