package model

import (
	"math"
	"slices"
)

const (
	PartitionsDynamic   = "dynamic"
	PartitionsHashed    = "hashed"
	PartitionsSingleDim = "single_dim"
)

// DefaultMaxRowsPerSegment is the dynamic partitioning row limit applied when
// the operator does not set one.
const DefaultMaxRowsPerSegment = 5_000_000

// PartitionsSpec describes how rows are split into segments within a time
// chunk. Only the fields relevant to the chosen type are set.
type PartitionsSpec struct {
	Type                 string   `json:"type" yaml:"type"`
	MaxRowsPerSegment    int64    `json:"maxRowsPerSegment,omitempty" yaml:"maxRowsPerSegment,omitempty"`
	MaxTotalRows         int64    `json:"maxTotalRows,omitempty" yaml:"maxTotalRows,omitempty"`
	NumShards            int      `json:"numShards,omitempty" yaml:"numShards,omitempty"`
	TargetRowsPerSegment int64    `json:"targetRowsPerSegment,omitempty" yaml:"targetRowsPerSegment,omitempty"`
	PartitionDimensions  []string `json:"partitionDimensions,omitempty" yaml:"partitionDimensions,omitempty"`
}

// NewDynamicPartitionsSpec builds a dynamic spec. A non-positive
// maxRowsPerSegment means DefaultMaxRowsPerSegment; a non-positive
// maxTotalRows means unbounded.
func NewDynamicPartitionsSpec(maxRowsPerSegment, maxTotalRows int64) *PartitionsSpec {
	if maxRowsPerSegment <= 0 {
		maxRowsPerSegment = DefaultMaxRowsPerSegment
	}
	if maxTotalRows <= 0 {
		maxTotalRows = math.MaxInt64
	}
	return &PartitionsSpec{
		Type:              PartitionsDynamic,
		MaxRowsPerSegment: maxRowsPerSegment,
		MaxTotalRows:      maxTotalRows,
	}
}

// Normalized returns the spec with absent dynamic limits resolved as
// NewDynamicPartitionsSpec resolves them (default row limit, unbounded total
// rows), so that specs from different sources compare equal.
func (p *PartitionsSpec) Normalized() *PartitionsSpec {
	if p == nil || p.Type != PartitionsDynamic {
		return p
	}
	return NewDynamicPartitionsSpec(p.MaxRowsPerSegment, p.MaxTotalRows)
}

// Equal reports structural equality. Dynamic specs are compared after
// normalization.
func (p *PartitionsSpec) Equal(o *PartitionsSpec) bool {
	if p == nil || o == nil {
		return p == o
	}
	a, b := p.Normalized(), o.Normalized()
	return a.Type == b.Type &&
		a.MaxRowsPerSegment == b.MaxRowsPerSegment &&
		a.MaxTotalRows == b.MaxTotalRows &&
		a.NumShards == b.NumShards &&
		a.TargetRowsPerSegment == b.TargetRowsPerSegment &&
		slices.Equal(a.PartitionDimensions, b.PartitionDimensions)
}

// DimensionSchema names a single stored dimension.
type DimensionSchema struct {
	Type              string `json:"type,omitempty" yaml:"type,omitempty"`
	Name              string `json:"name" yaml:"name"`
	CreateBitmapIndex bool   `json:"createBitmapIndex,omitempty" yaml:"createBitmapIndex,omitempty"`
}

// DimensionsSpec lists the dimensions segments are written with, in order.
type DimensionsSpec struct {
	Dimensions []DimensionSchema `json:"dimensions" yaml:"dimensions"`
}

func (d *DimensionsSpec) Equal(o *DimensionsSpec) bool {
	if d == nil || o == nil {
		return d == o
	}
	return slices.Equal(d.Dimensions, o.Dimensions)
}
