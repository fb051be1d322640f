package compaction

import (
	"time"

	"github.com/grafana/dskit/multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"

	"github.com/grafana/kiln/pkg/granularity"
	kilnmodel "github.com/grafana/kiln/pkg/model"
)

const (
	// DefaultInputSegmentSizeBytes caps the total size of one planned batch.
	DefaultInputSegmentSizeBytes = 400 * 1024 * 1024

	// DefaultSkipOffsetFromLatest keeps the planner away from the most
	// recent data, which is typically still being appended to.
	DefaultSkipOffsetFromLatest = model.Duration(24 * time.Hour)
)

// Config is the per-datasource compaction policy. Any absent optional field
// means "do not constrain on this dimension".
type Config struct {
	InputSegmentSizeBytes int64                     `json:"inputSegmentSizeBytes" yaml:"inputSegmentSizeBytes"`
	SkipOffsetFromLatest  model.Duration            `json:"skipOffsetFromLatest" yaml:"skipOffsetFromLatest"`
	MaxRowsPerSegment     int64                     `json:"maxRowsPerSegment,omitempty" yaml:"maxRowsPerSegment,omitempty"`
	GranularitySpec       *GranularitySpec          `json:"granularitySpec,omitempty" yaml:"granularitySpec,omitempty"`
	DimensionsSpec        *kilnmodel.DimensionsSpec `json:"dimensionsSpec,omitempty" yaml:"dimensionsSpec,omitempty"`
	TransformSpec         *TransformSpec            `json:"transformSpec,omitempty" yaml:"transformSpec,omitempty"`
	MetricsSpec           []any                     `json:"metricsSpec,omitempty" yaml:"metricsSpec,omitempty"`
	TuningConfig          *TuningConfig             `json:"tuningConfig,omitempty" yaml:"tuningConfig,omitempty"`
}

// GranularitySpec declares the target time bucketing of compacted segments.
type GranularitySpec struct {
	SegmentGranularity *granularity.Value `json:"segmentGranularity,omitempty" yaml:"segmentGranularity,omitempty"`
	QueryGranularity   *granularity.Value `json:"queryGranularity,omitempty" yaml:"queryGranularity,omitempty"`
	Rollup             *bool              `json:"rollup,omitempty" yaml:"rollup,omitempty"`
}

// segmentGranularity returns the configured segment granularity, or nil.
func (c *Config) segmentGranularity() granularity.Granularity {
	if c.GranularitySpec == nil || c.GranularitySpec.SegmentGranularity == nil {
		return nil
	}
	return c.GranularitySpec.SegmentGranularity.Granularity
}

// TransformSpec declares the row filter compacted segments are written with.
// The filter is an opaque document compared structurally.
type TransformSpec struct {
	Filter map[string]any `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// TuningConfig overrides partitioning and indexing of compacted segments.
type TuningConfig struct {
	PartitionsSpec *kilnmodel.PartitionsSpec `json:"partitionsSpec,omitempty" yaml:"partitionsSpec,omitempty"`
	IndexSpec      *IndexSpec                `json:"indexSpec,omitempty" yaml:"indexSpec,omitempty"`
	MaxTotalRows   int64                     `json:"maxTotalRows,omitempty" yaml:"maxTotalRows,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		InputSegmentSizeBytes: DefaultInputSegmentSizeBytes,
		SkipOffsetFromLatest:  DefaultSkipOffsetFromLatest,
	}
}

func (c *Config) Validate() error {
	errs := multierror.New()
	if c.InputSegmentSizeBytes <= 0 {
		errs.Add(errors.New("inputSegmentSizeBytes must be positive"))
	}
	if c.SkipOffsetFromLatest < 0 {
		errs.Add(errors.New("skipOffsetFromLatest must not be negative"))
	}
	if c.MaxRowsPerSegment < 0 {
		errs.Add(errors.New("maxRowsPerSegment must not be negative"))
	}
	if t := c.TuningConfig; t != nil {
		if t.MaxTotalRows < 0 {
			errs.Add(errors.New("tuningConfig.maxTotalRows must not be negative"))
		}
		if p := t.PartitionsSpec; p != nil {
			switch p.Type {
			case kilnmodel.PartitionsDynamic, kilnmodel.PartitionsHashed, kilnmodel.PartitionsSingleDim:
			default:
				errs.Add(errors.Errorf("tuningConfig.partitionsSpec: unknown type %q", p.Type))
			}
		}
	}
	return errs.Err()
}

// effectivePartitionsSpec resolves the partitions spec candidates are checked
// against: the tuning config's spec if present, normalized for dynamic types,
// or a dynamic spec built from the row limits.
func (c *Config) effectivePartitionsSpec() *kilnmodel.PartitionsSpec {
	var (
		spec         *kilnmodel.PartitionsSpec
		maxTotalRows int64
	)
	if c.TuningConfig != nil {
		spec = c.TuningConfig.PartitionsSpec
		maxTotalRows = c.TuningConfig.MaxTotalRows
	}
	if spec == nil {
		return kilnmodel.NewDynamicPartitionsSpec(c.MaxRowsPerSegment, maxTotalRows)
	}
	return spec.Normalized()
}

// effectiveIndexSpec resolves the index spec candidates are checked against.
func (c *Config) effectiveIndexSpec() IndexSpec {
	if c.TuningConfig != nil && c.TuningConfig.IndexSpec != nil {
		return *c.TuningConfig.IndexSpec
	}
	return DefaultIndexSpec()
}
