package compaction

import (
	"reflect"
	"slices"

	"github.com/go-kit/log/level"

	"github.com/grafana/kiln/pkg/granularity"
	kilnmodel "github.com/grafana/kiln/pkg/model"
)

// stateGranularitySpec is the shape of the stored granularity-spec document.
type stateGranularitySpec struct {
	SegmentGranularity *granularity.Value `json:"segmentGranularity"`
	QueryGranularity   *granularity.Value `json:"queryGranularity"`
	Rollup             *bool              `json:"rollup"`
}

// stateTransformSpec is the shape of the stored transform-spec document.
type stateTransformSpec struct {
	Filter map[string]any `json:"filter"`
}

func (s *stateGranularitySpec) segmentGranularity() granularity.Granularity {
	if s == nil || s.SegmentGranularity == nil {
		return nil
	}
	return s.SegmentGranularity.Granularity
}

func (s *stateGranularitySpec) queryGranularity() granularity.Granularity {
	if s == nil || s.QueryGranularity == nil {
		return nil
	}
	return s.QueryGranularity.Granularity
}

// needsCompaction diffs the configured policy against the candidates' last
// compaction state. Any divergent dimension makes the batch a candidate.
func (p *Planner) needsCompaction(datasource string, cfg *Config, batch *segmentBatch) (bool, error) {
	first := batch.segments[0]
	state := first.LastCompactionState
	if state == nil {
		level.Debug(p.logger).Log(
			"msg", "candidate was never compacted, needs compaction",
			"datasource", datasource,
			"segment", first.ID(),
		)
		return true, nil
	}

	for _, s := range batch.segments[1:] {
		if !state.Equal(s.LastCompactionState) {
			level.Debug(p.logger).Log(
				"msg", "candidates were compacted under different states, needs compaction",
				"datasource", datasource,
				"segments", len(batch.segments),
			)
			return true, nil
		}
	}

	if configured := cfg.effectivePartitionsSpec(); !configured.Equal(state.PartitionsSpec) {
		level.Debug(p.logger).Log(
			"msg", "partitions spec differs, needs compaction",
			"datasource", datasource,
		)
		return true, nil
	}

	segmentIndexSpec := DefaultIndexSpec()
	if state.IndexSpec != nil {
		if err := p.decoder.Decode(state.IndexSpec, &segmentIndexSpec); err != nil {
			return false, &CorruptStateError{Datasource: datasource, SegmentID: first.ID(), Err: err}
		}
	}
	if configured := cfg.effectiveIndexSpec(); segmentIndexSpec != configured {
		level.Debug(p.logger).Log(
			"msg", "index spec differs, needs compaction",
			"datasource", datasource,
		)
		return true, nil
	}

	if cfg.GranularitySpec != nil {
		var existing *stateGranularitySpec
		if state.GranularitySpec != nil {
			existing = &stateGranularitySpec{}
			if err := p.decoder.Decode(state.GranularitySpec, existing); err != nil {
				return false, &CorruptStateError{Datasource: datasource, SegmentID: first.ID(), Err: err}
			}
		}

		if configured := cfg.segmentGranularity(); configured != nil {
			if existingSegment := existing.segmentGranularity(); existingSegment == nil {
				// Compacted without a segment granularity: the stored intervals
				// themselves must already be aligned to the configured one.
				for _, s := range batch.segments {
					if !configured.IsAligned(s.Interval) {
						level.Debug(p.logger).Log(
							"msg", "segment interval not aligned to configured granularity, needs compaction",
							"datasource", datasource,
							"segment", s.ID(),
							"granularity", configured,
						)
						return true, nil
					}
				}
			} else if !granularity.Equal(configured, existingSegment) {
				level.Debug(p.logger).Log(
					"msg", "segment granularity differs, needs compaction",
					"datasource", datasource,
					"configured", configured,
					"existing", existingSegment,
				)
				return true, nil
			}
		}

		if cfg.GranularitySpec.Rollup != nil {
			var existingRollup *bool
			if existing != nil {
				existingRollup = existing.Rollup
			}
			if existingRollup == nil || *existingRollup != *cfg.GranularitySpec.Rollup {
				level.Debug(p.logger).Log(
					"msg", "rollup differs, needs compaction",
					"datasource", datasource,
				)
				return true, nil
			}
		}

		if configured := cfg.GranularitySpec.QueryGranularity; configured != nil {
			if !granularity.Equal(configured.Granularity, existing.queryGranularity()) {
				level.Debug(p.logger).Log(
					"msg", "query granularity differs, needs compaction",
					"datasource", datasource,
				)
				return true, nil
			}
		}
	}

	if cfg.DimensionsSpec != nil && cfg.DimensionsSpec.Dimensions != nil {
		var existing []kilnmodel.DimensionSchema
		if state.DimensionsSpec != nil {
			existing = state.DimensionsSpec.Dimensions
		}
		if !slices.Equal(cfg.DimensionsSpec.Dimensions, existing) {
			level.Debug(p.logger).Log(
				"msg", "dimensions differ, needs compaction",
				"datasource", datasource,
			)
			return true, nil
		}
	}

	if cfg.TransformSpec != nil && cfg.TransformSpec.Filter != nil {
		var existing *stateTransformSpec
		if state.TransformSpec != nil {
			existing = &stateTransformSpec{}
			if err := p.decoder.Decode(state.TransformSpec, existing); err != nil {
				return false, &CorruptStateError{Datasource: datasource, SegmentID: first.ID(), Err: err}
			}
		}
		var existingFilter map[string]any
		if existing != nil {
			existingFilter = existing.Filter
		}
		equal, err := p.structurallyEqual(cfg.TransformSpec.Filter, existingFilter)
		if err != nil {
			return false, &CorruptStateError{Datasource: datasource, SegmentID: first.ID(), Err: err}
		}
		if !equal {
			level.Debug(p.logger).Log(
				"msg", "filter differs, needs compaction",
				"datasource", datasource,
			)
			return true, nil
		}
	}

	if len(cfg.MetricsSpec) > 0 {
		if len(state.MetricsSpec) == 0 {
			level.Debug(p.logger).Log(
				"msg", "metrics spec absent, needs compaction",
				"datasource", datasource,
			)
			return true, nil
		}
		equal, err := p.structurallyEqual(cfg.MetricsSpec, state.MetricsSpec)
		if err != nil {
			return false, &CorruptStateError{Datasource: datasource, SegmentID: first.ID(), Err: err}
		}
		if !equal {
			level.Debug(p.logger).Log(
				"msg", "metrics spec differs, needs compaction",
				"datasource", datasource,
			)
			return true, nil
		}
	}

	return false, nil
}

// structurallyEqual compares two opaque documents after normalizing both, so
// equivalent documents from different sources compare equal.
func (p *Planner) structurallyEqual(a, b any) (bool, error) {
	na, err := normalize(p.decoder, a)
	if err != nil {
		return false, err
	}
	nb, err := normalize(p.decoder, b)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(na, nb), nil
}
