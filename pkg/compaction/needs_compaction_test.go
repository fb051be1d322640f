package compaction

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/kiln/pkg/granularity"
	kilnmodel "github.com/grafana/kiln/pkg/model"
)

func testPlanner() *Planner {
	return &Planner{logger: log.NewNopLogger(), decoder: NewJSONDecoder()}
}

func interval(t testing.TB, s string) kilnmodel.Interval {
	t.Helper()
	in, err := kilnmodel.ParseInterval(s)
	require.NoError(t, err)
	return in
}

func segment(t testing.TB, datasource, in, version string, size int64, state *kilnmodel.CompactionState) *kilnmodel.Segment {
	t.Helper()
	return &kilnmodel.Segment{
		Datasource:          datasource,
		Interval:            interval(t, in),
		Version:             version,
		Shard:               kilnmodel.ShardSpec{Partition: 0, NumPartitions: 1},
		Size:                size,
		LastCompactionState: state,
	}
}

func matchingState() *kilnmodel.CompactionState {
	return &kilnmodel.CompactionState{
		PartitionsSpec: kilnmodel.NewDynamicPartitionsSpec(5_000_000, 0),
		DimensionsSpec: &kilnmodel.DimensionsSpec{
			Dimensions: []kilnmodel.DimensionSchema{{Name: "page"}, {Name: "user"}},
		},
		GranularitySpec: map[string]any{
			"segmentGranularity": "DAY",
			"queryGranularity":   "MINUTE",
			"rollup":             true,
		},
		TransformSpec: map[string]any{
			"filter": map[string]any{"type": "selector", "dimension": "lang", "value": "en"},
		},
		MetricsSpec: []any{map[string]any{"type": "count", "name": "count"}},
	}
}

func matchingConfig() *Config {
	rollup := true
	return &Config{
		InputSegmentSizeBytes: 1 << 30,
		GranularitySpec: &GranularitySpec{
			SegmentGranularity: granularity.NewValue(granularity.Day),
			QueryGranularity:   granularity.NewValue(granularity.Minute),
			Rollup:             &rollup,
		},
		DimensionsSpec: &kilnmodel.DimensionsSpec{
			Dimensions: []kilnmodel.DimensionSchema{{Name: "page"}, {Name: "user"}},
		},
		TransformSpec: &TransformSpec{
			Filter: map[string]any{"type": "selector", "dimension": "lang", "value": "en"},
		},
		MetricsSpec: []any{map[string]any{"type": "count", "name": "count"}},
	}
}

func TestNeedsCompaction(t *testing.T) {
	const day = "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"
	p := testPlanner()

	batchOf := func(states ...*kilnmodel.CompactionState) *segmentBatch {
		segments := make([]*kilnmodel.Segment, len(states))
		for i, state := range states {
			segments[i] = segment(t, "wiki", day, "v1", 100, state)
		}
		return newSegmentBatch(segments)
	}

	t.Run("matching state does not need compaction", func(t *testing.T) {
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(matchingState()))
		require.NoError(t, err)
		assert.False(t, needs)
	})

	t.Run("never compacted", func(t *testing.T) {
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(nil))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("heterogeneous states", func(t *testing.T) {
		other := matchingState()
		other.GranularitySpec = map[string]any{"segmentGranularity": "HOUR"}
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(matchingState(), other))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("partitions spec differs", func(t *testing.T) {
		state := matchingState()
		state.PartitionsSpec = kilnmodel.NewDynamicPartitionsSpec(1_000_000, 0)
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("index spec differs", func(t *testing.T) {
		state := matchingState()
		state.IndexSpec = map[string]any{"dimensionCompression": "zstd"}
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("stored index spec with defaults matches", func(t *testing.T) {
		state := matchingState()
		state.IndexSpec = map[string]any{
			"bitmap":               map[string]any{"type": "roaring"},
			"dimensionCompression": "lz4",
			"metricCompression":    "lz4",
			"longEncoding":         "longs",
		}
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.False(t, needs)
	})

	t.Run("no stored granularity and aligned intervals match", func(t *testing.T) {
		state := matchingState()
		state.GranularitySpec = nil
		cfg := matchingConfig()
		cfg.GranularitySpec = &GranularitySpec{SegmentGranularity: granularity.NewValue(granularity.Day)}
		needs, err := p.needsCompaction("wiki", cfg, batchOf(state))
		require.NoError(t, err)
		assert.False(t, needs)
	})

	t.Run("no stored granularity and misaligned interval", func(t *testing.T) {
		state := matchingState()
		state.GranularitySpec = nil
		cfg := matchingConfig()
		cfg.GranularitySpec = &GranularitySpec{SegmentGranularity: granularity.NewValue(granularity.Month)}
		needs, err := p.needsCompaction("wiki", cfg, batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("segment granularity differs", func(t *testing.T) {
		cfg := matchingConfig()
		cfg.GranularitySpec.SegmentGranularity = granularity.NewValue(granularity.Month)
		needs, err := p.needsCompaction("wiki", cfg, batchOf(matchingState()))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("rollup differs", func(t *testing.T) {
		state := matchingState()
		state.GranularitySpec["rollup"] = false
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("query granularity absent in state", func(t *testing.T) {
		state := matchingState()
		delete(state.GranularitySpec, "queryGranularity")
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("dimensions differ", func(t *testing.T) {
		state := matchingState()
		state.DimensionsSpec = &kilnmodel.DimensionsSpec{
			Dimensions: []kilnmodel.DimensionSchema{{Name: "page"}},
		}
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("dimensions differ only in bitmap index", func(t *testing.T) {
		state := matchingState()
		state.DimensionsSpec = &kilnmodel.DimensionsSpec{
			Dimensions: []kilnmodel.DimensionSchema{
				{Name: "page", CreateBitmapIndex: true},
				{Name: "user"},
			},
		}
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("filter differs", func(t *testing.T) {
		state := matchingState()
		state.TransformSpec = map[string]any{
			"filter": map[string]any{"type": "selector", "dimension": "lang", "value": "de"},
		}
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("metrics absent in state", func(t *testing.T) {
		state := matchingState()
		state.MetricsSpec = nil
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("metrics differ", func(t *testing.T) {
		state := matchingState()
		state.MetricsSpec = []any{map[string]any{"type": "longSum", "name": "added", "fieldName": "added"}}
		needs, err := p.needsCompaction("wiki", matchingConfig(), batchOf(state))
		require.NoError(t, err)
		assert.True(t, needs)
	})

	t.Run("unconstrained config only checks partitions and index", func(t *testing.T) {
		cfg := &Config{InputSegmentSizeBytes: 1 << 30}
		state := &kilnmodel.CompactionState{
			PartitionsSpec: kilnmodel.NewDynamicPartitionsSpec(5_000_000, 0),
		}
		needs, err := p.needsCompaction("wiki", cfg, batchOf(state))
		require.NoError(t, err)
		assert.False(t, needs)
	})
}

func TestNeedsCompaction_CorruptState(t *testing.T) {
	const day = "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"
	p := testPlanner()

	state := matchingState()
	state.GranularitySpec = map[string]any{"segmentGranularity": 123}
	batch := newSegmentBatch([]*kilnmodel.Segment{segment(t, "wiki", day, "v1", 100, state)})

	_, err := p.needsCompaction("wiki", matchingConfig(), batch)
	var corrupt *CorruptStateError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "wiki", corrupt.Datasource)
	assert.NotEmpty(t, corrupt.SegmentID)
}
