package timeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/kiln/pkg/model"
)

func interval(t testing.TB, s string) model.Interval {
	t.Helper()
	in, err := model.ParseInterval(s)
	require.NoError(t, err)
	return in
}

func segment(t testing.TB, in, version string, partition, numPartitions int, size int64) *model.Segment {
	t.Helper()
	return &model.Segment{
		Datasource: "wiki",
		Interval:   interval(t, in),
		Version:    version,
		Shard:      model.ShardSpec{Partition: partition, NumPartitions: numPartitions},
		Size:       size,
	}
}

func TestTimeline_LookupOrdering(t *testing.T) {
	tl := FromSegments(
		segment(t, "2024-01-03T00:00:00Z/2024-01-04T00:00:00Z", "v1", 0, 1, 10),
		segment(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", "v1", 0, 1, 10),
		segment(t, "2024-01-02T00:00:00Z/2024-01-03T00:00:00Z", "v1", 0, 1, 10),
	)

	holders := tl.Lookup(interval(t, "2024-01-01T00:00:00Z/2024-01-04T00:00:00Z"))
	require.Len(t, holders, 3)
	assert.Equal(t, interval(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"), holders[0].Interval)
	assert.Equal(t, interval(t, "2024-01-02T00:00:00Z/2024-01-03T00:00:00Z"), holders[1].Interval)
	assert.Equal(t, interval(t, "2024-01-03T00:00:00Z/2024-01-04T00:00:00Z"), holders[2].Interval)

	// Lookup is bounded by overlap, not containment.
	holders = tl.Lookup(interval(t, "2024-01-01T12:00:00Z/2024-01-02T12:00:00Z"))
	require.Len(t, holders, 2)
}

func TestTimeline_NewerVersionWins(t *testing.T) {
	older := segment(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", "v1", 0, 1, 10)
	newer := segment(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", "v2", 0, 1, 20)
	tl := FromSegments(older, newer)

	holders := tl.Lookup(interval(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"))
	require.Len(t, holders, 1)
	assert.Equal(t, "v2", holders[0].Version)
	assert.Empty(t, cmp.Diff([]*model.Segment{newer}, holders[0].Segments()))
}

func TestTimeline_IncompleteVersionDoesNotWin(t *testing.T) {
	complete := segment(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", "v1", 0, 1, 10)
	// Only partition 0 of 2 is present at v2.
	partial := segment(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", "v2", 0, 2, 10)
	tl := FromSegments(complete, partial)

	holders := tl.Lookup(interval(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"))
	require.Len(t, holders, 1)
	assert.Equal(t, "v1", holders[0].Version)
}

func TestTimeline_Completeness(t *testing.T) {
	in := "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"
	t.Run("only incomplete version present", func(t *testing.T) {
		tl := FromSegments(segment(t, in, "v1", 1, 2, 10))
		assert.Empty(t, tl.FindNonOvershadowed(model.Eternity(), OnlyComplete))
		assert.Len(t, tl.FindNonOvershadowed(model.Eternity(), IncludingIncomplete), 1)
	})
	t.Run("all partitions present", func(t *testing.T) {
		tl := FromSegments(
			segment(t, in, "v1", 0, 2, 10),
			segment(t, in, "v1", 1, 2, 10),
		)
		assert.Len(t, tl.FindNonOvershadowed(model.Eternity(), OnlyComplete), 2)
	})
	t.Run("unknown partition count is complete when contiguous", func(t *testing.T) {
		tl := FromSegments(
			segment(t, in, "v1", 0, 0, 10),
			segment(t, in, "v1", 1, 0, 10),
		)
		assert.Len(t, tl.FindNonOvershadowed(model.Eternity(), OnlyComplete), 2)
	})
}

func TestTimeline_OvershadowAcrossIntervals(t *testing.T) {
	// A newer, complete month chunk hides the daily chunks it contains.
	day1 := segment(t, "2020-01-01T00:00:00Z/2020-01-02T00:00:00Z", "v1", 0, 1, 10)
	day2 := segment(t, "2020-01-02T00:00:00Z/2020-01-03T00:00:00Z", "v1", 0, 1, 10)
	month := segment(t, "2020-01-01T00:00:00Z/2020-02-01T00:00:00Z", "v2", 0, 1, 100)
	outside := segment(t, "2020-02-01T00:00:00Z/2020-02-02T00:00:00Z", "v1", 0, 1, 10)
	tl := FromSegments(day1, day2, month, outside)

	found := tl.FindNonOvershadowed(model.Eternity(), OnlyComplete)
	assert.Empty(t, cmp.Diff([]*model.Segment{month, outside}, found))
}

func TestTimeline_FirstLast(t *testing.T) {
	tl := New()
	assert.Nil(t, tl.First())
	assert.Nil(t, tl.Last())
	assert.True(t, tl.IsEmpty())

	tl.Add(
		segment(t, "2024-01-02T00:00:00Z/2024-01-03T00:00:00Z", "v1", 0, 1, 10),
		segment(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", "v1", 0, 1, 10),
		segment(t, "2024-01-05T00:00:00Z/2024-01-06T00:00:00Z", "v1", 0, 1, 10),
	)
	assert.False(t, tl.IsEmpty())
	assert.Equal(t, interval(t, "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"), tl.First().Interval)
	assert.Equal(t, interval(t, "2024-01-05T00:00:00Z/2024-01-06T00:00:00Z"), tl.Last().Interval)
}

func TestTimeline_FindNonOvershadowedIntersecting(t *testing.T) {
	s := segment(t, "2024-01-01T00:00:00Z/2024-01-03T00:00:00Z", "v1", 0, 1, 10)
	tl := FromSegments(s)

	// Segments merely intersecting the lookup interval are returned.
	found := tl.FindNonOvershadowed(interval(t, "2024-01-02T00:00:00Z/2024-01-05T00:00:00Z"), OnlyComplete)
	assert.Empty(t, cmp.Diff([]*model.Segment{s}, found))

	assert.Empty(t, tl.FindNonOvershadowed(interval(t, "2024-01-03T00:00:00Z/2024-01-05T00:00:00Z"), OnlyComplete))
}

func TestTimeline_ChunksSortedByPartition(t *testing.T) {
	in := "2024-01-01T00:00:00Z/2024-01-02T00:00:00Z"
	tl := FromSegments(
		segment(t, in, "v1", 2, 3, 10),
		segment(t, in, "v1", 0, 3, 10),
		segment(t, in, "v1", 1, 3, 10),
	)
	holders := tl.Lookup(interval(t, in))
	require.Len(t, holders, 1)
	require.Len(t, holders[0].Chunks, 3)
	for i, c := range holders[0].Chunks {
		assert.Equal(t, i, c.Partition)
	}
}
