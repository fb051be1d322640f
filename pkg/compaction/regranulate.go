package compaction

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/grafana/kiln/pkg/granularity"
	kilnmodel "github.com/grafana/kiln/pkg/model"
	"github.com/grafana/kiln/pkg/timeline"
)

var ulidEntropy = rand.New(rand.NewSource(time.Now().UnixNano()))

// regranulateTimeline re-buckets the non-overshadowed segments of tl into the
// configured segment granularity. A segment crossing bucket boundaries is
// placed in every bucket it touches. Each bucket gets a dense synthetic
// partition numbering, and every bucket shares one synthetic version, so the
// versioned-interval machinery stays well-defined over the new bucketing.
// The synthetic version must never reach consumers: holders from the returned
// timeline are re-resolved against the original before they are yielded.
func regranulateTimeline(tl *timeline.Timeline, g granularity.Granularity) *timeline.Timeline {
	segments := tl.FindNonOvershadowed(kilnmodel.Eternity(), timeline.OnlyComplete)
	buckets := make(map[kilnmodel.Interval][]*kilnmodel.Segment)
	for _, s := range segments {
		it := g.Iterable(s.Interval)
		for it.Next() {
			buckets[it.At()] = append(buckets[it.At()], s)
		}
	}

	version := ulid.MustNew(ulid.Now(), ulidEntropy).String()
	out := timeline.New()
	for bucket, bucketSegments := range buckets {
		n := len(bucketSegments)
		for p, s := range bucketSegments {
			shard := kilnmodel.ShardSpec{Partition: p, NumPartitions: n}
			out.AddChunk(bucket, version, timeline.Chunk{
				Partition: p,
				Segment:   s.WithShardSpec(shard),
			})
		}
	}
	return out
}
