// Package compaction plans which groups of segments a coordinator should
// compact next. The planner walks the timelines of the configured
// datasources from the newest segments to the oldest, yielding batches that
// fit the input size budget and diverge from the configured policy.
package compaction

import (
	"container/heap"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	kilnmodel "github.com/grafana/kiln/pkg/model"
	"github.com/grafana/kiln/pkg/timeline"
)

// Planner iterates all segments of the configured datasources from the
// newest to the oldest, one batch at a time. It is not safe for concurrent
// use; the registered statistics collector is safe to scrape concurrently.
type Planner struct {
	logger  log.Logger
	decoder Decoder

	configs map[string]*Config
	cursors map[string]*holderCursor

	// Umbrella intervals already yielded per datasource. Only populated when
	// a segment granularity is configured: re-bucketed copies of one segment
	// may resolve to the same physical range, which must be yielded once.
	emitted map[string]map[kilnmodel.Interval]struct{}

	queue entryQueue

	mu        sync.Mutex
	compacted map[string]*Statistics
	skipped   map[string]*Statistics
}

// NewPlanner builds a planner over the given timelines. Every configured
// datasource must have a timeline; timelines without a config are ignored,
// and empty timelines are skipped. The queue is seeded with the first batch
// of every datasource, so construction surfaces corrupt compaction states
// eagerly.
func NewPlanner(
	logger log.Logger,
	reg prometheus.Registerer,
	decoder Decoder,
	configs map[string]*Config,
	timelines map[string]*timeline.Timeline,
	skipIntervals map[string][]kilnmodel.Interval,
) (*Planner, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if decoder == nil {
		decoder = NewJSONDecoder()
	}
	p := &Planner{
		logger:    logger,
		decoder:   decoder,
		configs:   configs,
		cursors:   make(map[string]*holderCursor, len(configs)),
		emitted:   make(map[string]map[kilnmodel.Interval]struct{}),
		compacted: make(map[string]*Statistics),
		skipped:   make(map[string]*Statistics),
	}

	datasources := make([]string, 0, len(configs))
	for datasource := range configs {
		datasources = append(datasources, datasource)
	}
	slices.Sort(datasources)

	for _, datasource := range datasources {
		if _, ok := timelines[datasource]; !ok {
			return nil, errors.Wrapf(ErrUnknownDatasource, "%q", datasource)
		}
	}

	for _, datasource := range datasources {
		if err := p.buildCursor(datasource, timelines[datasource], skipIntervals[datasource]); err != nil {
			return nil, err
		}
	}
	for _, datasource := range datasources {
		if err := p.updateQueue(datasource); err != nil {
			return nil, err
		}
	}

	if reg != nil {
		reg.MustRegister(newStatisticsCollector(p))
	}
	return p, nil
}

func (p *Planner) buildCursor(datasource string, tl *timeline.Timeline, skipIntervals []kilnmodel.Interval) error {
	if tl.IsEmpty() {
		level.Debug(p.logger).Log("msg", "timeline is empty, skipping datasource", "datasource", datasource)
		return nil
	}
	cfg := p.configs[datasource]

	var original *timeline.Timeline
	g := cfg.segmentGranularity()
	if g != nil {
		regranulated := regranulateTimeline(tl, g)
		if regranulated.IsEmpty() {
			level.Debug(p.logger).Log(
				"msg", "no complete segments to re-bucket, skipping datasource",
				"datasource", datasource,
				"granularity", g,
			)
			return nil
		}
		original, tl = tl, regranulated
	}

	searchIntervals, err := p.findInitialSearchIntervals(datasource, tl, cfg, g, skipIntervals)
	if err != nil {
		return err
	}
	if len(searchIntervals) == 0 {
		return nil
	}
	p.cursors[datasource] = newHolderCursor(tl, searchIntervals, original)
	return nil
}

// HasNext reports whether another batch is available.
func (p *Planner) HasNext() bool {
	return p.queue.Len() > 0
}

// Next pops the batch with the newest umbrella interval across all
// datasources and refills the queue from that batch's datasource. Once
// drained it returns ErrEndOfIteration. A non-nil error next to a non-empty
// batch reports a failure preparing that datasource's following batch; the
// returned batch is still valid, and that datasource yields no further
// batches.
func (p *Planner) Next() ([]*kilnmodel.Segment, error) {
	if !p.HasNext() {
		return nil, ErrEndOfIteration
	}
	entry := heap.Pop(&p.queue).(*queueEntry)
	if len(entry.segments) == 0 {
		return nil, errors.New("invariant violation: empty queue entry")
	}
	datasource := entry.segments[0].Datasource
	if err := p.updateQueue(datasource); err != nil {
		return entry.segments, err
	}
	return entry.segments, nil
}

// CompactedStatistics is a live view of the per-datasource counters for
// segments found already in the configured state.
func (p *Planner) CompactedStatistics() map[string]*Statistics {
	return p.compacted
}

// SkippedStatistics is a live view of the per-datasource counters for
// segments the planner skipped.
func (p *Planner) SkippedStatistics() map[string]*Statistics {
	return p.skipped
}

// updateQueue finds the next batch for the datasource and enqueues it.
func (p *Planner) updateQueue(datasource string) error {
	cursor := p.cursors[datasource]
	if cursor == nil {
		level.Debug(p.logger).Log("msg", "no cursor for datasource", "datasource", datasource)
		return nil
	}
	batch, err := p.findNextBatch(datasource, cursor, p.configs[datasource])
	if err != nil {
		return err
	}
	if !batch.isEmpty() {
		heap.Push(&p.queue, newQueueEntry(batch.segments))
	}
	return nil
}

// findNextBatch advances the cursor until it finds a batch that fits the
// size budget and diverges from the configured state. Batches already in the
// configured state count as compacted; oversized ones as skipped.
func (p *Planner) findNextBatch(datasource string, cursor *holderCursor, cfg *Config) (*segmentBatch, error) {
	for cursor.hasNext() {
		batch := newSegmentBatch(cursor.next())
		if batch.isEmpty() {
			return nil, errors.Errorf("invariant violation: compactible holder yielded no segments (datasource %q)", datasource)
		}

		fits := batch.totalSize <= cfg.InputSegmentSizeBytes
		needs, err := p.needsCompaction(datasource, cfg, batch)
		if err != nil {
			return nil, err
		}

		switch {
		case fits && needs:
			if cfg.segmentGranularity() != nil {
				u := batch.umbrella()
				emitted := p.emitted[datasource]
				if emitted == nil {
					emitted = make(map[kilnmodel.Interval]struct{})
					p.emitted[datasource] = emitted
				}
				if _, ok := emitted[u]; ok {
					continue
				}
				emitted[u] = struct{}{}
			}
			return batch, nil
		case !needs:
			p.collectStatistics(p.compacted, datasource, batch)
		default:
			p.collectStatistics(p.skipped, datasource, batch)
			level.Warn(p.logger).Log(
				"msg", "total batch size exceeds the input budget, continuing to the next interval",
				"datasource", datasource,
				"interval", batch.umbrella(),
				"total_size", humanize.IBytes(uint64(batch.totalSize)),
				"budget", humanize.IBytes(uint64(cfg.InputSegmentSizeBytes)),
			)
		}
	}
	return &segmentBatch{}, nil
}

func (p *Planner) collectStatistics(stats map[string]*Statistics, datasource string, batch *segmentBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := stats[datasource]
	if s == nil {
		s = &Statistics{}
		stats[datasource] = s
	}
	s.add(batch)
}
