package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/kiln/pkg/compaction"
	kilnmodel "github.com/grafana/kiln/pkg/model"
	"github.com/grafana/kiln/pkg/timeline"
)

// snapshotFile is the on-disk description of the cluster state the planner
// runs against: per datasource, the compaction config, the known segments,
// and any operator skip intervals.
type snapshotFile struct {
	Datasources map[string]snapshotDatasource `yaml:"datasources"`
}

type snapshotDatasource struct {
	Config        *compaction.Config   `yaml:"config"`
	Segments      []snapshotSegment    `yaml:"segments"`
	SkipIntervals []kilnmodel.Interval `yaml:"skipIntervals"`
}

type snapshotSegment struct {
	Interval            kilnmodel.Interval         `yaml:"interval"`
	Version             string                     `yaml:"version"`
	Shard               kilnmodel.ShardSpec        `yaml:"shard"`
	Size                int64                      `yaml:"size"`
	LastCompactionState *kilnmodel.CompactionState `yaml:"lastCompactionState"`
}

func loadSnapshot(path string) (*snapshotFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	var f snapshotFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "parse snapshot")
	}
	return &f, nil
}

func (f *snapshotFile) build() (
	map[string]*compaction.Config,
	map[string]*timeline.Timeline,
	map[string][]kilnmodel.Interval,
	error,
) {
	configs := make(map[string]*compaction.Config)
	timelines := make(map[string]*timeline.Timeline)
	skips := make(map[string][]kilnmodel.Interval)
	for datasource, ds := range f.Datasources {
		segments := make([]*kilnmodel.Segment, len(ds.Segments))
		for i, s := range ds.Segments {
			segments[i] = &kilnmodel.Segment{
				Datasource:          datasource,
				Interval:            s.Interval,
				Version:             s.Version,
				Shard:               s.Shard,
				Size:                s.Size,
				LastCompactionState: s.LastCompactionState,
			}
		}
		timelines[datasource] = timeline.FromSegments(segments...)
		if ds.Config == nil {
			// Datasources without a config are carried for their timelines
			// only; the planner ignores them.
			continue
		}
		if err := ds.Config.Validate(); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "invalid config for datasource %q", datasource)
		}
		configs[datasource] = ds.Config
		if len(ds.SkipIntervals) > 0 {
			skips[datasource] = ds.SkipIntervals
		}
	}
	return configs, timelines, skips, nil
}

type plannedBatch struct {
	Datasource string               `json:"datasource"`
	Interval   kilnmodel.Interval   `json:"interval"`
	Segments   []*kilnmodel.Segment `json:"segments"`
	TotalSize  int64                `json:"totalSize"`
}

type planResult struct {
	Batches   []plannedBatch                    `json:"batches"`
	Compacted map[string]*compaction.Statistics `json:"compactedStatistics"`
	Skipped   map[string]*compaction.Statistics `json:"skippedStatistics"`
}

func runPlan(path, output string, maxBatches int) error {
	snapshot, err := loadSnapshot(path)
	if err != nil {
		return err
	}
	configs, timelines, skips, err := snapshot.build()
	if err != nil {
		return err
	}

	planner, err := compaction.NewPlanner(logger, nil, nil, configs, timelines, skips)
	if err != nil {
		return err
	}

	var result planResult
	for planner.HasNext() {
		if maxBatches > 0 && len(result.Batches) >= maxBatches {
			level.Info(logger).Log("msg", "reached the batch limit", "max_batches", maxBatches)
			break
		}
		segments, err := planner.Next()
		if err != nil {
			if len(segments) == 0 {
				return err
			}
			// The popped batch is still valid; report the refill failure
			// and keep what we have.
			level.Warn(logger).Log("msg", "stopping early", "err", err)
		}
		var (
			intervals []kilnmodel.Interval
			totalSize int64
		)
		for _, s := range segments {
			intervals = append(intervals, s.Interval)
			totalSize += s.Size
		}
		result.Batches = append(result.Batches, plannedBatch{
			Datasource: segments[0].Datasource,
			Interval:   kilnmodel.Umbrella(intervals),
			Segments:   segments,
			TotalSize:  totalSize,
		})
		if err != nil {
			break
		}
	}
	result.Compacted = planner.CompactedStatistics()
	result.Skipped = planner.SkippedStatistics()

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	renderPlan(result)
	return nil
}

func renderPlan(result planResult) {
	batches := tablewriter.NewWriter(os.Stdout)
	batches.SetHeader([]string{"#", "Datasource", "Interval", "Segments", "Size"})
	for i, b := range result.Batches {
		batches.Append([]string{
			strconv.Itoa(i + 1),
			b.Datasource,
			b.Interval.String(),
			strconv.Itoa(len(b.Segments)),
			humanize.IBytes(uint64(b.TotalSize)),
		})
	}
	batches.Render()

	fmt.Println()
	stats := tablewriter.NewWriter(os.Stdout)
	stats.SetHeader([]string{"Datasource", "State", "Bytes", "Segments", "Intervals"})
	appendStats := func(state string, m map[string]*compaction.Statistics) {
		datasources := make([]string, 0, len(m))
		for datasource := range m {
			datasources = append(datasources, datasource)
		}
		sort.Strings(datasources)
		for _, datasource := range datasources {
			s := m[datasource]
			stats.Append([]string{
				datasource,
				state,
				humanize.IBytes(s.Bytes),
				strconv.FormatUint(s.Segments, 10),
				strconv.FormatUint(s.Intervals, 10),
			})
		}
	}
	appendStats("compacted", result.Compacted)
	appendStats("skipped", result.Skipped)
	stats.Render()
}
