package main

import (
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"
)

var cfg struct {
	verbose bool
	plan    struct {
		snapshot   string
		output     string
		maxBatches int
	}
}

var logger = log.NewLogfmtLogger(os.Stderr)

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Tooling for Kiln, the segment compaction planner.").UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&cfg.verbose)

	planCmd := app.Command("plan", "Plan compaction batches from a timeline snapshot.")
	planCmd.Arg("snapshot", "Path to the snapshot file.").Required().ExistingFileVar(&cfg.plan.snapshot)
	planCmd.Flag("output", "Output format.").Default("table").EnumVar(&cfg.plan.output, "table", "json")
	planCmd.Flag("max-batches", "Stop after this many batches. 0 plans everything.").Default("0").IntVar(&cfg.plan.maxBatches)

	parsed := kingpin.MustParse(app.Parse(os.Args[1:]))
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	switch parsed {
	case planCmd.FullCommand():
		if err := runPlan(cfg.plan.snapshot, cfg.plan.output, cfg.plan.maxBatches); err != nil {
			level.Error(logger).Log("msg", "planning failed", "err", err)
			os.Exit(1)
		}
	}
}
