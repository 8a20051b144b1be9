package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/aggregate"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/artifact"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/telemetry"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Merge per-run artifacts into one tree and one path index",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPipeline(cmd)
		_, err := p.aggregate(cmd.Context())
		if errors.Is(err, aggregate.ErrNoValidInput) {
			return p.noInput("aggregate", err)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
}

// aggregate merges json_dir into output_dir. With no valid input it still
// writes empty artifacts and returns the result with ErrNoValidInput.
func (p *pipeline) aggregate(ctx context.Context) (*aggregate.Result, error) {
	start := time.Now()
	defer p.metrics.ObserveStage(telemetry.StageAggregate, start)

	if err := os.MkdirAll(p.cfg.JSONDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating json dir: %w", err)
	}
	res, load, err := aggregate.AggregateDir(ctx, p.cfg.JSONDir, p.cfg.Workers, p.logger)
	if res == nil {
		return nil, err
	}
	noInput := err
	if noInput != nil && !errors.Is(noInput, aggregate.ErrNoValidInput) {
		return nil, noInput
	}

	tree := res.Tree(p.cfg.MaxDepth)
	if err := artifact.WriteAggregated(p.cfg.OutputDir, tree, res.Index); err != nil {
		return nil, err
	}
	if err := artifact.WriteMergeReport(p.cfg.OutputDir, artifact.NewMergeReport(res, load)); err != nil {
		return nil, err
	}

	p.metrics.RecordSkipped(telemetry.SkipArtifact, load.Skipped())
	p.metrics.RecordAggregate(len(res.Forest.Nodes), res.Index.Len(), len(res.Collisions))

	p.progress("aggregate", "%d source(s), %d nodes, %d roots, %d paths",
		len(res.Sources), len(res.Forest.Nodes), len(res.Forest.Roots), res.Index.Len())
	p.progress("aggregate", "%d parent conflict(s), %d id collision(s), %d backfilled, %d skipped file(s)",
		len(res.Conflicts), len(res.Collisions), res.Backfilled, load.Skipped())
	for _, f := range load.Failures {
		p.progress("aggregate", "  skipped %s: %s", f.Path, f.Err)
	}
	if n := len(load.BuildFailures); n > 0 {
		p.progress("aggregate", "%d CSV export(s) failed to build", n)
	}
	return res, noInput
}
