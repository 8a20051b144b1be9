package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/aggregate"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/artifact"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/ingest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/telemetry"
)

// builtRun is one CSV turned into per-run artifacts
type builtRun struct {
	Label     string
	CSV       string
	Rows      int
	Nodes     int
	Calls     int
	Skipped   int
	Conflicts int
}

type buildReport struct {
	Runs     []builtRun
	Failures []aggregate.SourceFailure
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build per-run tree and path artifacts from CSV exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPipeline(cmd)
		report, err := p.build(cmd.Context())
		if err != nil {
			return err
		}
		if len(report.Runs) == 0 {
			return p.noInput("build", fmt.Errorf("no readable CSV in %s", p.cfg.DataDir))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

// build reads every CSV in data_dir with up to workers parallel readers and
// writes <label>.button_tree.json, <label>.call_paths.json and
// <label>.build_report.json into json_dir. An unreadable CSV is skipped and
// listed in build_failures.json.
func (p *pipeline) build(ctx context.Context) (*buildReport, error) {
	start := time.Now()
	defer p.metrics.ObserveStage(telemetry.StageBuild, start)

	files, err := ingest.FindCSV(p.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	report := &buildReport{}
	if len(files) == 0 {
		p.progress("build", "no CSV files in %s", p.cfg.DataDir)
		return report, artifact.WriteBuildFailures(p.cfg.JSONDir, nil)
	}
	p.progress("build", "%d CSV file(s) in %s, %d worker(s)", len(files), p.cfg.DataDir, p.cfg.Workers)

	// two files with the same label would write the same artifacts
	var todo []string
	owner := make(map[string]string)
	for _, path := range files {
		label := ingest.SafeStem(path)
		if first, ok := owner[label]; ok {
			p.logger.Warn("skipping source", "path", path, "label", label, "first", first)
			report.Failures = append(report.Failures, aggregate.SourceFailure{
				Path: path,
				Err:  fmt.Sprintf("label %q already used by %s", label, filepath.Base(first)),
			})
			continue
		}
		owner[label] = path
		todo = append(todo, path)
	}

	runs := make([]*builtRun, len(todo))
	errs := make([]error, len(todo))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, path := range todo {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			runs[i], errs[i] = p.buildOne(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, path := range todo {
		if errs[i] != nil {
			p.logger.Warn("skipping source", "path", path, "err", errs[i])
			report.Failures = append(report.Failures, aggregate.SourceFailure{Path: path, Err: errs[i].Error()})
			continue
		}
		r := runs[i]
		p.progress("build", "%s: %d rows, %d nodes, %d calls, %d skipped, %d conflicts",
			r.Label, r.Rows, r.Nodes, r.Calls, r.Skipped, r.Conflicts)
		report.Runs = append(report.Runs, *r)
	}
	if err := artifact.WriteBuildFailures(p.cfg.JSONDir, report.Failures); err != nil {
		return nil, err
	}
	p.metrics.RecordSkipped(telemetry.SkipCSV, len(report.Failures))
	p.progress("build", "wrote %d run(s) to %s, skipped %d", len(report.Runs), p.cfg.JSONDir, len(report.Failures))
	return report, nil
}

func (p *pipeline) buildOne(path string) (*builtRun, error) {
	run, err := ingest.ReadFile(path, p.logger)
	if err != nil {
		return nil, err
	}
	tree := forest.Build(run.Registry, p.cfg.MaxDepth, p.logger)
	if _, _, err := artifact.WriteRun(p.cfg.JSONDir, run.Label, tree, run.Records); err != nil {
		return nil, err
	}
	if err := artifact.WriteBuildReport(p.cfg.JSONDir, &aggregate.BuildReport{
		Label:          run.Label,
		Rows:           run.Rows,
		SkippedRecords: run.Registry.Skipped(),
		Conflicts:      run.Registry.Conflicts(),
	}); err != nil {
		return nil, err
	}
	p.metrics.RecordBuild(run.Registry.Skipped(), len(run.Registry.Conflicts()))
	return &builtRun{
		Label:     run.Label,
		CSV:       path,
		Rows:      run.Rows,
		Nodes:     run.Registry.Len(),
		Calls:     len(run.Records),
		Skipped:   run.Registry.Skipped(),
		Conflicts: len(run.Registry.Conflicts()),
	}, nil
}
