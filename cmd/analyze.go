package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/artifact"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/graph"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/server"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/store"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/telemetry"
)

var (
	analyzeJSON    bool
	analyzeNoStore bool
	analyzeQuiet   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute path analytics over the aggregated tree and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPipeline(cmd)
		report, run, err := p.analyze(cmd.Context())
		if err != nil {
			return err
		}
		return p.printReport(cmd.OutOrStdout(), report, run)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the summary as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeNoStore, "no-store", false, "do not persist the run to the artifact store")
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false, "no report on stdout")
	rootCmd.AddCommand(analyzeCmd)
}

// analyze reads the aggregated artifacts from output_dir, writes one file per
// metric into analytics_dir and persists the run unless --no-store is set
func (p *pipeline) analyze(ctx context.Context) (*graph.AnalysisReport, *store.Run, error) {
	start := time.Now()
	agg, err := artifact.ReadAggregated(p.cfg.OutputDir, p.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading aggregated artifacts: %w", err)
	}
	merge, err := artifact.ReadMergeReport(p.cfg.OutputDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading merge report: %w", err)
	}
	stats := merge.Stats()
	stats.OpaqueEntries = agg.OpaqueEntries

	snap := graph.NewSnapshot(agg.Forest, agg.Index)
	report := graph.Analyze(snap, p.cfg.Analyzer(), stats)
	names, err := artifact.WriteAnalysis(p.cfg.AnalyticsDir, report)
	if err != nil {
		return nil, nil, fmt.Errorf("writing analytics: %w", err)
	}
	p.metrics.ObserveStage(telemetry.StageAnalyze, start)
	p.progress("analyze", "%d nodes, %d paths -> %d artifact(s) in %s",
		len(agg.Forest.Nodes), agg.Index.Len(), len(names), p.cfg.AnalyticsDir)

	if analyzeNoStore {
		return report, nil, nil
	}
	run, err := p.persist(ctx, agg, merge, report)
	if err != nil {
		return nil, nil, err
	}
	return report, run, nil
}

// persist stores the analysed run and prunes old runs beyond keep_runs
func (p *pipeline) persist(ctx context.Context, agg *artifact.Aggregated, merge *artifact.MergeReport, report *graph.AnalysisReport) (*store.Run, error) {
	start := time.Now()
	defer p.metrics.ObserveStage(telemetry.StageStore, start)

	blobs, err := encodeBlobs(agg, merge, report, p.cfg.MaxDepth)
	if err != nil {
		return nil, err
	}
	nodes := make([]*forest.RuleNode, 0, len(agg.Forest.Nodes))
	for _, id := range agg.Forest.IDs() {
		nodes = append(nodes, agg.Forest.Nodes[id])
	}

	d, err := store.OpenDB(p.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer d.Close()

	run, err := d.SaveRun(ctx, store.RunInput{
		Sources:        merge.Sources,
		Nodes:          nodes,
		Records:        agg.Index.Records(),
		Artifacts:      blobs,
		Conflicts:      len(merge.Conflicts),
		Collisions:     len(merge.Collisions),
		SkippedSources: len(merge.Failures),
	})
	if err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}
	p.progress("analyze", "stored run %s in %s", truncID(run.ID), p.cfg.DB)

	if p.cfg.KeepRuns > 0 {
		pruned, err := d.PruneRuns(ctx, p.cfg.KeepRuns)
		if err != nil {
			return nil, fmt.Errorf("pruning runs: %w", err)
		}
		if pruned > 0 {
			p.progress("analyze", "pruned %d old run(s)", pruned)
		}
	}
	return run, nil
}

func encodeBlobs(agg *artifact.Aggregated, merge *artifact.MergeReport, report *graph.AnalysisReport, maxDepth int) ([]store.Blob, error) {
	docs := []graph.Artifact{
		{Name: server.TreeArtifact, Value: agg.Forest.Tree(maxDepth)},
		{Name: server.PathsArtifact, Value: agg.Index},
		{Name: strings.TrimSuffix(artifact.MergeReportFile, ".json"), Value: merge},
	}
	docs = append(docs, report.Artifacts()...)

	blobs := make([]store.Blob, 0, len(docs))
	for _, doc := range docs {
		body, err := json.Marshal(doc.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", doc.Name, err)
		}
		blobs = append(blobs, store.Blob{Name: doc.Name, Body: body})
	}
	return blobs, nil
}

func (p *pipeline) printReport(w io.Writer, report *graph.AnalysisReport, run *store.Run) error {
	if analyzeQuiet {
		return nil
	}
	if analyzeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report.Summary)
	}
	printHumanReadable(w, report, run)
	return nil
}

func printHumanReadable(w io.Writer, report *graph.AnalysisReport, run *store.Run) {
	totals := report.Summary.Totals
	l := report.Lengths
	t := report.Topology

	if run != nil {
		fmt.Fprintf(w, "\n  Run %s\n", truncID(run.ID))
	}

	fmt.Fprintln(w, "\n  TREE")
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	fmt.Fprintf(w, "  Nodes: %d  Edges: %d  Roots: %d  Leaves: %d  Max depth: %d\n",
		t.TotalNodes, t.TotalEdges, t.Roots, t.Leaves, t.MaxDepth)
	if len(t.Rerooted) > 0 {
		fmt.Fprintf(w, "  Re-rooted: %d nodes (dangling parent or cycle)\n", len(t.Rerooted))
	}
	if totals.Unreachable > 0 {
		fmt.Fprintf(w, "  Never traversed: %d nodes\n", totals.Unreachable)
	}
	if totals.DuplicateTexts > 0 {
		fmt.Fprintf(w, "  Duplicate texts: %d groups\n", totals.DuplicateTexts)
	}

	fmt.Fprintln(w, "\n  Child count distribution:")
	for _, b := range t.DegreeHistogram {
		if b.Count > 0 {
			barWidth := int(math.Log2(float64(b.Count))) + 2
			fmt.Fprintf(w, "    %5s: %4d  %s\n", b.Label, b.Count, strings.Repeat("=", barWidth))
		}
	}
	if len(t.Hubs) > 0 {
		fmt.Fprintln(w, "\n  Hubs:")
		for _, hub := range t.Hubs {
			fmt.Fprintf(w, "    %6d children=%d reach=%d  %s\n",
				hub.RuleID, hub.Children, hub.Reach, truncTitle(hub.Text, 40))
		}
	}

	fmt.Fprintln(w, "\n  PATHS")
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	fmt.Fprintf(w, "  Calls: %d  Distinct paths: %d\n", totals.Paths, totals.DistinctPaths)
	if l.Count > 0 {
		fmt.Fprintf(w, "  Length: avg=%.2f median=%d p90=%d p95=%d min=%d max=%d\n",
			l.Avg, l.Median, l.P90, l.P95, l.Min, l.Max)
	}

	if len(report.Summary.TopIntents) > 0 {
		fmt.Fprintln(w, "\n  Top intents:")
		for _, row := range report.Summary.TopIntents {
			fmt.Fprintf(w, "    %6d  %6d calls  %s\n", row.RuleID, row.Count, truncTitle(row.Text, 40))
		}
	}
	if len(report.Summary.DeadEnds) > 0 {
		fmt.Fprintln(w, "\n  Dead ends:")
		limit := min(10, len(report.Summary.DeadEnds))
		for _, d := range report.Summary.DeadEnds[:limit] {
			fmt.Fprintf(w, "    %6d  %5.1f%% of %d  %s\n",
				d.RuleID, d.TerminationRate*100, d.Reach, truncTitle(d.Text, 40))
		}
	}
	if len(report.Summary.EntropyTop) > 0 {
		fmt.Fprintln(w, "\n  Most ambiguous nodes (entropy):")
		limit := min(10, len(report.Summary.EntropyTop))
		for _, c := range report.Summary.EntropyTop[:limit] {
			fmt.Fprintf(w, "    %6d  %.2f bits, %d next steps  %s\n",
				c.RuleID, c.EntropyBits, c.BranchingFactor, truncTitle(c.Text, 40))
		}
	}

	if totals.AnomalyEdges > 0 || totals.ParentConflicts > 0 || totals.IDCollisions > 0 || totals.SkippedSources > 0 {
		fmt.Fprintln(w, "\n  DATA QUALITY")
		fmt.Fprintln(w, "  ────────────────────────────────────────")
		fmt.Fprintf(w, "  Undeclared edges: %d  Parent conflicts: %d  Id collisions: %d\n",
			totals.AnomalyEdges, totals.ParentConflicts, totals.IDCollisions)
		fmt.Fprintf(w, "  Skipped sources: %d  Skipped rows: %d  Opaque entries: %d\n",
			totals.SkippedSources, totals.SkippedRecords, totals.OpaqueEntries)
		limit := min(5, len(report.Anomalies))
		for _, a := range report.Anomalies[:limit] {
			fmt.Fprintf(w, "    %d -> %d  (%d calls)\n", a.From, a.To, a.Count)
		}
	}

	fmt.Fprintln(w)
}

func truncID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
