package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/aggregate"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run build, aggregate and analyze in sequence",
	Long: `Runs the whole pipeline: CSV exports in data_dir are built into per-run
artifacts in json_dir, merged into output_dir, analysed into analytics_dir and
stored in the artifact store. Each stage starts when the previous one has
written all of its artifacts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPipeline(cmd)
		ctx := cmd.Context()

		built, err := p.build(ctx)
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}

		_, err = p.aggregate(ctx)
		switch {
		case errors.Is(err, aggregate.ErrNoValidInput):
			if err := p.noInput("aggregate", err); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("aggregate: %w", err)
		}

		report, run, err := p.analyze(ctx)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		p.progress("run", "%d run(s) built, %d skipped", len(built.Runs), len(built.Failures))
		return p.printReport(cmd.OutOrStdout(), report, run)
	},
}

func init() {
	runCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the summary as JSON")
	runCmd.Flags().BoolVar(&analyzeNoStore, "no-store", false, "do not persist the run to the artifact store")
	runCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false, "no report on stdout")
	rootCmd.AddCommand(runCmd)
}
