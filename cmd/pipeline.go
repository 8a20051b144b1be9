package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/config"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/telemetry"
)

// pipeline carries what every stage needs
type pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	out     io.Writer // progress lines
}

func newPipeline(cmd *cobra.Command) *pipeline {
	return &pipeline{cfg: cfg, logger: logger, metrics: metrics, out: cmd.ErrOrStderr()}
}

func (p *pipeline) progress(stage, format string, args ...any) {
	fmt.Fprintf(p.out, "[%s] %s\n", stage, fmt.Sprintf(format, args...))
}

// noInput reports a stage that found nothing to work on; it only fails the
// command under --strict
func (p *pipeline) noInput(stage string, err error) error {
	p.progress(stage, "%v; empty artifacts written", err)
	if strict {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}
