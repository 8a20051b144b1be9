package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/server"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/store"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored analytics over a read-only HTTP API",
	Long: `Serves the latest stored run:

  GET /api/runs            stored runs, newest first (?limit=)
  GET /api/runs/latest     the latest run
  GET /api/artifacts       artifact names of the latest run
  GET /api/artifacts/{name} one artifact body
  GET /api/tree            the merged tree
  GET /api/nodes?q=        nodes whose text contains every term
  GET /healthz
  GET /metrics

calltree_store_latest_run reports the latest stored run. The
calltree_pipeline_* series only count work done by this process, which
for serve is none.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := store.OpenDB(cfg.DB)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stored := prometheus.NewRegistry()
		stored.MustRegister(telemetry.NewStoreCollector(d.LatestRun))
		srv := server.New(d, server.Options{
			CacheTTL: cfg.Serve.CacheTTL,
			Gatherer: prometheus.Gatherers{metrics.Registry, stored, prometheus.DefaultGatherer},
			Logger:   logger,
		})
		return srv.ListenAndServe(ctx, cfg.Serve.Addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().Duration("cache-ttl", 0, "artifact cache ttl")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("serve.cache_ttl", serveCmd.Flags().Lookup("cache-ttl"))
	rootCmd.AddCommand(serveCmd)
}
