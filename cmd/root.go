package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/config"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/telemetry"
)

// Version is overridden at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

var (
	cfgFile string
	verbose bool
	strict  bool

	configErr  error
	configUsed string
	cfg        *config.Config
	logger     = slog.Default()
	metrics    = telemetry.New()
)

var rootCmd = &cobra.Command{
	Use:   "calltree",
	Short: "Call-tree reconstruction, aggregation and path analytics",
	Long: `calltree rebuilds the canonical menu tree of a call-routing system from
call exports, merges many runs into one forest and path index, and computes
traversal analytics over it.

Pipeline: build (CSV -> per-run JSON) -> aggregate (merged tree and paths)
-> analyze (one JSON artifact per metric, persisted to SQLite).`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(cmd.ErrOrStderr(), verbose)
		slog.SetDefault(logger)
		if configErr != nil {
			return configErr
		}
		c, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "calltree %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.calltree/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&strict, "strict", false, "exit non-zero when no valid input is found")
	pf.String("data-dir", "", "directory of CSV call exports")
	pf.String("json-dir", "", "directory of per-run tree and path artifacts")
	pf.String("output-dir", "", "directory of the aggregated artifacts")
	pf.String("analytics-dir", "", "directory of the metric artifacts")
	pf.String("db", "", "SQLite artifact store")
	pf.Int("workers", 0, "parallel readers")
	pf.Int("root-id", 0, "root rule id used for intent extraction")
	pf.Int("max-depth", 0, "tree expansion depth guard")

	for key, flag := range map[string]string{
		"data_dir":      "data-dir",
		"json_dir":      "json-dir",
		"output_dir":    "output-dir",
		"analytics_dir": "analytics-dir",
		"db":            "db",
		"workers":       "workers",
		"root_id":       "root-id",
		"max_depth":     "max-depth",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads the config file, if any. Environment overrides are set
// up by config.SetDefaults.
func initConfig() {
	configErr, configUsed = nil, ""
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		path, err := config.DefaultPath()
		if err != nil {
			return
		}
		viper.SetConfigFile(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || (!errors.As(err, &notFound) && !os.IsNotExist(err)) {
			configErr = fmt.Errorf("reading config: %w", err)
		}
		return
	}
	configUsed = viper.ConfigFileUsed()
	if verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", configUsed)
	}
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
