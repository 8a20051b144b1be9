package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/graph"
)

// EnvPrefix is the prefix of environment overrides (CALLTREE_DATA_DIR, ...)
const EnvPrefix = "CALLTREE"

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("invalid config")

// Serve configures the read-only HTTP surface
type Serve struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// Config is the effective configuration
type Config struct {
	DataDir      string `yaml:"data_dir" mapstructure:"data_dir"`
	JSONDir      string `yaml:"json_dir" mapstructure:"json_dir"`
	OutputDir    string `yaml:"output_dir" mapstructure:"output_dir"`
	AnalyticsDir string `yaml:"analytics_dir" mapstructure:"analytics_dir"`
	DB           string `yaml:"db" mapstructure:"db"`

	RootID   int `yaml:"root_id" mapstructure:"root_id"`
	Workers  int `yaml:"workers" mapstructure:"workers"`
	MaxDepth int `yaml:"max_depth" mapstructure:"max_depth"`
	KeepRuns int `yaml:"keep_runs" mapstructure:"keep_runs"`

	BranchTop       int `yaml:"branch_top" mapstructure:"branch_top"`
	DeadEndsTop     int `yaml:"dead_ends_top" mapstructure:"dead_ends_top"`
	URLTop          int `yaml:"url_top" mapstructure:"url_top"`
	AnomaliesTop    int `yaml:"anomalies_top" mapstructure:"anomalies_top"`
	TopPaths        int `yaml:"top_paths" mapstructure:"top_paths"`
	HubThreshold    int `yaml:"hub_threshold" mapstructure:"hub_threshold"`
	HubsTop         int `yaml:"hubs_top" mapstructure:"hubs_top"`
	SummaryIntents  int `yaml:"summary_intents" mapstructure:"summary_intents"`
	SummaryDeadEnds int `yaml:"summary_dead_ends" mapstructure:"summary_dead_ends"`
	SummaryEntropy  int `yaml:"summary_entropy" mapstructure:"summary_entropy"`

	Serve Serve `yaml:"serve" mapstructure:"serve"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	a := graph.DefaultConfig()
	return &Config{
		DataDir:         "data",
		JSONDir:         "json",
		OutputDir:       ".",
		AnalyticsDir:    "analytics",
		DB:              "calltree.db",
		RootID:          a.RootID,
		Workers:         4,
		MaxDepth:        forest.DefaultMaxDepth,
		KeepRuns:        0,
		BranchTop:       a.BranchTop,
		DeadEndsTop:     a.DeadEndsTop,
		URLTop:          a.URLTop,
		AnomaliesTop:    a.AnomaliesTop,
		TopPaths:        a.TopPaths,
		HubThreshold:    a.HubThreshold,
		HubsTop:         a.HubsTop,
		SummaryIntents:  a.SummaryIntent,
		SummaryDeadEnds: a.SummaryDeadEnds,
		SummaryEntropy:  a.SummaryEntropy,
		Serve: Serve{
			Addr:     ":8088",
			CacheTTL: 5 * time.Minute,
		},
	}
}

// SetDefaults registers every key with its default on v and enables
// CALLTREE_* environment overrides
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("json_dir", d.JSONDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("analytics_dir", d.AnalyticsDir)
	v.SetDefault("db", d.DB)
	v.SetDefault("root_id", d.RootID)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("max_depth", d.MaxDepth)
	v.SetDefault("keep_runs", d.KeepRuns)
	v.SetDefault("branch_top", d.BranchTop)
	v.SetDefault("dead_ends_top", d.DeadEndsTop)
	v.SetDefault("url_top", d.URLTop)
	v.SetDefault("anomalies_top", d.AnomaliesTop)
	v.SetDefault("top_paths", d.TopPaths)
	v.SetDefault("hub_threshold", d.HubThreshold)
	v.SetDefault("hubs_top", d.HubsTop)
	v.SetDefault("summary_intents", d.SummaryIntents)
	v.SetDefault("summary_dead_ends", d.SummaryDeadEnds)
	v.SetDefault("summary_entropy", d.SummaryEntropy)
	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("serve.cache_ttl", d.Serve.CacheTTL)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the effective configuration from v
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no command can run with
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalid, c.Workers)
	case c.MaxDepth < 1:
		return fmt.Errorf("%w: max_depth must be >= 1, got %d", ErrInvalid, c.MaxDepth)
	case c.KeepRuns < 0:
		return fmt.Errorf("%w: keep_runs must be >= 0, got %d", ErrInvalid, c.KeepRuns)
	case c.Serve.CacheTTL < 0:
		return fmt.Errorf("%w: serve.cache_ttl must not be negative", ErrInvalid)
	}
	return nil
}

// Analyzer returns the metric parameters
func (c *Config) Analyzer() *graph.AnalyzerConfig {
	return &graph.AnalyzerConfig{
		RootID:          c.RootID,
		BranchTop:       c.BranchTop,
		DeadEndsTop:     c.DeadEndsTop,
		URLTop:          c.URLTop,
		AnomaliesTop:    c.AnomaliesTop,
		TopPaths:        c.TopPaths,
		SummaryIntent:   c.SummaryIntents,
		SummaryDeadEnds: c.SummaryDeadEnds,
		SummaryEntropy:  c.SummaryEntropy,
		HubThreshold:    c.HubThreshold,
		HubsTop:         c.HubsTop,
	}
}

// MarshalYAML writes the cache ttl as a duration string
func (s Serve) MarshalYAML() (any, error) {
	return struct {
		Addr     string `yaml:"addr"`
		CacheTTL string `yaml:"cache_ttl"`
	}{s.Addr, s.CacheTTL.String()}, nil
}

// YAML renders c as a config file body
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ErrExists is returned by WriteDefault when the file is already there
var ErrExists = errors.New("config file already exists")

const fileHeader = `# calltree configuration
#
# Configuration hierarchy (highest to lowest priority):
#   1. CLI flags
#   2. Environment variables (CALLTREE_*, e.g. CALLTREE_SERVE_ADDR)
#   3. This config file
#   4. Built-in defaults

`

// WriteDefault writes a documented default config file to path, creating
// its directory. An existing file is never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	body, err := DefaultConfig().YAML()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, append([]byte(fileHeader), body...), 0o644)
}

// DefaultPath returns $HOME/.calltree/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".calltree", "config.yaml"), nil
}
