package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

// Per-run artifact suffixes
const (
	TreeSuffix  = ".button_tree.json"
	PathsSuffix = ".call_paths.json"
	BuildSuffix = ".build_report.json"
)

// BuildFailuresFile lists the CSV exports the last build could not read
const BuildFailuresFile = "build_failures.json"

// BuildReport is what building one run learned from its CSV. The tree
// artifact cannot carry it: skipped rows leave no node behind and a conflict
// is only visible as the losing link.
type BuildReport struct {
	Label          string            `json:"label"`
	Rows           int               `json:"rows"`
	SkippedRecords int               `json:"skipped_records"`
	Conflicts      []forest.Conflict `json:"conflicts"`
}

// SourceFailure describes a per-run file that was skipped
type SourceFailure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// LoadReport is the outcome of loading a directory of per-run artifacts
type LoadReport struct {
	Sources  []Source
	Failures []SourceFailure
	// BuildFailures are the CSV exports that never produced artifacts
	BuildFailures []SourceFailure
}

// Skipped returns the number of unreadable files
func (r *LoadReport) Skipped() int { return len(r.Failures) }

type loaded struct {
	label    string
	registry *forest.Registry
	records  []paths.CallPathRecord
	build    *BuildReport
	err      error
}

// LoadDir reads every per-run tree and path artifact in dir using up to
// workers concurrent readers. A file that cannot be read or decoded is
// recorded as a failure and skipped; it never aborts the load.
func LoadDir(ctx context.Context, dir string, workers int, logger *slog.Logger) (*LoadReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading source dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, TreeSuffix) || strings.HasSuffix(name, PathsSuffix) || strings.HasSuffix(name, BuildSuffix) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)

	results := make([]loaded, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = loadFile(path, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &LoadReport{BuildFailures: []SourceFailure{}}
	if err := readJSON(filepath.Join(dir, BuildFailuresFile), &report.BuildFailures); err != nil && !os.IsNotExist(err) {
		logger.Warn("skipping build failures", "dir", dir, "err", err)
		report.BuildFailures = []SourceFailure{}
		report.Failures = append(report.Failures, SourceFailure{Path: filepath.Join(dir, BuildFailuresFile), Err: err.Error()})
	}
	byLabel := make(map[string]*Source)
	var labels []string
	for i, res := range results {
		if res.err != nil {
			logger.Warn("skipping source", "path", files[i], "err", res.err)
			report.Failures = append(report.Failures, SourceFailure{Path: files[i], Err: res.err.Error()})
			continue
		}
		src, ok := byLabel[res.label]
		if !ok {
			src = &Source{Label: res.label}
			byLabel[res.label] = src
			labels = append(labels, res.label)
		}
		if res.registry != nil {
			src.Registry = res.registry
		}
		if res.records != nil {
			src.Records = res.records
		}
		if res.build != nil {
			src.Build = res.build
		}
	}
	sort.Strings(labels)
	for _, l := range labels {
		report.Sources = append(report.Sources, *byLabel[l])
	}
	return report, nil
}

func loadFile(path string, logger *slog.Logger) loaded {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return loaded{err: fmt.Errorf("%w: %v", ErrUnreadableSource, err)}
	}

	if label, ok := strings.CutSuffix(name, TreeSuffix); ok {
		var roots []*forest.TreeNode
		if err := json.Unmarshal(data, &roots); err != nil {
			return loaded{err: fmt.Errorf("%w: decoding tree: %v", ErrUnreadableSource, err)}
		}
		return loaded{label: label, registry: forest.FromTree(label, roots, logger)}
	}

	if label, ok := strings.CutSuffix(name, BuildSuffix); ok {
		build := &BuildReport{}
		if err := json.Unmarshal(data, build); err != nil {
			return loaded{err: fmt.Errorf("%w: decoding build report: %v", ErrUnreadableSource, err)}
		}
		return loaded{label: label, build: build}
	}

	label := strings.TrimSuffix(name, PathsSuffix)
	records, _, err := paths.DecodeRun(label, data, logger)
	if err != nil {
		return loaded{err: fmt.Errorf("%w: %v", ErrUnreadableSource, err)}
	}
	if records == nil {
		records = []paths.CallPathRecord{}
	}
	return loaded{label: label, records: records}
}

// AggregateDir loads dir and aggregates everything that could be read
func AggregateDir(ctx context.Context, dir string, workers int, logger *slog.Logger) (*Result, *LoadReport, error) {
	report, err := LoadDir(ctx, dir, workers, logger)
	if err != nil {
		return nil, nil, err
	}
	res, err := Aggregate(report.Sources, logger)
	res.SkippedSources = report.Skipped() + len(report.BuildFailures)
	return res, report, err
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return nil
}
