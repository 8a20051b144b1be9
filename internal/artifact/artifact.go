package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/aggregate"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/graph"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

// Aggregated artifact file names
const (
	AllTreeFile  = "button_tree.all.json"
	AllPathsFile = "call_paths.all.json"
)

// TreeFile returns the per-run tree artifact name for a source label
func TreeFile(label string) string { return label + aggregate.TreeSuffix }

// PathsFile returns the per-run path artifact name for a source label
func PathsFile(label string) string { return label + aggregate.PathsSuffix }

// MetricFile returns the file name of a metric artifact
func MetricFile(name string) string { return name + ".json" }

// Encode renders v as indented JSON without HTML escaping
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON encodes v to path, creating parent directories. The file is
// replaced atomically.
func WriteJSON(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the file at path into v
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteRun writes one run's tree and path collection into dir and returns
// the two file paths
func WriteRun(dir, label string, tree []*forest.TreeNode, records []paths.CallPathRecord) (string, string, error) {
	treePath := filepath.Join(dir, TreeFile(label))
	if err := WriteJSON(treePath, tree); err != nil {
		return "", "", err
	}
	raw, err := paths.EncodeRun(records)
	if err != nil {
		return "", "", fmt.Errorf("encode call paths: %w", err)
	}
	pathsPath := filepath.Join(dir, PathsFile(label))
	if err := WriteJSON(pathsPath, json.RawMessage(raw)); err != nil {
		return "", "", err
	}
	return treePath, pathsPath, nil
}

// WriteAggregated writes the merged tree and path index into dir
func WriteAggregated(dir string, tree []*forest.TreeNode, ix *paths.Index) error {
	if err := WriteJSON(filepath.Join(dir, AllTreeFile), tree); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(dir, AllPathsFile), ix)
}

// Aggregated is the merged tree and path index read back from disk
type Aggregated struct {
	Forest        *forest.Forest
	Index         *paths.Index
	OpaqueEntries int
}

// ReadAggregated loads the merged artifacts from dir. A missing path file
// gives an empty index; a missing tree gives an empty forest.
func ReadAggregated(dir string, logger *slog.Logger) (*Aggregated, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var tree []*forest.TreeNode
	if err := ReadJSON(filepath.Join(dir, AllTreeFile), &tree); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	f := forest.Resolve(forest.FromTree(aggregate.AllLabel, tree, logger), logger)

	ix := paths.NewIndex()
	opaque := 0
	data, err := os.ReadFile(filepath.Join(dir, AllPathsFile))
	switch {
	case err == nil:
		ix, opaque, err = paths.DecodeIndex(data, logger)
		if err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	return &Aggregated{Forest: f, Index: ix, OpaqueEntries: opaque}, nil
}

// WriteAnalysis writes every metric artifact into dir and returns the
// written file names
func WriteAnalysis(dir string, report *graph.AnalysisReport) ([]string, error) {
	var names []string
	for _, a := range report.Artifacts() {
		name := MetricFile(a.Name)
		if err := WriteJSON(filepath.Join(dir, name), a.Value); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}
