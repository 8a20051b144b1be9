package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/graph"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/server"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/store"
)

const sampleCSV = `call_id,call_date,rule_id,rule_parent_id,rule_text,popUpURL
1,01/02/2024,1,NULL,Start,
1,01/02/2024,2,1,Billing,http://billing
2,01/03/2024,1,NULL,Start,
2,01/03/2024,3,1,Support,NULL
3,,1,NULL,Start,
`

type dirs struct {
	data, json, output, analytics, db string
}

func newDirs(t *testing.T) dirs {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	d := dirs{
		data:      filepath.Join(root, "data"),
		json:      filepath.Join(root, "json"),
		output:    filepath.Join(root, "out"),
		analytics: filepath.Join(root, "analytics"),
		db:        filepath.Join(root, "calltree.db"),
	}
	if err := os.MkdirAll(d.data, 0o755); err != nil {
		t.Fatal(err)
	}
	return d
}

func (d dirs) args(extra ...string) []string {
	return append(extra,
		"--data-dir", d.data,
		"--json-dir", d.json,
		"--output-dir", d.output,
		"--analytics-dir", d.analytics,
		"--db", d.db,
	)
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRun_Pipeline(t *testing.T) {
	d := newDirs(t)
	if err := os.WriteFile(filepath.Join(d.data, "jan.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := execute(t, d.args("run")...)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, stderr)
	}

	for _, path := range []string{
		filepath.Join(d.json, "jan.button_tree.json"),
		filepath.Join(d.json, "jan.call_paths.json"),
		filepath.Join(d.output, "button_tree.all.json"),
		filepath.Join(d.output, "call_paths.all.json"),
		filepath.Join(d.output, "aggregate_report.json"),
		filepath.Join(d.analytics, "summary.json"),
		filepath.Join(d.analytics, "branch_distribution.top10.json"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}
	if !strings.Contains(stderr, "[build] jan: 5 rows, 3 nodes, 3 calls") {
		t.Errorf("expected build progress line, got:\n%s", stderr)
	}
	if !strings.Contains(stdout, "Calls: 3") {
		t.Errorf("expected report on stdout, got:\n%s", stdout)
	}

	db, err := store.OpenDB(d.db)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	run, err := db.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.NodeCount != 3 || run.PathCount != 3 {
		t.Errorf("expected 3 nodes and 3 paths, got %d and %d", run.NodeCount, run.PathCount)
	}
	if len(run.Sources) != 1 || run.Sources[0] != "jan" {
		t.Errorf("expected sources [jan], got %v", run.Sources)
	}
	if _, err := db.LoadArtifact(ctx, run.ID, server.TreeArtifact); err != nil {
		t.Errorf("expected tree artifact: %v", err)
	}
	if _, err := db.LoadArtifact(ctx, run.ID, "summary"); err != nil {
		t.Errorf("expected summary artifact: %v", err)
	}
}

// rule 2 is declared under 1 and later under the root; one row has no usable id
const conflictCSV = `call_id,call_date,rule_id,rule_parent_id,rule_text,popUpURL
1,01/02/2024,1,NULL,Start,
1,01/02/2024,2,1,Billing,
2,01/03/2024,1,NULL,Start,
2,01/03/2024,2,NULL,Billing,
2,01/03/2024,oops,1,Broken,
`

func readJSONFile(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
}

func TestRun_DataQualityTotals(t *testing.T) {
	d := newDirs(t)
	t.Cleanup(func() { analyzeQuiet, analyzeNoStore = false, false })
	if err := os.WriteFile(filepath.Join(d.data, "jan.csv"), []byte(conflictCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d.data, "bad.csv"), []byte("call_id,rule_text\n1,Start\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := execute(t, d.args("run", "--no-store", "-q")...)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, stderr)
	}
	if !strings.Contains(stderr, "[build] jan: 5 rows, 2 nodes, 2 calls, 1 skipped, 1 conflicts") {
		t.Errorf("expected build progress line, got:\n%s", stderr)
	}

	var summary graph.Summary
	readJSONFile(t, filepath.Join(d.analytics, "summary.json"), &summary)
	totals := summary.Totals
	if totals.ParentConflicts != 1 {
		t.Errorf("expected 1 parent conflict, got %d", totals.ParentConflicts)
	}
	if totals.SkippedRecords != 1 {
		t.Errorf("expected 1 skipped record, got %d", totals.SkippedRecords)
	}
	if totals.SkippedSources != 1 {
		t.Errorf("expected 1 skipped source, got %d", totals.SkippedSources)
	}
	if totals.Roots != 1 {
		t.Errorf("expected the declared parent to survive aggregation, got %d roots", totals.Roots)
	}

	var tree []*forest.TreeNode
	readJSONFile(t, filepath.Join(d.output, "button_tree.all.json"), &tree)
	if len(tree) != 1 || tree[0].RuleID != 1 || len(tree[0].Children) != 1 {
		t.Fatalf("expected 2 under 1, got %+v", tree)
	}
	if c := tree[0].Children[0]; c.RuleID != 2 || c.ParentID == nil || *c.ParentID != 1 {
		t.Errorf("expected node 2 with parent 1, got %+v", c)
	}
}

func TestRun_NoInput(t *testing.T) {
	d := newDirs(t)
	t.Cleanup(func() { strict = false })

	_, stderr, err := execute(t, d.args("run", "--no-store", "-q")...)
	if err != nil {
		t.Fatalf("expected no error without --strict, got %v", err)
	}
	if !strings.Contains(stderr, "no valid input") {
		t.Errorf("expected no-input notice, got:\n%s", stderr)
	}
	if _, err := os.Stat(filepath.Join(d.analytics, "summary.json")); err != nil {
		t.Errorf("expected empty artifacts to be written: %v", err)
	}

	if _, _, err := execute(t, d.args("run", "--no-store", "-q", "--strict")...); err == nil {
		t.Error("expected an error with --strict")
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if stdout != "calltree dev\n" {
		t.Errorf("expected version line, got %q", stdout)
	}
}

func TestTruncTitle(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer title", 6, "a long..."},
		{"שלום עולם", 3, "ש..."},
	}
	for _, tt := range tests {
		if got := truncTitle(tt.in, tt.max); got != tt.want {
			t.Errorf("truncTitle(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
