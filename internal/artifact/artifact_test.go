package artifact

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/aggregate"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/graph"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRun() ([]*forest.TreeNode, []paths.CallPathRecord) {
	r := forest.NewRegistry("jan", quietLogger())
	r.Observe(forest.Observation{RuleID: 1, ParentID: 0, Text: "Start"})
	r.Observe(forest.Observation{RuleID: 2, ParentID: 1, Text: "Billing & Payments"})
	wd := 1
	records := []paths.CallPathRecord{
		{Source: "jan", CallID: "10", Weekday: &wd, Steps: []paths.PathStep{{RuleID: 1}, {RuleID: 2}}},
		{Source: "jan", CallID: "9", Steps: []paths.PathStep{{RuleID: 1}}},
	}
	return forest.Build(r, 0, quietLogger()), records
}

func TestEncode_IndentedNoHTMLEscape(t *testing.T) {
	data, err := Encode(map[string]string{"text": "a & b"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"text\": \"a & b\"\n}\n", string(data))
}

func TestWriteRun_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	tree, records := sampleRun()

	treePath, pathsPath, err := WriteRun(dir, "jan", tree, records)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "jan.button_tree.json"), treePath)
	assert.Equal(t, filepath.Join(dir, "jan.call_paths.json"), pathsPath)

	var back []*forest.TreeNode
	require.NoError(t, ReadJSON(treePath, &back))
	require.Len(t, back, 1)
	assert.Equal(t, "Billing & Payments", back[0].Children[0].Text)

	raw, err := os.ReadFile(pathsPath)
	require.NoError(t, err)
	// call ids keep the order they were given in
	assert.Less(t, strings.Index(string(raw), `"10"`), strings.Index(string(raw), `"9"`))

	decoded, _, err := paths.DecodeRun("jan", raw, quietLogger())
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, []int{1}, decoded[0].RuleIDs())
	assert.Equal(t, "9", decoded[0].CallID)

	_, err = os.Stat(treePath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestAggregated_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	tree, records := sampleRun()
	ix := paths.NewIndex()
	for _, rec := range records {
		ix.Put(rec)
	}
	require.NoError(t, WriteAggregated(dir, tree, ix))

	agg, err := ReadAggregated(dir, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, len(agg.Forest.Nodes))
	assert.True(t, agg.Forest.HasEdge(1, 2))
	assert.Equal(t, []string{"jan::10", "jan::9"}, agg.Index.Keys())
	assert.Zero(t, agg.OpaqueEntries)
}

func TestReadAggregated_Missing(t *testing.T) {
	agg, err := ReadAggregated(t.TempDir(), quietLogger())
	require.NoError(t, err)
	assert.Empty(t, agg.Forest.Nodes)
	assert.Zero(t, agg.Index.Len())
}

func TestReadJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	var v any
	assert.Error(t, ReadJSON(path, &v))
}

func TestWriteAnalysis(t *testing.T) {
	dir := t.TempDir()
	tree, records := sampleRun()
	ix := paths.NewIndex()
	for _, rec := range records {
		ix.Put(rec)
	}
	f := forest.Resolve(forest.FromTree("all", tree, quietLogger()), quietLogger())
	report := graph.Analyze(graph.NewSnapshot(f, ix), nil, graph.PipelineStats{})

	names, err := WriteAnalysis(dir, report)
	require.NoError(t, err)
	assert.Contains(t, names, "summary.json")
	assert.Contains(t, names, "branch_distribution.top10.json")
	assert.Len(t, names, len(report.Artifacts()))

	var summary map[string]json.RawMessage
	require.NoError(t, ReadJSON(filepath.Join(dir, "summary.json"), &summary))
	assert.Contains(t, summary, "totals")
	assert.Contains(t, summary, "lengths_summary")
}

func TestMergeReport_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	empty, err := ReadMergeReport(dir)
	require.NoError(t, err)
	assert.Equal(t, graph.PipelineStats{}, empty.Stats())
	assert.NotNil(t, empty.Conflicts)

	res := &aggregate.Result{
		Sources:        []string{"feb", "jan"},
		Conflicts:      []forest.Conflict{{RuleID: 4, FirstParent: 1, SeenParent: 2, Source: "jan"}},
		Collisions:     []aggregate.IDCollision{{RuleID: 4, FirstSource: "feb", FirstParent: 1, Source: "jan", Parent: 2}},
		SkippedRecords: 3,
		OpaqueEntries:  1,
	}
	load := &aggregate.LoadReport{Failures: []aggregate.SourceFailure{{Path: "bad.call_paths.json", Err: "eof"}}}
	require.NoError(t, WriteMergeReport(dir, NewMergeReport(res, load)))

	got, err := ReadMergeReport(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"feb", "jan"}, got.Sources)
	assert.Equal(t, graph.PipelineStats{
		ParentConflicts: 1,
		IDCollisions:    1,
		SkippedSources:  1,
		SkippedRecords:  3,
		OpaqueEntries:   1,
	}, got.Stats())
}

func TestBuildReport_FeedsMergeReport(t *testing.T) {
	dir := t.TempDir()
	r := forest.NewRegistry("jan", quietLogger())
	r.Observe(forest.Observation{RuleID: 1, ParentID: 0, Text: "A"})
	r.Observe(forest.Observation{RuleID: 5, ParentID: 0, Text: "Z"})
	r.Observe(forest.Observation{RuleID: 5, ParentID: 1, Text: "Z"})
	require.Error(t, r.ObserveRaw(forest.RawObservation{RuleID: "", Text: "blank"}))

	_, _, err := WriteRun(dir, "jan", forest.Build(r, 0, quietLogger()), nil)
	require.NoError(t, err)
	require.NoError(t, WriteBuildReport(dir, &aggregate.BuildReport{
		Label:          "jan",
		Rows:           4,
		SkippedRecords: r.Skipped(),
		Conflicts:      r.Conflicts(),
	}))
	require.NoError(t, WriteBuildFailures(dir, []aggregate.SourceFailure{{Path: "bad.csv", Err: "missing column"}}))
	assert.FileExists(t, filepath.Join(dir, "jan.build_report.json"))

	res, load, err := aggregate.AggregateDir(context.Background(), dir, 2, quietLogger())
	require.NoError(t, err)
	m := NewMergeReport(res, load)
	assert.Equal(t, graph.PipelineStats{
		ParentConflicts: 1,
		SkippedSources:  1,
		SkippedRecords:  1,
	}, m.Stats())
	assert.Equal(t, []int{1, 5}, res.Forest.Roots)
}

func TestWriteBuildFailures_Empty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteBuildFailures(dir, nil))
	var got []aggregate.SourceFailure
	require.NoError(t, ReadJSON(filepath.Join(dir, aggregate.BuildFailuresFile), &got))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
