package graph

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

type node struct {
	id, parent int
	text       string
}

func makeForest(nodes ...node) *forest.Forest {
	r := forest.NewRegistry("test", quietLogger())
	for _, n := range nodes {
		r.Observe(forest.Observation{RuleID: n.id, ParentID: n.parent, Text: n.text})
	}
	return forest.Resolve(r, quietLogger())
}

func makeIndex(seqs ...[]int) *paths.Index {
	ix := paths.NewIndex()
	for i, seq := range seqs {
		rec := paths.CallPathRecord{Source: "test", CallID: strconv.Itoa(i + 1)}
		for _, id := range seq {
			rec.Steps = append(rec.Steps, paths.PathStep{RuleID: id})
		}
		ix.Put(rec)
	}
	return ix
}

// quickSnapshot is the Start/Billing/Support tree with paths [1,2] [1,2] [1,3]
func quickSnapshot() *Snapshot {
	f := makeForest(
		node{1, 0, "Start"},
		node{2, 1, "Billing"},
		node{3, 1, "Support"},
	)
	return NewSnapshot(f, makeIndex([]int{1, 2}, []int{1, 2}, []int{1, 3}))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

// --- Scenario: Start/Billing/Support ---

func TestScenario_LeafFrequency(t *testing.T) {
	leaves := ComputeLeafFrequency(quickSnapshot())
	if len(leaves) != 2 || leaves[0].RuleID != 2 || leaves[0].Count != 2 || leaves[1].RuleID != 3 || leaves[1].Count != 1 {
		t.Errorf("expected leaves {2:2, 3:1}, got %+v", leaves)
	}
	if leaves[0].Text != "Billing" {
		t.Errorf("leaf rows should carry canonical text, got %q", leaves[0].Text)
	}
}

func TestScenario_BranchDistribution(t *testing.T) {
	got := mustJSON(t, ComputeBranchDistribution(quickSnapshot(), 10))
	want := `{"1":[{"child":2,"count":2,"text":"Billing"},{"child":3,"count":1,"text":"Support"}]}`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestScenario_Entropy(t *testing.T) {
	e := ComputeEntropy(quickSnapshot())
	c, ok := e[1]
	if !ok {
		t.Fatal("node 1 should have an entropy entry")
	}
	if !approx(c.EntropyBits, 0.918) {
		t.Errorf("expected entropy ~0.918, got %f", c.EntropyBits)
	}
	if c.BranchingFactor != 2 || !approx(c.Perplexity, math.Pow(2, c.EntropyBits)) {
		t.Errorf("unexpected complexity %+v", c)
	}
	if _, ok := e[2]; ok {
		t.Error("nodes without outgoing transitions have no entry")
	}
}

func TestScenario_DeadEnds(t *testing.T) {
	de := ComputeDeadEnds(quickSnapshot(), 0)
	if len(de) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(de))
	}
	if de[0].RuleID != 2 || de[0].TerminationRate != 1.0 || de[0].Reach != 2 || de[0].Terminations != 2 {
		t.Errorf("expected node 2 first with rate 1.0 reach 2, got %+v", de[0])
	}
	if de[1].RuleID != 3 || de[2].RuleID != 1 {
		t.Errorf("expected order 2,3,1, got %d,%d,%d", de[0].RuleID, de[1].RuleID, de[2].RuleID)
	}
	if de[2].TerminationRate != 0 || !de[2].HasChildren || de[0].HasChildren {
		t.Errorf("unexpected root row %+v", de[2])
	}
}

func TestScenario_Coverage(t *testing.T) {
	c := ComputeCoverage(quickSnapshot())[1]
	if !approx(c.Top1, 0.667) || c.Top2 != 1.0 {
		t.Errorf("expected top1 ~0.667 top2 1.0, got %+v", c)
	}
}

func TestScenario_IntentsAndLengths(t *testing.T) {
	snap := quickSnapshot()
	intents := ComputeTopIntents(snap, 1)
	if len(intents) != 2 || intents[0].RuleID != 2 || intents[0].Count != 2 {
		t.Errorf("unexpected intents %+v", intents)
	}
	l := ComputeLengths(snap)
	if l.Count != 3 || l.Avg != 2 || l.Median != 2 || l.Min != 2 || l.Max != 2 {
		t.Errorf("unexpected lengths %+v", l)
	}
	if got := mustJSON(t, ComputeDepthFunnel(snap)); got != `{"1":3,"2":3}` {
		t.Errorf("unexpected depth funnel %s", got)
	}
	top := ComputeTopPaths(snap, 10)
	if len(top) != 2 || top[0].Count != 2 || mustJSON(t, top[0].Path) != "[1,2]" {
		t.Errorf("unexpected top paths %+v", top)
	}
}

func TestIntent_RootHandling(t *testing.T) {
	tests := []struct {
		seq  []int
		want int
		ok   bool
	}{
		{nil, 0, false},
		{[]int{1}, 1, true},
		{[]int{1, 4}, 4, true},
		{[]int{7, 4}, 7, true},
	}
	for _, tt := range tests {
		got, ok := Intent(tt.seq, 1)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Intent(%v): expected %d/%v, got %d/%v", tt.seq, tt.want, tt.ok, got, ok)
		}
	}
}

// --- Structure ---

func TestAnomalies_UndeclaredEdge(t *testing.T) {
	f := makeForest(node{1, 0, "Start"}, node{2, 1, "Billing"}, node{5, 0, "Other"})
	snap := NewSnapshot(f, makeIndex([]int{1, 2, 5}))
	got := mustJSON(t, ComputeAnomalies(snap, 200))
	if got != `[{"from":2,"to":5,"count":1}]` {
		t.Errorf("expected one anomaly (2,5), got %s", got)
	}
}

func TestDuplicates_NormalizedText(t *testing.T) {
	f := makeForest(
		node{1, 0, "Start"},
		node{2, 1, " Billing  menu"},
		node{4, 1, "Billing menu"},
		node{5, 1, ""},
		node{6, 1, ""},
	)
	got := mustJSON(t, ComputeDuplicates(NewSnapshot(f, nil)))
	if got != `{"Billing menu":[2,4]}` {
		t.Errorf("unexpected duplicate groups %s", got)
	}
}

func TestTopology_Shape(t *testing.T) {
	r := ComputeTopology(quickSnapshot(), 1, 10)
	if r.TotalNodes != 3 || r.TotalEdges != 2 || r.Roots != 1 || r.Leaves != 2 || r.MaxDepth != 2 {
		t.Errorf("unexpected topology %+v", r)
	}
	if len(r.Hubs) != 1 || r.Hubs[0].RuleID != 1 || r.Hubs[0].Reach != 3 {
		t.Errorf("expected node 1 as the only hub, got %+v", r.Hubs)
	}
	if r.DegreeHistogram[0].Count != 2 || r.DegreeHistogram[2].Count != 1 {
		t.Errorf("unexpected histogram %+v", r.DegreeHistogram)
	}
}

func TestAnalyze_HubsLimitedByHubsTop(t *testing.T) {
	f := makeForest(
		node{1, 0, "Start"},
		node{2, 1, "Billing"},
		node{3, 1, "Support"},
		node{4, 2, "Pay"},
		node{5, 2, "Dispute"},
	)
	config := DefaultConfig()
	config.HubThreshold = 1
	config.HubsTop = 1
	report := Analyze(NewSnapshot(f, paths.NewIndex()), config, PipelineStats{})
	if len(report.Topology.Hubs) != 1 || report.Topology.Hubs[0].RuleID != 1 {
		t.Errorf("expected hub 1 alone, got %+v", report.Topology.Hubs)
	}

	config.HubsTop = 0
	report = Analyze(NewSnapshot(f, paths.NewIndex()), config, PipelineStats{})
	if len(report.Topology.Hubs) != 2 {
		t.Errorf("expected both hubs without a limit, got %+v", report.Topology.Hubs)
	}
}

func TestTopology_EmptyForest(t *testing.T) {
	r := ComputeTopology(NewSnapshot(nil, nil), 4, 10)
	if r.TotalNodes != 0 || r.MaxDepth != 0 || len(r.DegreeHistogram) != 7 {
		t.Errorf("empty forest should have all zeros, got %+v", r)
	}
}

// --- Empty input ---

func TestEmptyIndex_NeutralMetrics(t *testing.T) {
	f := makeForest(node{1, 0, "Start"}, node{2, 1, "Billing"}, node{3, 1, "Support"})
	report := Analyze(NewSnapshot(f, paths.NewIndex()), nil, PipelineStats{})

	if *report.Lengths != (LengthSummary{}) {
		t.Errorf("expected zero length summary, got %+v", report.Lengths)
	}
	for _, a := range report.Artifacts() {
		b, err := json.Marshal(a.Value)
		if err != nil {
			t.Fatalf("%s: %v", a.Name, err)
		}
		if string(b) == "null" {
			t.Errorf("%s should serialize to an empty structure, got null", a.Name)
		}
	}
	if len(report.Unreachable) != 3 {
		t.Errorf("expected every node unreachable, got %+v", report.Unreachable)
	}
	if len(report.TopIntents) != 0 || len(report.DepthFunnel) != 0 || len(report.Anomalies) != 0 {
		t.Error("path-derived metrics should be empty")
	}
	if report.Summary.Totals.Nodes != 3 || report.Summary.Totals.Unreachable != 3 {
		t.Errorf("unexpected totals %+v", report.Summary.Totals)
	}
}

func TestEntropy_EmptyDistribution(t *testing.T) {
	c := Entropy(nil)
	if c.EntropyBits != 0 || c.Perplexity != 1 || c.BranchingFactor != 0 {
		t.Errorf("expected {0 1 0}, got %+v", c)
	}
}

func TestWeekdayTrends_NullLast(t *testing.T) {
	ix := paths.NewIndex()
	ix.Put(paths.CallPathRecord{Source: "s", CallID: "1", Weekday: intPtr(3)})
	ix.Put(paths.CallPathRecord{Source: "s", CallID: "2"})
	ix.Put(paths.CallPathRecord{Source: "s", CallID: "3", Weekday: intPtr(1)})
	got := mustJSON(t, ComputeWeekdayTrends(NewSnapshot(nil, ix)))
	if got != `{"1":1,"3":1,"null":1}` {
		t.Errorf("unexpected weekday volume %s", got)
	}
}

func TestURLEngagement_TieBreak(t *testing.T) {
	ix := paths.NewIndex()
	ix.Put(paths.CallPathRecord{Source: "s", CallID: "1", Steps: []paths.PathStep{
		{RuleID: 1, URL: strPtr("http://b")},
		{RuleID: 2, URL: strPtr("http://a")},
		{RuleID: 3, URL: strPtr("")},
		{RuleID: 4},
	}})
	got := ComputeURLEngagement(NewSnapshot(nil, ix), 200)
	if len(got) != 2 || got[0].URL != "http://a" || got[1].URL != "http://b" {
		t.Errorf("expected urls ordered a,b with empties dropped, got %+v", got)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	vals := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want int
	}{
		{0.5, 5}, {0.9, 9}, {0.95, 10}, {0, 1}, {1, 10},
	}
	for _, tt := range tests {
		if got := Percentile(vals, tt.p); got != tt.want {
			t.Errorf("p%.2f: expected %d, got %d", tt.p, tt.want, got)
		}
	}
	if Percentile(nil, 0.5) != 0 {
		t.Error("empty input should give 0")
	}
}

// --- Properties ---

func randomSnapshot(seed int64) *Snapshot {
	rng := rand.New(rand.NewSource(seed))
	nodes := []node{{1, 0, "Start"}}
	for id := 2; id <= 20; id++ {
		nodes = append(nodes, node{id, 1 + rng.Intn(id-1), "n" + strconv.Itoa(id)})
	}
	var seqs [][]int
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(6)
		seq := make([]int, n)
		for j := range seq {
			seq[j] = 1 + rng.Intn(22)
		}
		seqs = append(seqs, seq)
	}
	return NewSnapshot(makeForest(nodes...), makeIndex(seqs...))
}

func TestProperties_EntropyBound(t *testing.T) {
	snap := randomSnapshot(7)
	for id, c := range ComputeEntropy(snap) {
		if c.EntropyBits < 0 || c.EntropyBits > math.Log2(float64(c.BranchingFactor))+1e-9 {
			t.Errorf("node %d: entropy %f outside [0, log2(%d)]", id, c.EntropyBits, c.BranchingFactor)
		}
		if math.Abs(c.Perplexity-math.Pow(2, c.EntropyBits)) > 1e-9 {
			t.Errorf("node %d: perplexity %f != 2^%f", id, c.Perplexity, c.EntropyBits)
		}
	}
}

func TestProperties_Funnels(t *testing.T) {
	snap := randomSnapshot(11)
	depth := ComputeDepthFunnel(snap)
	prev := len(snap.Sequences)
	for _, d := range depth.IDs() {
		if depth[d] > prev {
			t.Errorf("depth funnel increases at %d: %d > %d", d, depth[d], prev)
		}
		prev = depth[d]
	}
	for id, row := range ComputeNodeFunnel(snap) {
		if row.Reach != row.Transitions+row.DropOff {
			t.Errorf("node %d: reach %d != %d + %d", id, row.Reach, row.Transitions, row.DropOff)
		}
	}
}

func TestProperties_Deterministic(t *testing.T) {
	a := Analyze(randomSnapshot(3), nil, PipelineStats{})
	b := Analyze(randomSnapshot(3), nil, PipelineStats{})
	for i, art := range a.Artifacts() {
		if mustJSON(t, art.Value) != mustJSON(t, b.Artifacts()[i].Value) {
			t.Errorf("%s differs between identical runs", art.Name)
		}
	}
}

func TestSummary_Totals(t *testing.T) {
	stats := PipelineStats{ParentConflicts: 2, IDCollisions: 1, SkippedSources: 3}
	s := Analyze(quickSnapshot(), DefaultConfig(), stats).Summary
	if s.Totals.Paths != 3 || s.Totals.DistinctPaths != 2 || s.Totals.Roots != 1 {
		t.Errorf("unexpected totals %+v", s.Totals)
	}
	if s.Totals.ParentConflicts != 2 || s.Totals.SkippedSources != 3 {
		t.Errorf("pipeline stats should land in totals, got %+v", s.Totals)
	}
	if len(s.EntropyTop) != 1 || s.EntropyTop[0].RuleID != 1 || s.EntropyTop[0].Outgoing != 3 {
		t.Errorf("unexpected entropy ranking %+v", s.EntropyTop)
	}
}
