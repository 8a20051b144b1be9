package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/store"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/telemetry"
)

// countingStore counts artifact loads
type countingStore struct {
	*store.DB
	loads int
}

func (c *countingStore) LoadArtifact(ctx context.Context, runID, name string) ([]byte, error) {
	c.loads++
	return c.DB.LoadArtifact(ctx, runID, name)
}

func setupStore(t *testing.T, withRun bool) *countingStore {
	t.Helper()
	d, err := store.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	if withRun {
		_, err := d.SaveRun(context.Background(), store.RunInput{
			Sources: []string{"jan"},
			Nodes: []*forest.RuleNode{
				{ID: 1, Text: "Start"},
				{ID: 2, ParentID: 1, Text: "Billing menu"},
				{ID: 3, ParentID: 1, Text: "Support"},
			},
			Artifacts: []store.Blob{
				{Name: "summary", Body: []byte(`{"totals":{"total_nodes":3}}`)},
				{Name: TreeArtifact, Body: []byte(`[{"rule_id":1,"children":[]}]`)},
			},
		})
		require.NoError(t, err)
	}
	return &countingStore{DB: d}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New(setupStore(t, false), Options{})
	rec := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNoRuns(t *testing.T) {
	s := New(setupStore(t, false), Options{})
	for _, target := range []string{"/api/runs/latest", "/api/artifacts", "/api/artifacts/summary", "/api/tree", "/api/nodes?q=x"} {
		rec := get(t, s.Handler(), target)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "error", target)
	}

	rec := get(t, s.Handler(), "/api/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestArtifacts(t *testing.T) {
	st := setupStore(t, true)
	s := New(st, Options{})

	rec := get(t, s.Handler(), "/api/artifacts")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		RunID     string   `json:"run_id"`
		Artifacts []string `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing.RunID, 36)
	assert.Equal(t, []string{TreeArtifact, "summary"}, listing.Artifacts)

	rec = get(t, s.Handler(), "/api/artifacts/summary.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, listing.RunID, rec.Header().Get("X-Run-ID"))
	assert.JSONEq(t, `{"totals":{"total_nodes":3}}`, rec.Body.String())

	rec = get(t, s.Handler(), "/api/artifacts/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtifactCache(t *testing.T) {
	st := setupStore(t, true)
	s := New(st, Options{})

	for range 3 {
		rec := get(t, s.Handler(), "/api/artifacts/summary")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, st.loads)

	get(t, s.Handler(), "/api/tree")
	get(t, s.Handler(), "/api/tree")
	assert.Equal(t, 2, st.loads)
}

func TestTree(t *testing.T) {
	s := New(setupStore(t, true), Options{})
	rec := get(t, s.Handler(), "/api/tree")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"rule_id":1,"children":[]}]`, rec.Body.String())
}

func TestRuns(t *testing.T) {
	s := New(setupStore(t, true), Options{})

	rec := get(t, s.Handler(), "/api/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, []string{"jan"}, run.Sources)
	assert.Equal(t, 3, run.NodeCount)

	rec = get(t, s.Handler(), "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestNodes(t *testing.T) {
	s := New(setupStore(t, true), Options{})
	rec := get(t, s.Handler(), "/api/nodes?q=billing")
	require.Equal(t, http.StatusOK, rec.Code)

	var nodes []store.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, 2, nodes[0].RuleID)
}

func TestMetricsEndpoint(t *testing.T) {
	m := telemetry.New()
	m.RecordBuild(2, 1)
	s := New(setupStore(t, false), Options{Gatherer: m.Registry})

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "calltree_pipeline_records_skipped_total 2"), body)
}

func TestMetricsEndpoint_StoredRun(t *testing.T) {
	st := setupStore(t, true)
	reg := prometheus.NewRegistry()
	reg.MustRegister(telemetry.NewStoreCollector(st.LatestRun))
	s := New(st, Options{Gatherer: prometheus.Gatherers{telemetry.New().Registry, reg}})

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `calltree_store_latest_run{count="nodes"} 3`)
	assert.Contains(t, body, `calltree_store_latest_run{count="sources"} 1`)
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=7&bad=abc", nil)
	assert.Equal(t, 7, queryInt(r, "limit", 1))
	assert.Equal(t, 1, queryInt(r, "bad", 1))
	assert.Equal(t, 3, queryInt(r, "missing", 3))
}
