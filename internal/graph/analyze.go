package graph

// AnalyzerConfig holds analysis parameters
type AnalyzerConfig struct {
	RootID          int
	BranchTop       int
	DeadEndsTop     int
	URLTop          int
	AnomaliesTop    int
	TopPaths        int
	SummaryIntent   int
	SummaryDeadEnds int
	SummaryEntropy  int
	HubThreshold    int
	HubsTop         int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		RootID:          1,
		BranchTop:       10,
		DeadEndsTop:     200,
		URLTop:          200,
		AnomaliesTop:    200,
		TopPaths:        100,
		SummaryIntent:   10,
		SummaryDeadEnds: 20,
		SummaryEntropy:  20,
		HubThreshold:    10,
		HubsTop:         20,
	}
}

// PipelineStats carries merge diagnostics into the summary
type PipelineStats struct {
	ParentConflicts int `json:"parent_conflicts"`
	IDCollisions    int `json:"id_collisions"`
	SkippedSources  int `json:"skipped_sources"`
	SkippedRecords  int `json:"skipped_records"`
	OpaqueEntries   int `json:"opaque_entries"`
}

// Totals are the headline numbers of a run
type Totals struct {
	Nodes          int `json:"total_nodes"`
	Roots          int `json:"roots"`
	Paths          int `json:"total_paths"`
	DistinctPaths  int `json:"distinct_paths"`
	AnomalyEdges   int `json:"anomaly_edges"`
	Unreachable    int `json:"unreachable_nodes"`
	DuplicateTexts int `json:"duplicate_text_groups"`
	PipelineStats
}

// Summary rolls the headline metrics into one artifact
type Summary struct {
	Lengths    *LengthSummary  `json:"lengths_summary"`
	Weekdays   WeekdayVolume   `json:"weekday_trends"`
	TopIntents []CountRow      `json:"top_intents_top10"`
	DeadEnds   []DeadEnd       `json:"dead_ends_top20"`
	EntropyTop []ComplexityRow `json:"entropy_complexity_top20"`
	Totals     Totals          `json:"totals"`
}

// AnalysisReport is the full analysis result
type AnalysisReport struct {
	Lengths     *LengthSummary
	TopIntents  []CountRow
	Leaves      []CountRow
	Branches    ByID[[]BranchRow]
	Weekdays    WeekdayVolume
	DepthFunnel ByID[int]
	NodeFunnel  ByID[NodeFunnel]
	DeadEnds    []DeadEnd
	Entropy     ByID[Complexity]
	URLs        []URLCount
	Anomalies   []Anomaly
	Duplicates  Duplicates
	Unreachable []NodeRef
	Coverage    ByID[Coverage]
	TopPaths    []PathCount
	Topology    *TopologyReport
	Summary     *Summary
}

// Artifact is one named metric output
type Artifact struct {
	Name  string
	Value any
}

// Artifact names, without extension
const (
	ArtifactLengths     = "lengths_summary"
	ArtifactIntents     = "top_intents"
	ArtifactLeaves      = "leaf_frequency"
	ArtifactBranches    = "branch_distribution.top10"
	ArtifactWeekdays    = "weekday_trends"
	ArtifactDepthFunnel = "depth_funnel"
	ArtifactNodeFunnel  = "node_funnel"
	ArtifactDeadEnds    = "dead_ends"
	ArtifactEntropy     = "entropy_complexity"
	ArtifactURLs        = "url_engagement"
	ArtifactAnomalies   = "anomalies"
	ArtifactDuplicates  = "duplicates_by_text"
	ArtifactUnreachable = "unreachable_nodes"
	ArtifactCoverage    = "coverage_ratio"
	ArtifactTopPaths    = "top_paths"
	ArtifactTopology    = "tree_topology"
	ArtifactSummary     = "summary"
)

// Artifacts lists every metric in a fixed order
func (r *AnalysisReport) Artifacts() []Artifact {
	return []Artifact{
		{ArtifactLengths, r.Lengths},
		{ArtifactIntents, r.TopIntents},
		{ArtifactLeaves, r.Leaves},
		{ArtifactBranches, r.Branches},
		{ArtifactWeekdays, r.Weekdays},
		{ArtifactDepthFunnel, r.DepthFunnel},
		{ArtifactNodeFunnel, r.NodeFunnel},
		{ArtifactDeadEnds, r.DeadEnds},
		{ArtifactEntropy, r.Entropy},
		{ArtifactURLs, r.URLs},
		{ArtifactAnomalies, r.Anomalies},
		{ArtifactDuplicates, r.Duplicates},
		{ArtifactUnreachable, r.Unreachable},
		{ArtifactCoverage, r.Coverage},
		{ArtifactTopPaths, r.TopPaths},
		{ArtifactTopology, r.Topology},
		{ArtifactSummary, r.Summary},
	}
}

// Analyze runs every metric over the snapshot. A nil config uses defaults.
func Analyze(snap *Snapshot, config *AnalyzerConfig, stats PipelineStats) *AnalysisReport {
	if config == nil {
		config = DefaultConfig()
	}

	lengths := ComputeLengths(snap)
	intents := ComputeTopIntents(snap, config.RootID)
	weekdays := ComputeWeekdayTrends(snap)
	deadEnds := ComputeDeadEnds(snap, config.DeadEndsTop)
	entropy := ComputeEntropy(snap)
	allAnomalies := ComputeAnomalies(snap, 0)
	duplicates := ComputeDuplicates(snap)
	unreachable := ComputeUnreachable(snap)

	anomalies := allAnomalies
	if config.AnomaliesTop > 0 && len(anomalies) > config.AnomaliesTop {
		anomalies = anomalies[:config.AnomaliesTop]
	}

	summary := &Summary{
		Lengths:    lengths,
		Weekdays:   weekdays,
		TopIntents: head(intents, config.SummaryIntent),
		DeadEnds:   head(deadEnds, config.SummaryDeadEnds),
		EntropyTop: RankComplexity(snap, entropy, config.SummaryEntropy),
		Totals: Totals{
			Nodes:          len(snap.Forest.Nodes),
			Roots:          len(snap.Forest.Roots),
			Paths:          len(snap.Records),
			DistinctPaths:  DistinctPaths(snap),
			AnomalyEdges:   len(allAnomalies),
			Unreachable:    len(unreachable),
			DuplicateTexts: len(duplicates),
			PipelineStats:  stats,
		},
	}

	return &AnalysisReport{
		Lengths:     lengths,
		TopIntents:  intents,
		Leaves:      ComputeLeafFrequency(snap),
		Branches:    ComputeBranchDistribution(snap, config.BranchTop),
		Weekdays:    weekdays,
		DepthFunnel: ComputeDepthFunnel(snap),
		NodeFunnel:  ComputeNodeFunnel(snap),
		DeadEnds:    deadEnds,
		Entropy:     entropy,
		URLs:        ComputeURLEngagement(snap, config.URLTop),
		Anomalies:   anomalies,
		Duplicates:  duplicates,
		Unreachable: unreachable,
		Coverage:    ComputeCoverage(snap),
		TopPaths:    ComputeTopPaths(snap, config.TopPaths),
		Topology:    ComputeTopology(snap, config.HubThreshold, config.HubsTop),
		Summary:     summary,
	}
}

func head[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
