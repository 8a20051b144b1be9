package artifact

import (
	"os"
	"path/filepath"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/aggregate"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/graph"
)

// MergeReportFile holds the diagnostics of the last aggregation
const MergeReportFile = "aggregate_report.json"

// MergeReport is what aggregate learned about its inputs, kept next to the
// merged artifacts so analyze can report it
type MergeReport struct {
	Sources        []string                  `json:"sources"`
	Conflicts      []forest.Conflict         `json:"conflicts"`
	Collisions     []aggregate.IDCollision   `json:"collisions"`
	Failures       []aggregate.SourceFailure `json:"failures"`
	Backfilled     int                       `json:"backfilled"`
	SkippedRecords int                       `json:"skipped_records"`
	OpaqueEntries  int                       `json:"opaque_entries"`
}

// NewMergeReport summarises an aggregation. load may be nil.
func NewMergeReport(res *aggregate.Result, load *aggregate.LoadReport) *MergeReport {
	m := &MergeReport{
		Sources:        nonNil(res.Sources),
		Conflicts:      nonNil(res.Conflicts),
		Collisions:     nonNil(res.Collisions),
		Failures:       []aggregate.SourceFailure{},
		Backfilled:     res.Backfilled,
		SkippedRecords: res.SkippedRecords,
		OpaqueEntries:  res.OpaqueEntries,
	}
	if load != nil {
		m.Failures = append(m.Failures, load.Failures...)
		m.Failures = append(m.Failures, load.BuildFailures...)
	}
	return m
}

// Stats converts the report into summary counters
func (m *MergeReport) Stats() graph.PipelineStats {
	return graph.PipelineStats{
		ParentConflicts: len(m.Conflicts),
		IDCollisions:    len(m.Collisions),
		SkippedSources:  len(m.Failures),
		SkippedRecords:  m.SkippedRecords,
		OpaqueEntries:   m.OpaqueEntries,
	}
}

// WriteMergeReport writes m into dir
func WriteMergeReport(dir string, m *MergeReport) error {
	return WriteJSON(filepath.Join(dir, MergeReportFile), m)
}

// BuildReportFile returns the build report name for a source label
func BuildReportFile(label string) string { return label + aggregate.BuildSuffix }

// WriteBuildReport writes the report of one built run into dir
func WriteBuildReport(dir string, b *aggregate.BuildReport) error {
	out := *b
	out.Conflicts = nonNil(b.Conflicts)
	return WriteJSON(filepath.Join(dir, BuildReportFile(b.Label)), &out)
}

// WriteBuildFailures replaces the list of unreadable CSV exports in dir
func WriteBuildFailures(dir string, failures []aggregate.SourceFailure) error {
	return WriteJSON(filepath.Join(dir, aggregate.BuildFailuresFile), nonNil(failures))
}

// ReadMergeReport reads the report from dir; a missing file gives an empty report
func ReadMergeReport(dir string) (*MergeReport, error) {
	m := &MergeReport{}
	if err := ReadJSON(filepath.Join(dir, MergeReportFile), m); err != nil {
		if os.IsNotExist(err) {
			return NewMergeReport(&aggregate.Result{}, nil), nil
		}
		return nil, err
	}
	return m, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
