package aggregate

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

// AllLabel labels the merged registry
const AllLabel = "all"

var (
	// ErrUnreadableSource marks a per-run input that could not be read or decoded
	ErrUnreadableSource = errors.New("unreadable source")
	// ErrNoValidInput is returned when no source contributed a node or a path
	ErrNoValidInput = errors.New("no valid input across all sources")
)

// Source is one run's contribution: its node registry, its call paths and
// the report of the build that produced them. Any part may be missing.
type Source struct {
	Label    string
	Registry *forest.Registry
	Records  []paths.CallPathRecord
	Build    *BuildReport
}

// IDCollision is a rule id registered by two sources under different parents.
// With one shared id space this is a parent conflict across runs; with
// independent numbering it means unrelated nodes share an id.
type IDCollision struct {
	RuleID      int    `json:"rule_id"`
	FirstSource string `json:"first_source"`
	FirstParent int    `json:"first_parent"`
	Source      string `json:"source"`
	Parent      int    `json:"parent"`
}

// Result is the aggregated forest and path index plus merge diagnostics
type Result struct {
	Registry       *forest.Registry
	Forest         *forest.Forest
	Index          *paths.Index
	Sources        []string
	Conflicts      []forest.Conflict
	Collisions     []IDCollision
	Backfilled     int
	SkippedRecords int
	SkippedSources int
	OpaqueEntries  int
}

// Aggregate merges sources into one forest and one path index. Sources are
// ranked by label before merging so the first-seen parent of every id does
// not depend on the order sources were produced in.
func Aggregate(sources []Source, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ordered := make([]Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Label < ordered[j].Label })

	nodes := make(map[int]*forest.RuleNode)
	firstSource := make(map[int]string)
	edgeSet := make(map[forest.Edge]struct{})
	index := paths.NewIndex()
	res := &Result{Index: index}
	seenLabel := make(map[string]bool)
	seenConflict := make(map[forest.Conflict]bool)

	for _, src := range ordered {
		// a label seen twice is the same run fed again
		dup := seenLabel[src.Label]
		seenLabel[src.Label] = true
		if !dup {
			res.Sources = append(res.Sources, src.Label)
		}
		addConflicts := func(cs []forest.Conflict) {
			for _, c := range cs {
				if !seenConflict[c] {
					seenConflict[c] = true
					res.Conflicts = append(res.Conflicts, c)
				}
			}
		}
		if src.Build != nil && !dup {
			res.SkippedRecords += src.Build.SkippedRecords
			addConflicts(src.Build.Conflicts)
		}
		if src.Registry != nil {
			if !dup {
				res.SkippedRecords += src.Registry.Skipped()
			}
			addConflicts(src.Registry.Conflicts())
			for _, n := range src.Registry.Nodes() {
				existing, ok := nodes[n.ID]
				if !ok {
					nodes[n.ID] = n
					firstSource[n.ID] = src.Label
					continue
				}
				if existing.ParentID != n.ParentID {
					c := IDCollision{
						RuleID:      n.ID,
						FirstSource: firstSource[n.ID],
						FirstParent: existing.ParentID,
						Source:      src.Label,
						Parent:      n.ParentID,
					}
					res.Collisions = append(res.Collisions, c)
					logger.Warn("rule id registered under different parents",
						"rule_id", c.RuleID, "first_source", c.FirstSource, "first_parent", c.FirstParent,
						"source", c.Source, "parent", c.Parent)
				}
				if backfill(existing, n) {
					res.Backfilled++
				}
			}
			for _, e := range src.Registry.Edges() {
				edgeSet[e] = struct{}{}
			}
		}
		for _, rec := range src.Records {
			rec.Source = src.Label
			if _, exists := index.Get(rec.Key()); !exists && rec.Shape == paths.ShapeOpaque {
				res.OpaqueEntries++
			}
			index.Put(rec)
		}
	}

	merged := make([]*forest.RuleNode, 0, len(nodes))
	for _, n := range nodes {
		merged = append(merged, n)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	edges := make([]forest.Edge, 0, len(edgeSet))
	for e := range edgeSet {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Parent != edges[j].Parent {
			return edges[i].Parent < edges[j].Parent
		}
		return edges[i].Child < edges[j].Child
	})

	res.Registry = forest.Assemble(AllLabel, merged, edges, res.Conflicts)
	res.Forest = forest.Resolve(res.Registry, logger)

	if len(nodes) == 0 && index.Len() == 0 {
		return res, ErrNoValidInput
	}
	return res, nil
}

// backfill fills empty text and absent url of dst from src; present values are never overwritten
func backfill(dst, src *forest.RuleNode) bool {
	changed := false
	if dst.Text == "" && src.Text != "" {
		dst.Text = src.Text
		changed = true
	}
	if dst.URL == nil && src.URL != nil {
		u := *src.URL
		dst.URL = &u
		changed = true
	}
	return changed
}

// Tree expands the aggregated forest with the same ordering contract as a single run
func (r *Result) Tree(maxDepth int) []*forest.TreeNode {
	return r.Forest.Tree(maxDepth)
}
