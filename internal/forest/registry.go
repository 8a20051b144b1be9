package forest

import (
	"errors"
	"log/slog"
	"sort"
)

// Conflict records a later observation whose parent disagrees with the first-seen one
type Conflict struct {
	RuleID      int    `json:"rule_id"`
	FirstParent int    `json:"first_parent"`
	SeenParent  int    `json:"seen_parent"`
	Source      string `json:"source"`
}

// Edge is a parent -> child link
type Edge struct {
	Parent int `json:"parent"`
	Child  int `json:"child"`
}

// Registry holds one run's observed nodes and first-seen parent links.
// It is filled once through Observe/ObserveRaw and treated as read-only afterwards.
type Registry struct {
	label     string
	nodes     map[int]*RuleNode
	children  map[int]map[int]struct{}
	conflicts []Conflict
	skipped   int
	logger    *slog.Logger
}

// NewRegistry creates an empty registry for the run identified by label
func NewRegistry(label string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		label:    label,
		nodes:    make(map[int]*RuleNode),
		children: make(map[int]map[int]struct{}),
		logger:   logger,
	}
}

// Assemble builds a registry from already-merged parts
func Assemble(label string, nodes []*RuleNode, edges []Edge, conflicts []Conflict) *Registry {
	r := NewRegistry(label, nil)
	for _, n := range nodes {
		if _, ok := r.nodes[n.ID]; !ok {
			r.nodes[n.ID] = n.clone()
		}
	}
	for _, e := range edges {
		r.link(e.Parent, e.Child)
	}
	r.conflicts = append(r.conflicts, conflicts...)
	return r
}

// ObserveRaw parses and registers a raw observation. Malformed records are
// counted as skipped and reported with ErrMalformedRecord.
func (r *Registry) ObserveRaw(raw RawObservation) error {
	obs, err := ParseObservation(raw)
	if err != nil {
		r.skipped++
		r.logger.Debug("skipping malformed record", "source", r.label, "err", err)
		return err
	}
	r.Observe(obs)
	return nil
}

// Observe registers obs. The first observation of an id fixes its parent, text
// and url; a later one with a different parent is kept as a conflict only.
func (r *Registry) Observe(obs Observation) {
	if existing, ok := r.nodes[obs.RuleID]; !ok {
		n := &RuleNode{ID: obs.RuleID, Text: obs.Text, ParentID: obs.ParentID}
		if obs.URL != nil {
			u := *obs.URL
			n.URL = &u
		}
		r.nodes[obs.RuleID] = n
	} else if existing.ParentID != obs.ParentID {
		c := Conflict{
			RuleID:      obs.RuleID,
			FirstParent: existing.ParentID,
			SeenParent:  obs.ParentID,
			Source:      r.label,
		}
		r.conflicts = append(r.conflicts, c)
		r.logger.Warn("conflicting parent",
			"rule_id", c.RuleID, "first_parent", c.FirstParent, "seen_parent", c.SeenParent, "source", c.Source)
	}
	r.link(obs.ParentID, obs.RuleID)
}

func (r *Registry) link(parent, child int) {
	set, ok := r.children[parent]
	if !ok {
		set = make(map[int]struct{})
		r.children[parent] = set
	}
	set[child] = struct{}{}
}

// Label returns the run label
func (r *Registry) Label() string { return r.label }

// Len returns the number of registered nodes
func (r *Registry) Len() int { return len(r.nodes) }

// Skipped returns the number of malformed records skipped
func (r *Registry) Skipped() int { return r.skipped }

// Conflicts returns the recorded parent conflicts in observation order
func (r *Registry) Conflicts() []Conflict {
	out := make([]Conflict, len(r.conflicts))
	copy(out, r.conflicts)
	return out
}

// Node returns a copy of the canonical node for id
func (r *Registry) Node(id int) (*RuleNode, bool) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// Nodes returns copies of all nodes sorted by id
func (r *Registry) Nodes() []*RuleNode {
	out := make([]*RuleNode, 0, len(r.nodes))
	for _, id := range r.IDs() {
		out = append(out, r.nodes[id].clone())
	}
	return out
}

// IDs returns all registered ids sorted ascending (for deterministic output)
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Children returns the child ids recorded under parent, sorted ascending
func (r *Registry) Children(parent int) []int {
	set := r.children[parent]
	out := make([]int, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// HasEdge reports whether parent -> child was observed
func (r *Registry) HasEdge(parent, child int) bool {
	_, ok := r.children[parent][child]
	return ok
}

// Edges returns every parent -> child link sorted by (parent, child)
func (r *Registry) Edges() []Edge {
	parents := make([]int, 0, len(r.children))
	for p := range r.children {
		parents = append(parents, p)
	}
	sort.Ints(parents)
	var out []Edge
	for _, p := range parents {
		for _, c := range r.Children(p) {
			out = append(out, Edge{Parent: p, Child: c})
		}
	}
	return out
}

// IsMalformed reports whether err marks a skipped record
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}
