package forest

import (
	"log/slog"
	"sort"
)

// DefaultMaxDepth bounds tree expansion
const DefaultMaxDepth = 256

// Reroot reasons
const (
	ReasonDanglingParent = "dangling_parent"
	ReasonParentCycle    = "parent_cycle"
)

// Reroot records a node whose first-seen parent could not be kept
type Reroot struct {
	RuleID     int    `json:"rule_id"`
	LostParent int    `json:"lost_parent"`
	Reason     string `json:"reason"`
}

// Forest is a resolved registry: every node's parent names a registered
// node or RootParent, parent links are acyclic and children are ordered
// by (text, id).
type Forest struct {
	Label    string
	Nodes    map[int]*RuleNode
	Children map[int][]int // parent -> children sorted by (text, id)
	Roots    []int         // sorted by (text, id)
	Rerooted []Reroot

	edges  map[Edge]struct{}
	lost   map[int]int // re-rooted id -> declared parent
	logger *slog.Logger
}

// TreeNode is one node of the forest artifact. ParentID is the node's
// declared parent, which differs from its position wherever the node is also
// listed under a conflicting parent. Files written before the field existed
// leave it nil.
type TreeNode struct {
	RuleID   int         `json:"rule_id"`
	ParentID *int        `json:"parent_id,omitempty"`
	Text     string      `json:"text"`
	URL      *string     `json:"url"`
	Children []*TreeNode `json:"children"`
}

// Resolve turns a registry into a Forest. Dangling parents are re-rooted;
// a parent cycle is broken at the link that closes it when links are scanned
// in ascending id order.
func Resolve(r *Registry, logger *slog.Logger) *Forest {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Forest{
		Label:    r.Label(),
		Nodes:    make(map[int]*RuleNode, r.Len()),
		Children: make(map[int][]int),
		edges:    make(map[Edge]struct{}),
		lost:     make(map[int]int),
		logger:   logger,
	}
	ids := r.IDs()
	for _, id := range ids {
		n, _ := r.Node(id)
		f.Nodes[id] = n
	}

	for _, id := range ids {
		n := f.Nodes[id]
		if n.ParentID == RootParent {
			continue
		}
		if _, ok := f.Nodes[n.ParentID]; !ok {
			f.reroot(n, ReasonDanglingParent)
		}
	}

	uf := NewUnionFind(ids)
	for _, id := range ids {
		n := f.Nodes[id]
		if n.ParentID == RootParent {
			continue
		}
		if !uf.Union(id, n.ParentID) {
			f.reroot(n, ReasonParentCycle)
		}
	}

	for _, e := range r.Edges() {
		if _, ok := f.Nodes[e.Child]; !ok {
			continue
		}
		f.edges[e] = struct{}{}
		f.Children[e.Parent] = append(f.Children[e.Parent], e.Child)
	}
	for p := range f.Children {
		f.sortByText(f.Children[p])
	}

	for _, id := range ids {
		if f.Nodes[id].ParentID == RootParent {
			f.Roots = append(f.Roots, id)
		}
	}
	f.sortByText(f.Roots)
	return f
}

func (f *Forest) reroot(n *RuleNode, reason string) {
	f.Rerooted = append(f.Rerooted, Reroot{RuleID: n.ID, LostParent: n.ParentID, Reason: reason})
	f.logger.Warn("re-rooting node", "rule_id", n.ID, "lost_parent", n.ParentID, "reason", reason, "source", f.Label)
	f.lost[n.ID] = n.ParentID
	n.ParentID = RootParent
}

func (f *Forest) sortByText(ids []int) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := f.Nodes[ids[i]], f.Nodes[ids[j]]
		if a.Text != b.Text {
			return a.Text < b.Text
		}
		return a.ID < b.ID
	})
}

// HasEdge reports whether parent -> child is part of the declared structure
func (f *Forest) HasEdge(parent, child int) bool {
	_, ok := f.edges[Edge{Parent: parent, Child: child}]
	return ok
}

// IDs returns all node ids sorted ascending
func (f *Forest) IDs() []int {
	ids := make([]int, 0, len(f.Nodes))
	for id := range f.Nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// HasChildren reports whether id has at least one declared child
func (f *Forest) HasChildren(id int) bool {
	return len(f.Children[id]) > 0
}

// Text returns the canonical text of id, or "" when unknown
func (f *Forest) Text(id int) string {
	if n, ok := f.Nodes[id]; ok {
		return n.Text
	}
	return ""
}

// Tree expands the forest from its roots. Expansion stops below maxDepth and
// skips any child already on the current root-to-node path.
func (f *Forest) Tree(maxDepth int) []*TreeNode {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	type frame struct {
		node  *TreeNode
		depth int
		up    *frame
	}
	onPath := func(fr *frame, id int) bool {
		for ; fr != nil; fr = fr.up {
			if fr.node.RuleID == id {
				return true
			}
		}
		return false
	}

	out := make([]*TreeNode, 0, len(f.Roots))
	var stack []*frame
	for _, id := range f.Roots {
		tn := f.treeNode(id)
		out = append(out, tn)
		stack = append(stack, &frame{node: tn, depth: 1})
	}

	truncated := 0
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children := f.Children[fr.node.RuleID]
		if len(children) == 0 {
			continue
		}
		if fr.depth >= maxDepth {
			truncated++
			continue
		}
		for _, cid := range children {
			if onPath(fr, cid) {
				f.logger.Warn("skipping looping child link", "parent", fr.node.RuleID, "child", cid, "source", f.Label)
				continue
			}
			tn := f.treeNode(cid)
			fr.node.Children = append(fr.node.Children, tn)
			stack = append(stack, &frame{node: tn, depth: fr.depth + 1, up: fr})
		}
	}
	if truncated > 0 {
		f.logger.Warn("tree expansion truncated", "max_depth", maxDepth, "subtrees", truncated, "source", f.Label)
	}
	return out
}

func (f *Forest) treeNode(id int) *TreeNode {
	n := f.Nodes[id]
	parent := n.ParentID
	if p, ok := f.lost[id]; ok {
		parent = p
	}
	tn := &TreeNode{RuleID: id, ParentID: &parent, Text: n.Text, Children: []*TreeNode{}}
	if n.URL != nil {
		u := *n.URL
		tn.URL = &u
	}
	return tn
}

// Build resolves r and expands it into an ordered tree
func Build(r *Registry, maxDepth int, logger *slog.Logger) []*TreeNode {
	return Resolve(r, logger).Tree(maxDepth)
}

// FromTree flattens a tree artifact back into a registry. A node's parent
// is its ParentID when set, so a node listed under a conflicting parent keeps
// its declared one; every position still contributes a child link. Nodes
// without ParentID take the parent of their first pre-order appearance.
func FromTree(label string, roots []*TreeNode, logger *slog.Logger) *Registry {
	r := NewRegistry(label, logger)
	type item struct {
		node   *TreeNode
		parent int
	}
	stack := make([]item, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		if roots[i] != nil {
			stack = append(stack, item{roots[i], RootParent})
		}
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := it.node
		obs := Observation{RuleID: n.RuleID, ParentID: it.parent, Text: n.Text}
		if n.URL != nil {
			obs.URL = CoerceNull(*n.URL)
		}
		if n.ParentID == nil {
			r.Observe(obs)
		} else {
			if _, seen := r.nodes[n.RuleID]; !seen {
				obs.ParentID = *n.ParentID
				r.Observe(obs)
			}
			r.link(it.parent, n.RuleID)
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			if c := n.Children[i]; c != nil {
				stack = append(stack, item{c, n.RuleID})
			}
		}
	}
	return r
}
