package graph

import (
	"sort"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
)

// HubNode is a menu point with many declared children
type HubNode struct {
	RuleID   int    `json:"rule_id"`
	Text     string `json:"text"`
	Children int    `json:"children"`
	Reach    int    `json:"reach"`
}

// DegreeBucket is one bucket in the child-count histogram
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopologyReport describes the shape of the declared forest
type TopologyReport struct {
	TotalNodes      int             `json:"total_nodes"`
	TotalEdges      int             `json:"total_edges"`
	Roots           int             `json:"roots"`
	Leaves          int             `json:"leaves"`
	MaxDepth        int             `json:"max_depth"`
	Rerooted        []forest.Reroot `json:"rerooted"`
	DegreeHistogram []DegreeBucket  `json:"degree_histogram"`
	Hubs            []HubNode       `json:"hubs"`
}

// ComputeTopology analyzes the declared forest: roots, leaves, depth, child
// count distribution and hubs (more than hubThreshold children)
func ComputeTopology(snap *Snapshot, hubThreshold, hubsTop int) *TopologyReport {
	f := snap.Forest
	rerooted := append([]forest.Reroot{}, f.Rerooted...)
	if len(f.Nodes) == 0 {
		return &TopologyReport{
			Rerooted:        rerooted,
			DegreeHistogram: defaultHistogram(),
			Hubs:            []HubNode{},
		}
	}

	ids := f.IDs()
	totalEdges, leaves := 0, 0
	buckets := [7]int{}
	hubs := []HubNode{}
	for _, id := range ids {
		degree := len(f.Children[id])
		totalEdges += degree
		if degree == 0 {
			leaves++
		}
		buckets[degreeBucket(degree)]++
		if degree > hubThreshold {
			hubs = append(hubs, HubNode{RuleID: id, Text: f.Text(id), Children: degree, Reach: snap.Reach[id]})
		}
	}
	histogram := defaultHistogram()
	for i := range histogram {
		histogram[i].Count = buckets[i]
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Children != hubs[j].Children {
			return hubs[i].Children > hubs[j].Children
		}
		if hubs[i].Reach != hubs[j].Reach {
			return hubs[i].Reach > hubs[j].Reach
		}
		return hubs[i].RuleID < hubs[j].RuleID
	})
	if hubsTop > 0 && len(hubs) > hubsTop {
		hubs = hubs[:hubsTop]
	}

	return &TopologyReport{
		TotalNodes:      len(ids),
		TotalEdges:      totalEdges,
		Roots:           len(f.Roots),
		Leaves:          leaves,
		MaxDepth:        maxDepth(f, ids),
		Rerooted:        rerooted,
		DegreeHistogram: histogram,
		Hubs:            hubs,
	}
}

// maxDepth follows canonical parent links, which are acyclic once resolved.
// Roots have depth 1.
func maxDepth(f *forest.Forest, ids []int) int {
	depth := make(map[int]int, len(ids))
	best := 0
	for _, id := range ids {
		var chain []int
		cur := id
		d := 0
		for {
			if known, ok := depth[cur]; ok {
				d = known
				break
			}
			chain = append(chain, cur)
			n, ok := f.Nodes[cur]
			if !ok || n.ParentID == forest.RootParent {
				break
			}
			cur = n.ParentID
		}
		for i := len(chain) - 1; i >= 0; i-- {
			d++
			depth[chain[i]] = d
		}
		if depth[id] > best {
			best = depth[id]
		}
	}
	return best
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
