package graph

import "sort"

// NodeFunnel is the per-node retention row. Reach == Transitions + DropOff.
type NodeFunnel struct {
	Reach       int `json:"reach"`
	Transitions int `json:"transitions"`
	DropOff     int `json:"drop_off"`
}

// ComputeNodeFunnel returns reach, transitions and drop-off for every node
// that occurs in some path
func ComputeNodeFunnel(snap *Snapshot) ByID[NodeFunnel] {
	out := make(ByID[NodeFunnel], len(snap.Reach))
	for id, reach := range snap.Reach {
		trans := snap.Outgoing(id)
		out[id] = NodeFunnel{Reach: reach, Transitions: trans, DropOff: reach - trans}
	}
	return out
}

// DeadEnd ranks how often a node ends the paths that reach it
type DeadEnd struct {
	RuleID          int     `json:"rule_id"`
	Text            string  `json:"text"`
	Reach           int     `json:"reach_occurrences"`
	Terminations    int     `json:"terminations"`
	TerminationRate float64 `json:"termination_rate"`
	HasChildren     bool    `json:"has_children"`
}

// ComputeDeadEnds ranks reached nodes by termination rate descending, then
// reach descending, then id. topN <= 0 keeps every row.
func ComputeDeadEnds(snap *Snapshot, topN int) []DeadEnd {
	out := make([]DeadEnd, 0, len(snap.Reach))
	for id, reach := range snap.Reach {
		term := snap.Terminal[id]
		out = append(out, DeadEnd{
			RuleID:          id,
			Text:            snap.Text(id),
			Reach:           reach,
			Terminations:    term,
			TerminationRate: float64(term) / float64(reach),
			HasChildren:     snap.Forest.HasChildren(id),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TerminationRate != b.TerminationRate {
			return a.TerminationRate > b.TerminationRate
		}
		if a.Reach != b.Reach {
			return a.Reach > b.Reach
		}
		return a.RuleID < b.RuleID
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
