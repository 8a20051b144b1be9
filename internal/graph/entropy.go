package graph

import (
	"math"
	"sort"
)

// Complexity describes how unpredictable the next step from a node is
type Complexity struct {
	EntropyBits     float64 `json:"entropy_bits"`
	Perplexity      float64 `json:"perplexity"`
	BranchingFactor int     `json:"branching_factor"`
}

// Coverage is the share of a node's outgoing traffic taken by its top one
// and top two next steps
type Coverage struct {
	Top1 float64 `json:"top1_coverage"`
	Top2 float64 `json:"top2_coverage"`
}

// Entropy computes the base-2 Shannon entropy of a next-step distribution.
// An empty distribution has entropy 0, perplexity 1 and branching factor 0.
func Entropy(next map[int]int) Complexity {
	total := 0
	for _, c := range next {
		total += c
	}
	if total == 0 {
		return Complexity{Perplexity: 1}
	}
	h := 0.0
	// iterate in id order so the float sum is reproducible
	for _, id := range sortedKeys(next) {
		c := next[id]
		if c <= 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	if h < 0 {
		h = 0
	}
	return Complexity{EntropyBits: h, Perplexity: math.Pow(2, h), BranchingFactor: len(next)}
}

// ComputeEntropy returns the complexity of every node with observed outgoing
// transitions
func ComputeEntropy(snap *Snapshot) ByID[Complexity] {
	out := make(ByID[Complexity], len(snap.Next))
	for id, next := range snap.Next {
		out[id] = Entropy(next)
	}
	return out
}

// ComputeCoverage returns top1/top2 coverage for every node with observed
// outgoing transitions
func ComputeCoverage(snap *Snapshot) ByID[Coverage] {
	out := make(ByID[Coverage], len(snap.Next))
	for id, next := range snap.Next {
		total := snap.Outgoing(id)
		if total == 0 {
			out[id] = Coverage{}
			continue
		}
		ranked := rankCounts(next)
		top1 := ranked[0].count
		top2 := top1
		if len(ranked) > 1 {
			top2 += ranked[1].count
		}
		out[id] = Coverage{
			Top1: float64(top1) / float64(total),
			Top2: float64(top2) / float64(total),
		}
	}
	return out
}

// ComplexityRow is a ranked complexity entry for the summary
type ComplexityRow struct {
	RuleID int `json:"rule_id"`
	Complexity
	Outgoing int    `json:"outgoing"`
	Text     string `json:"text"`
}

// RankComplexity orders nodes by entropy descending, then outgoing volume
// descending, then id
func RankComplexity(snap *Snapshot, entropy ByID[Complexity], topN int) []ComplexityRow {
	rows := make([]ComplexityRow, 0, len(entropy))
	for id, c := range entropy {
		rows = append(rows, ComplexityRow{RuleID: id, Complexity: c, Outgoing: snap.Outgoing(id), Text: snap.Text(id)})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.EntropyBits != b.EntropyBits {
			return a.EntropyBits > b.EntropyBits
		}
		if a.Outgoing != b.Outgoing {
			return a.Outgoing > b.Outgoing
		}
		return a.RuleID < b.RuleID
	})
	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	return rows
}
