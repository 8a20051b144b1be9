package graph

import (
	"math"
	"sort"
)

// LengthSummary describes the distribution of path lengths
type LengthSummary struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Median int     `json:"median"`
	P90    int     `json:"p90"`
	P95    int     `json:"p95"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
}

// ComputeLengths summarizes path lengths. No paths gives the zero summary.
func ComputeLengths(snap *Snapshot) *LengthSummary {
	n := len(snap.Sequences)
	if n == 0 {
		return &LengthSummary{}
	}
	lengths := make([]int, n)
	total := 0
	for i, seq := range snap.Sequences {
		lengths[i] = len(seq)
		total += len(seq)
	}
	sort.Ints(lengths)
	return &LengthSummary{
		Count:  n,
		Avg:    float64(total) / float64(n),
		Median: Percentile(lengths, 0.5),
		P90:    Percentile(lengths, 0.9),
		P95:    Percentile(lengths, 0.95),
		Min:    lengths[0],
		Max:    lengths[n-1],
	}
}

// Percentile returns the nearest-rank percentile of sorted values:
// index ceil(p*n)-1 clamped to [0, n-1]. Empty input gives 0.
func Percentile(sorted []int, p float64) int {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// ComputeDepthFunnel returns, for each depth d = 1..max length, how many
// paths reach at least d steps
func ComputeDepthFunnel(snap *Snapshot) ByID[int] {
	funnel := make(ByID[int])
	maxLen := 0
	hist := make(map[int]int)
	for _, seq := range snap.Sequences {
		hist[len(seq)]++
		if len(seq) > maxLen {
			maxLen = len(seq)
		}
	}
	remaining := 0
	for d := maxLen; d >= 1; d-- {
		remaining += hist[d]
		funnel[d] = remaining
	}
	return funnel
}
