package graph

import (
	"sort"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

// Snapshot holds the aggregated forest and path index with precomputed
// traversal counts. It is read-only; every Compute function is pure over it.
type Snapshot struct {
	Forest    *forest.Forest
	Records   []paths.CallPathRecord // ordered by key
	Sequences [][]int                // rule id sequence per record, same order

	Next     map[int]map[int]int // from -> to -> observed transitions
	Reach    map[int]int         // occurrences anywhere in any path
	Terminal map[int]int         // occurrences as the last step
}

// NewSnapshot builds a Snapshot. A nil forest or index is treated as empty.
func NewSnapshot(f *forest.Forest, ix *paths.Index) *Snapshot {
	if f == nil {
		f = forest.Resolve(forest.NewRegistry("", nil), nil)
	}
	var records []paths.CallPathRecord
	if ix != nil {
		records = ix.Records()
	}

	s := &Snapshot{
		Forest:    f,
		Records:   records,
		Sequences: make([][]int, len(records)),
		Next:      make(map[int]map[int]int),
		Reach:     make(map[int]int),
		Terminal:  make(map[int]int),
	}
	for i, rec := range records {
		seq := rec.RuleIDs()
		s.Sequences[i] = seq
		for j, id := range seq {
			s.Reach[id]++
			if j < len(seq)-1 {
				to := seq[j+1]
				m, ok := s.Next[id]
				if !ok {
					m = make(map[int]int)
					s.Next[id] = m
				}
				m[to]++
			}
		}
		if len(seq) > 0 {
			s.Terminal[seq[len(seq)-1]]++
		}
	}
	return s
}

// Outgoing returns the total outgoing transitions observed from id
func (s *Snapshot) Outgoing(id int) int {
	total := 0
	for _, c := range s.Next[id] {
		total += c
	}
	return total
}

// Text returns the canonical text of id
func (s *Snapshot) Text(id int) string {
	return s.Forest.Text(id)
}

// idCount is an (id, count) pair used for rankings
type idCount struct {
	id    int
	count int
}

// rankCounts sorts counts descending with ascending id as tie-break
func rankCounts(m map[int]int) []idCount {
	out := make([]idCount, 0, len(m))
	for id, c := range m {
		out = append(out, idCount{id, c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].id < out[j].id
	})
	return out
}

func sortedKeys[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
