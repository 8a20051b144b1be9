package graph

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Anomaly is an observed transition missing from the declared tree
type Anomaly struct {
	From  int `json:"from"`
	To    int `json:"to"`
	Count int `json:"count"`
}

// ComputeAnomalies flags every observed edge that the forest does not
// declare, ranked by count descending then (from, to). topN <= 0 keeps all.
func ComputeAnomalies(snap *Snapshot, topN int) []Anomaly {
	var out []Anomaly
	for from, next := range snap.Next {
		for to, c := range next {
			if !snap.Forest.HasEdge(from, to) {
				out = append(out, Anomaly{From: from, To: to, Count: c})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	if out == nil {
		out = []Anomaly{}
	}
	return out
}

// NormalizeText trims and collapses internal whitespace
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DuplicateGroup is a set of distinct ids sharing one normalized text
type DuplicateGroup struct {
	Text    string
	RuleIDs []int
}

// Duplicates serializes as {"<text>": [ids...]} ordered by text
type Duplicates []DuplicateGroup

func (d Duplicates) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(g.Text)
		if err != nil {
			return nil, err
		}
		ids, err := json.Marshal(g.RuleIDs)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(ids)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ComputeDuplicates groups canonical nodes by non-empty normalized text,
// keeping groups with more than one id
func ComputeDuplicates(snap *Snapshot) Duplicates {
	buckets := make(map[string][]int)
	for _, id := range snap.Forest.IDs() {
		text := NormalizeText(snap.Forest.Text(id))
		if text == "" {
			continue
		}
		buckets[text] = append(buckets[text], id)
	}
	texts := make([]string, 0, len(buckets))
	for t, ids := range buckets {
		if len(ids) > 1 {
			texts = append(texts, t)
		}
	}
	sort.Strings(texts)
	out := make(Duplicates, len(texts))
	for i, t := range texts {
		out[i] = DuplicateGroup{Text: t, RuleIDs: buckets[t]}
	}
	return out
}

// NodeRef is a rule id with its canonical text
type NodeRef struct {
	RuleID int    `json:"rule_id"`
	Text   string `json:"text"`
}

// ComputeUnreachable lists canonical nodes that occur in no path, by id
func ComputeUnreachable(snap *Snapshot) []NodeRef {
	out := []NodeRef{}
	for _, id := range snap.Forest.IDs() {
		if snap.Reach[id] == 0 {
			out = append(out, NodeRef{RuleID: id, Text: snap.Text(id)})
		}
	}
	return out
}

// PathCount is one distinct id sequence with its frequency
type PathCount struct {
	Path  []int `json:"path"`
	Count int   `json:"count"`
}

// ComputeTopPaths ranks distinct non-empty id sequences by frequency, ties
// broken by lexicographic sequence order
func ComputeTopPaths(snap *Snapshot, topN int) []PathCount {
	counts := make(map[string]*PathCount)
	for _, seq := range snap.Sequences {
		if len(seq) == 0 {
			continue
		}
		k := seqKey(seq)
		pc, ok := counts[k]
		if !ok {
			pc = &PathCount{Path: seq}
			counts[k] = pc
		}
		pc.Count++
	}
	out := make([]PathCount, 0, len(counts))
	for _, pc := range counts {
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return lessSeq(out[i].Path, out[j].Path)
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// DistinctPaths counts distinct non-empty id sequences
func DistinctPaths(snap *Snapshot) int {
	seen := make(map[string]struct{})
	for _, seq := range snap.Sequences {
		if len(seq) > 0 {
			seen[seqKey(seq)] = struct{}{}
		}
	}
	return len(seen)
}

func seqKey(seq []int) string {
	var sb strings.Builder
	for i, id := range seq {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(id))
	}
	return sb.String()
}

func lessSeq(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
