package graph

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// CountRow is a ranked (rule id, count) row with the node's canonical text
type CountRow struct {
	RuleID int    `json:"rule_id"`
	Count  int    `json:"count"`
	Text   string `json:"text"`
}

// BranchRow is one next-step entry of a branch distribution
type BranchRow struct {
	Child int    `json:"child"`
	Count int    `json:"count"`
	Text  string `json:"text"`
}

// URLCount is an engagement row for one referenced url
type URLCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

func (s *Snapshot) rows(counts map[int]int, limit int) []CountRow {
	ranked := rankCounts(counts)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]CountRow, len(ranked))
	for i, r := range ranked {
		out[i] = CountRow{RuleID: r.id, Count: r.count, Text: s.Text(r.id)}
	}
	return out
}

// Intent returns the intent of a path: its second step when the first is
// rootID and there is one, else its first step
func Intent(seq []int, rootID int) (int, bool) {
	if len(seq) == 0 {
		return 0, false
	}
	if len(seq) > 1 && seq[0] == rootID {
		return seq[1], true
	}
	return seq[0], true
}

// ComputeTopIntents tallies path intents, ranked by count descending
func ComputeTopIntents(snap *Snapshot, rootID int) []CountRow {
	counts := make(map[int]int)
	for _, seq := range snap.Sequences {
		if id, ok := Intent(seq, rootID); ok {
			counts[id]++
		}
	}
	return snap.rows(counts, 0)
}

// ComputeLeafFrequency tallies each id as a path's terminal step
func ComputeLeafFrequency(snap *Snapshot) []CountRow {
	return snap.rows(snap.Terminal, 0)
}

// ComputeBranchDistribution returns, per from-node, its most frequent next
// nodes (at most topN, 0 means all)
func ComputeBranchDistribution(snap *Snapshot, topN int) ByID[[]BranchRow] {
	out := make(ByID[[]BranchRow], len(snap.Next))
	for from, next := range snap.Next {
		ranked := rankCounts(next)
		if topN > 0 && len(ranked) > topN {
			ranked = ranked[:topN]
		}
		rows := make([]BranchRow, len(ranked))
		for i, r := range ranked {
			rows[i] = BranchRow{Child: r.id, Count: r.count, Text: snap.Text(r.id)}
		}
		out[from] = rows
	}
	return out
}

// WeekdayVolume counts paths per ISO weekday (1=Mon..7=Sun); Unknown counts
// paths without a weekday
type WeekdayVolume struct {
	ByDay   map[int]int
	Unknown int
}

// MarshalJSON writes days 1..7 in order, then "null" for unknown
func (w WeekdayVolume) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, v int) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Quote(key))
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(v))
	}
	for _, d := range sortedKeys(w.ByDay) {
		write(strconv.Itoa(d), w.ByDay[d])
	}
	if w.Unknown > 0 {
		write("null", w.Unknown)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ComputeWeekdayTrends counts paths by weekday
func ComputeWeekdayTrends(snap *Snapshot) WeekdayVolume {
	w := WeekdayVolume{ByDay: make(map[int]int)}
	for _, rec := range snap.Records {
		if rec.Weekday == nil {
			w.Unknown++
			continue
		}
		w.ByDay[*rec.Weekday]++
	}
	return w
}

// ComputeURLEngagement counts non-empty step urls across all paths, ranked
// descending with ascending url as tie-break
func ComputeURLEngagement(snap *Snapshot, topN int) []URLCount {
	counts := make(map[string]int)
	for _, rec := range snap.Records {
		for _, step := range rec.Steps {
			if step.URL != nil && *step.URL != "" {
				counts[*step.URL]++
			}
		}
	}
	out := make([]URLCount, 0, len(counts))
	for u, c := range counts {
		out = append(out, URLCount{URL: u, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].URL < out[j].URL
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

var _ json.Marshaler = WeekdayVolume{}
