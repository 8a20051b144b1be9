package paths

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrShapeMismatch marks a path entry that could not be decoded into steps.
// The entry is still kept, passed through as-is.
var ErrShapeMismatch = errors.New("unexpected path entry shape")

// Shape tags how a path entry was encoded upstream
type Shape int

const (
	ShapeRecord Shape = iota // {call_id, call_date, weekday, path: [...]}
	ShapeLegacy              // bare [...] of steps
	ShapeOpaque              // anything else, kept verbatim
)

func (s Shape) String() string {
	switch s {
	case ShapeRecord:
		return "record"
	case ShapeLegacy:
		return "legacy"
	default:
		return "opaque"
	}
}

// PathStep is one traversal of a rule node. Text and url are the values seen
// at traversal time and may differ from the canonical node.
type PathStep struct {
	RuleID int     `json:"rule_id"`
	Text   string  `json:"text"`
	URL    *string `json:"url"`
}

// CallPathRecord is the path of one call
type CallPathRecord struct {
	Source   string
	CallID   string
	CallDate *string
	Weekday  *int
	Shape    Shape
	Steps    []PathStep
	Raw      json.RawMessage // original entry when Shape == ShapeOpaque
}

// Key returns the source-qualified key of the record
func (r CallPathRecord) Key() string { return Key(r.Source, r.CallID) }

// RuleIDs returns the id sequence of the path
func (r CallPathRecord) RuleIDs() []int {
	ids := make([]int, len(r.Steps))
	for i, s := range r.Steps {
		ids[i] = s.RuleID
	}
	return ids
}

type recordJSON struct {
	Source   string  `json:"source"`
	CallID   string  `json:"call_id"`
	CallDate *string `json:"call_date"`
	Weekday  *int    `json:"weekday"`
	Path     any     `json:"path"`
}

type runEntryJSON struct {
	CallID   string  `json:"call_id"`
	CallDate *string `json:"call_date"`
	Weekday  *int    `json:"weekday"`
	Path     any     `json:"path"`
}

func (r CallPathRecord) path() any {
	if r.Shape == ShapeOpaque && len(r.Raw) > 0 {
		return r.Raw
	}
	if r.Steps == nil {
		return []PathStep{}
	}
	return r.Steps
}

// MarshalJSON writes the aggregated artifact shape
func (r CallPathRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Source:   r.Source,
		CallID:   r.CallID,
		CallDate: r.CallDate,
		Weekday:  r.Weekday,
		Path:     r.path(),
	})
}

type entryJSON struct {
	Source   string          `json:"source"`
	CallID   json.RawMessage `json:"call_id"`
	CallDate json.RawMessage `json:"call_date"`
	Weekday  json.RawMessage `json:"weekday"`
	Path     json.RawMessage `json:"path"`
}

type stepJSON struct {
	RuleID json.RawMessage `json:"rule_id"`
	Text   *string         `json:"text"`
	URL    *string         `json:"url"`
}

// DecodeEntry decodes one path entry. The entry's own source and call_id win
// over the fallbacks. On ErrShapeMismatch the returned record is still usable
// and carries the raw entry.
func DecodeEntry(source, callID string, raw json.RawMessage) (CallPathRecord, error) {
	rec := CallPathRecord{Source: source, CallID: callID}
	trimmed := bytes.TrimSpace(raw)

	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		steps, err := decodeSteps(trimmed)
		if err != nil {
			return opaque(rec, raw), fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		rec.Shape = ShapeLegacy
		rec.Steps = steps
		return rec, nil

	case len(trimmed) > 0 && trimmed[0] == '{':
		var e entryJSON
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return opaque(rec, raw), fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		if e.Source != "" {
			rec.Source = e.Source
		}
		if id, ok := flexString(e.CallID); ok && id != "" {
			rec.CallID = id
		}
		if d, ok := flexString(e.CallDate); ok && d != "" {
			rec.CallDate = &d
		}
		rec.Weekday = decodeWeekday(e.Weekday)

		p := bytes.TrimSpace(e.Path)
		if len(p) == 0 || p[0] != '[' {
			return opaque(rec, raw), fmt.Errorf("%w: path is not a list", ErrShapeMismatch)
		}
		steps, err := decodeSteps(p)
		if err != nil {
			return opaque(rec, raw), fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		rec.Shape = ShapeRecord
		rec.Steps = steps
		return rec, nil

	default:
		return opaque(rec, raw), fmt.Errorf("%w: not a list or object", ErrShapeMismatch)
	}
}

func opaque(rec CallPathRecord, raw json.RawMessage) CallPathRecord {
	rec.Shape = ShapeOpaque
	rec.Steps = nil
	rec.Raw = append(json.RawMessage(nil), raw...)
	return rec
}

// decodeSteps accepts step objects and bare ids; steps without a usable
// rule id are dropped.
func decodeSteps(data []byte) ([]PathStep, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	steps := make([]PathStep, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		if item[0] != '{' {
			if id, ok := flexInt(item); ok {
				steps = append(steps, PathStep{RuleID: id})
			}
			continue
		}
		var s stepJSON
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		id, ok := flexInt(s.RuleID)
		if !ok {
			continue
		}
		step := PathStep{RuleID: id, URL: s.URL}
		if s.Text != nil {
			step.Text = *s.Text
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// flexInt reads a JSON number or numeric string
func flexInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(strings.TrimSpace(s))
	} else if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := strconv.Atoi(n.String()); err == nil {
		return i, true
	}
	if f, err := n.Float64(); err == nil && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

// flexString reads a JSON string or number as a string
func flexString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func decodeWeekday(raw json.RawMessage) *int {
	wd, ok := flexInt(raw)
	if !ok || wd < 1 || wd > 7 {
		return nil
	}
	return &wd
}
