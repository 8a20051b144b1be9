package forest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RootParent is the parent id sentinel marking a root node
const RootParent = 0

// ErrMalformedRecord is returned when an observation's rule id cannot be parsed
var ErrMalformedRecord = errors.New("malformed record")

// RuleNode is one decision/menu point
type RuleNode struct {
	ID       int     `json:"rule_id"`
	Text     string  `json:"text"`
	URL      *string `json:"url"`
	ParentID int     `json:"parent_id"`
}

// RawObservation is an observation as handed over by ingestion, before id parsing
type RawObservation struct {
	RuleID   string
	ParentID string
	Text     string
	URL      string
}

// Observation is a parsed (rule_id, parent_id, text, url) observation
type Observation struct {
	RuleID   int
	ParentID int
	Text     string
	URL      *string
}

// ParseObservation parses ids and normalizes blank/NULL text and url.
// An unparseable parent id falls back to the root sentinel.
func ParseObservation(raw RawObservation) (Observation, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw.RuleID))
	if err != nil {
		return Observation{}, fmt.Errorf("%w: rule_id %q", ErrMalformedRecord, raw.RuleID)
	}
	parent, err := strconv.Atoi(strings.TrimSpace(raw.ParentID))
	if err != nil {
		parent = RootParent
	}
	text := ""
	if t := CoerceNull(raw.Text); t != nil {
		text = *t
	}
	return Observation{
		RuleID:   id,
		ParentID: parent,
		Text:     text,
		URL:      CoerceNull(raw.URL),
	}, nil
}

// CoerceNull trims s and returns nil for blank or "NULL" values
func CoerceNull(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NULL") {
		return nil
	}
	return &s
}

func (n *RuleNode) clone() *RuleNode {
	c := *n
	if n.URL != nil {
		u := *n.URL
		c.URL = &u
	}
	return &c
}
