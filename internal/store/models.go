package store

import (
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

// Run represents a row in the runs table
type Run struct {
	ID             string   `json:"id"`
	CreatedAt      int64    `json:"created_at"` // Unix millis
	Sources        []string `json:"sources"`
	NodeCount      int      `json:"node_count"`
	PathCount      int      `json:"path_count"`
	Conflicts      int      `json:"conflicts"`
	Collisions     int      `json:"collisions"`
	SkippedSources int      `json:"skipped_sources"`
}

// Node represents a row in the nodes table
type Node struct {
	RuleID   int     `json:"rule_id"`
	ParentID int     `json:"parent_id"`
	Text     string  `json:"text"`
	URL      *string `json:"url"`
}

// Blob is a named JSON document
type Blob struct {
	Name string
	Body []byte
}

// RunInput is everything persisted for one analysis run
type RunInput struct {
	Sources        []string
	Nodes          []*forest.RuleNode
	Records        []paths.CallPathRecord
	Artifacts      []Blob
	Conflicts      int
	Collisions     int
	SkippedSources int
}
