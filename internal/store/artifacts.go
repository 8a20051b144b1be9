package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode"
)

// ListArtifacts returns the artifact names of a run, sorted
func (d *DB) ListArtifacts(ctx context.Context, runID string) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT name FROM artifacts WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// LoadArtifact returns the JSON body of a run's artifact, or ErrNotFound
func (d *DB) LoadArtifact(ctx context.Context, runID, name string) ([]byte, error) {
	var body []byte
	err := d.conn.QueryRowContext(ctx,
		`SELECT body FROM artifacts WHERE run_id = ? AND name = ?`, runID, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return body, err
}

// RunNodes returns a run's nodes ordered by rule id
func (d *DB) RunNodes(ctx context.Context, runID string) ([]Node, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT rule_id, parent_id, text, url FROM nodes WHERE run_id = ? ORDER BY rule_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	nodes := []Node{}
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.RuleID, &n.ParentID, &n.Text, &n.URL); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// SearchTerms splits a query into words, trimming punctuation and dropping
// words shorter than two characters
func SearchTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(query) {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if len([]rune(trimmed)) < 2 {
			continue
		}
		terms = append(terms, trimmed)
	}
	return terms
}

// SearchNodes returns a run's nodes whose text contains every query term.
// An empty query matches nothing.
func (d *DB) SearchNodes(ctx context.Context, runID, query string, limit int) ([]Node, error) {
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return []Node{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var sb strings.Builder
	sb.WriteString(`SELECT rule_id, parent_id, text, url FROM nodes WHERE run_id = ?`)
	args := []any{runID}
	for _, t := range terms {
		sb.WriteString(` AND text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(t)+"%")
	}
	sb.WriteString(` ORDER BY rule_id LIMIT ?`)
	args = append(args, limit)

	rows, err := d.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
