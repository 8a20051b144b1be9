package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveRun stores a run with its nodes, call paths and artifacts in one
// transaction and returns the new run
func (d *DB) SaveRun(ctx context.Context, in RunInput) (*Run, error) {
	sources := in.Sources
	if sources == nil {
		sources = []string{}
	}
	run := &Run{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now().UnixMilli(),
		Sources:        sources,
		NodeCount:      len(in.Nodes),
		PathCount:      len(in.Records),
		Conflicts:      in.Conflicts,
		Collisions:     in.Collisions,
		SkippedSources: in.SkippedSources,
	}
	srcJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return nil, err
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, sources, node_count, path_count, conflicts, collisions, skipped_sources)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, string(srcJSON), run.NodeCount, run.PathCount,
		run.Conflicts, run.Collisions, run.SkippedSources); err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (run_id, rule_id, parent_id, text, url) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer nodeStmt.Close()
	for _, n := range in.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, run.ID, n.ID, n.ParentID, n.Text, n.URL); err != nil {
			return nil, fmt.Errorf("inserting node %d: %w", n.ID, err)
		}
	}

	pathStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO call_paths (run_id, key, source, call_id, call_date, weekday, length, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer pathStmt.Close()
	for _, rec := range in.Records {
		body, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding path %s: %w", rec.Key(), err)
		}
		if _, err := pathStmt.ExecContext(ctx, run.ID, rec.Key(), rec.Source, rec.CallID,
			rec.CallDate, rec.Weekday, len(rec.Steps), string(body)); err != nil {
			return nil, fmt.Errorf("inserting path %s: %w", rec.Key(), err)
		}
	}

	for _, a := range in.Artifacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (run_id, name, body) VALUES (?, ?, ?)`, run.ID, a.Name, a.Body); err != nil {
			return nil, fmt.Errorf("inserting artifact %s: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var r Run
	var sources string
	if err := scanner.Scan(&r.ID, &r.CreatedAt, &sources, &r.NodeCount, &r.PathCount,
		&r.Conflicts, &r.Collisions, &r.SkippedSources); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
		return nil, fmt.Errorf("decoding sources of run %s: %w", r.ID, err)
	}
	return &r, nil
}

const runColumns = `id, created_at, sources, node_count, path_count, conflicts, collisions, skipped_sources`

// LatestRun returns the most recently stored run, or ErrNoRuns
func (d *DB) LatestRun(ctx context.Context) (*Run, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	return r, err
}

// ListRuns returns stored runs, newest first
func (d *DB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneRuns deletes all but the newest keep runs with their rows and returns
// how many runs were removed
func (d *DB) PruneRuns(ctx context.Context, keep int) (int64, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const stale = `SELECT id FROM runs WHERE id NOT IN (
		SELECT id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?)`
	for _, table := range []string{"nodes", "call_paths", "artifacts"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id IN (`+stale+`)`, keep); err != nil {
			return 0, fmt.Errorf("pruning %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+stale+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
