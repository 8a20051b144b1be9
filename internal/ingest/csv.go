package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/wiredvibez/callcenter-fileanalyzer/internal/forest"
	"github.com/wiredvibez/callcenter-fileanalyzer/internal/paths"
)

// Column names of the call export
const (
	ColCallID   = "call_id"
	ColCallDate = "call_date"
	ColRuleID   = "rule_id"
	ColParentID = "rule_parent_id"
	ColText     = "rule_text"
	ColURL      = "popUpURL"
)

// ErrMissingColumn is returned when the header lacks a required column
var ErrMissingColumn = errors.New("missing column")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var unsafeStem = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Run is the result of reading one export: the run's node registry and its
// call paths ordered by call id
type Run struct {
	Label    string
	Registry *forest.Registry
	Records  []paths.CallPathRecord
	Rows     int
}

// SafeStem turns a file name into a source label: the base name without
// extension, with runs of unsafe characters replaced by "_"
func SafeStem(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Trim(unsafeStem.ReplaceAllString(stem, "_"), "_")
}

// FindCSV lists *.csv files in dir, sorted by name
func FindCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile reads one export file, labelled by its safe stem
func ReadFile(path string, logger *slog.Logger) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	run, err := Read(f, SafeStem(path), logger)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return run, nil
}

type callMeta struct {
	date    *string
	weekday *int
	steps   []paths.PathStep
}

// Read parses a call export. Each row is one node observation and one step
// of its call. Rows with an unparseable rule_id are skipped.
func Read(r io.Reader, label string, logger *slog.Logger) (*Run, error) {
	if logger == nil {
		logger = slog.Default()
	}
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Run{Label: label, Registry: forest.NewRegistry(label, logger), Records: []paths.CallPathRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	if _, ok := cols[ColRuleID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColRuleID)
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	reg := forest.NewRegistry(label, logger)
	calls := make(map[string]*callMeta)
	rows := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rows+1, err)
		}
		rows++

		callID := field(row, ColCallID)
		meta := calls[callID]
		if callID != "" && meta == nil {
			meta = &callMeta{}
			if raw := field(row, ColCallDate); raw != "" {
				meta.date = &raw
				if t, ok := ParseDate(raw); ok {
					wd := ISOWeekday(t)
					meta.weekday = &wd
				}
			}
			calls[callID] = meta
		}

		raw := forest.RawObservation{
			RuleID:   field(row, ColRuleID),
			ParentID: field(row, ColParentID),
			Text:     field(row, ColText),
			URL:      field(row, ColURL),
		}
		if err := reg.ObserveRaw(raw); err != nil {
			continue
		}
		if meta == nil {
			continue
		}
		obs, _ := forest.ParseObservation(raw)
		meta.steps = append(meta.steps, stepFor(reg, obs))
	}

	ids := make([]string, 0, len(calls))
	for id := range calls {
		ids = append(ids, id)
	}
	paths.SortCallIDs(ids)
	records := make([]paths.CallPathRecord, 0, len(ids))
	for _, id := range ids {
		meta := calls[id]
		steps := meta.steps
		if steps == nil {
			steps = []paths.PathStep{}
		}
		records = append(records, paths.CallPathRecord{
			Source:   label,
			CallID:   id,
			CallDate: meta.date,
			Weekday:  meta.weekday,
			Shape:    paths.ShapeRecord,
			Steps:    steps,
		})
	}
	return &Run{Label: label, Registry: reg, Records: records, Rows: rows}, nil
}

// stepFor snapshots the row's text and url, falling back to the canonical
// node's values when the row leaves them blank
func stepFor(reg *forest.Registry, obs forest.Observation) paths.PathStep {
	step := paths.PathStep{RuleID: obs.RuleID, Text: obs.Text, URL: obs.URL}
	if n, ok := reg.Node(obs.RuleID); ok {
		if step.Text == "" {
			step.Text = n.Text
		}
		if step.URL == nil {
			step.URL = n.URL
		}
	}
	return step
}
