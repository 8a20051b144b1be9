package paths

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator joins source label and call id in index keys
const KeySeparator = "::"

// Key composes the index key for a call of a source
func Key(source, callID string) string {
	return source + KeySeparator + callID
}

// SplitKey is the inverse of Key. Source labels may not contain the
// separator; the call id is everything after the first one.
func SplitKey(key string) (source, callID string) {
	i := strings.Index(key, KeySeparator)
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+len(KeySeparator):]
}

// Index maps source-qualified keys to call paths
type Index struct {
	records map[string]CallPathRecord
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{records: make(map[string]CallPathRecord)}
}

// Put stores rec under its key, replacing any previous record for it
func (ix *Index) Put(rec CallPathRecord) {
	ix.records[rec.Key()] = rec
}

// Get returns the record stored under key
func (ix *Index) Get(key string) (CallPathRecord, bool) {
	rec, ok := ix.records[key]
	return rec, ok
}

// Len returns the number of records
func (ix *Index) Len() int { return len(ix.records) }

// Keys returns all keys sorted ascending
func (ix *Index) Keys() []string {
	keys := make([]string, 0, len(ix.records))
	for k := range ix.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Records returns all records ordered by key
func (ix *Index) Records() []CallPathRecord {
	out := make([]CallPathRecord, 0, len(ix.records))
	for _, k := range ix.Keys() {
		out = append(out, ix.records[k])
	}
	return out
}

// MarshalJSON writes the aggregated path artifact: key -> record
func (ix *Index) MarshalJSON() ([]byte, error) {
	return json.Marshal(ix.records)
}

// DecodeIndex reads an aggregated path artifact. Opaque entries are kept and counted.
func DecodeIndex(data []byte, logger *slog.Logger) (*Index, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0, fmt.Errorf("decoding path index: %w", err)
	}
	ix := NewIndex()
	opaque := 0
	for key, raw := range entries {
		source, callID := SplitKey(key)
		rec, err := DecodeEntry(source, callID, raw)
		if errors.Is(err, ErrShapeMismatch) {
			opaque++
			logger.Debug("opaque path entry", "key", key, "err", err)
		}
		// the artifact's own key is authoritative
		rec.Source, rec.CallID = source, callID
		ix.records[key] = rec
	}
	return ix, opaque, nil
}

// DecodeRun reads one run's path collection (call_id -> entry) for source label.
// Records are returned in call order (numeric ids first, then lexical).
func DecodeRun(label string, data []byte, logger *slog.Logger) ([]CallPathRecord, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0, fmt.Errorf("decoding call paths: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	SortCallIDs(ids)

	out := make([]CallPathRecord, 0, len(ids))
	opaque := 0
	for _, id := range ids {
		rec, err := DecodeEntry(label, id, entries[id])
		if errors.Is(err, ErrShapeMismatch) {
			opaque++
			logger.Debug("opaque path entry", "source", label, "call_id", id, "err", err)
		}
		// keys come from the collection, never from the entry body
		rec.Source, rec.CallID = label, id
		out = append(out, rec)
	}
	return out, opaque, nil
}

// EncodeRun writes one run's path collection keyed by call id, in the order given
func EncodeRun(records []CallPathRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(rec.CallID)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(runEntryJSON{
			CallID:   rec.CallID,
			CallDate: rec.CallDate,
			Weekday:  rec.Weekday,
			Path:     rec.path(),
		})
		if err != nil {
			return nil, fmt.Errorf("encoding call %s: %w", rec.CallID, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SortCallIDs orders call ids numerically when they parse as integers, then lexically
func SortCallIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			if a != b {
				return a < b
			}
			return ids[i] < ids[j]
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
