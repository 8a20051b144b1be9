package graph

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ByID is an id-keyed map that serializes with keys in ascending numeric order
type ByID[V any] map[int]V

// IDs returns the keys sorted ascending
func (m ByID[V]) IDs() []int { return sortedKeys(m) }

// MarshalJSON writes {"<id>": value, ...} ordered by id
func (m ByID[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range m.IDs() {
		if i > 0 {
			buf.WriteByte(',')
		}
		v, err := json.Marshal(m[id])
		if err != nil {
			return nil, err
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(id)))
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
