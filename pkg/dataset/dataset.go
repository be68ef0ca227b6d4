// Package dataset holds the records served by the admission controller and
// slices them into projected pages.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Sternrassler/leaky-pager/pkg/query"
)

// ErrNotArray is returned when the dataset file is not a JSON array of objects.
var ErrNotArray = errors.New("dataset must be a JSON array of objects")

type record struct {
	raw    json.RawMessage
	fields map[string]json.RawMessage
}

// Memory is an immutable in-memory dataset. It is safe for concurrent reads.
type Memory struct {
	records []record
}

// Load reads a dataset from a JSON file.
func Load(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(data)
}

// Parse builds a dataset from a JSON array of objects.
func Parse(data []byte) (*Memory, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArray, err)
	}

	m := &Memory{records: make([]record, 0, len(raws))}
	for i, raw := range raws {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("%w: record %d is not an object", ErrNotArray, i)
		}
		m.records = append(m.records, record{raw: compact(raw), fields: fields})
	}

	return m, nil
}

// Len returns the number of records.
func (m *Memory) Len() int {
	return len(m.records)
}

// Page returns the page-th chunk of size records, projected to fields.
//
// With no fields the records are returned as stored. Otherwise each record is
// re-encoded with only the selected fields, in schema order; fields a record
// does not carry are omitted. A page past the end yields an empty, non-nil slice.
func (m *Memory) Page(page int, size uint16, fields []string) []json.RawMessage {
	if size == 0 {
		size = query.DefaultPageSize
	}

	out := []json.RawMessage{}
	pages := (len(m.records) + int(size) - 1) / int(size)
	if page < 0 || page >= pages {
		return out
	}

	start := page * int(size)
	end := min(start+int(size), len(m.records))

	selected := schemaOrder(fields)
	for _, r := range m.records[start:end] {
		if selected == nil {
			out = append(out, r.raw)
			continue
		}
		out = append(out, project(r, selected))
	}

	return out
}

func schemaOrder(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}

	ordered := make([]string, 0, len(want))
	for _, f := range query.Fields {
		if want[f] {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

func project(r record, fields []string) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range fields {
		v, ok := r.fields[f]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(f)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(compact(v))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
