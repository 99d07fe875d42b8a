package db

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Row is one result record. Columns keep the result-set order and share
// their backing slice with every other row of the same result.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column, matched case-insensitively.
// NULL and a missing column both return nil.
func (r Row) Get(name string) any {
	if i := r.index(name); i >= 0 {
		return r.Values[i]
	}
	return nil
}

// Has reports whether the row carries the named column.
func (r Row) Has(name string) bool {
	return r.index(name) >= 0
}

func (r Row) index(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Map copies the row into a plain map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// MarshalJSON encodes the row as an object whose keys follow column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
