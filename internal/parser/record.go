// Package parser defines the raw record types produced by the statement readers.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRecord marks a source row the reader could not split into fields.
// Readers return it wrapped; callers may keep reading after it.
var ErrMalformedRecord = errors.New("malformed record")

// Reader streams the data rows of a delimited statement.
type Reader interface {
	// Headers returns the header row as it appeared in the file
	Headers() []string

	// Next returns the next data row, or io.EOF when the input is exhausted
	Next(ctx context.Context) (*Record, error)
}

// Record is one data row keyed by header column.
// Lookups ignore header case and surrounding whitespace, except LookupExact.
type Record struct {
	index   int
	line    int
	headers []string
	values  []string
	byKey   map[string]int
}

// NewRecord creates a record for the data row at index (0-based) found on line (1-based).
// Missing trailing values read as empty; values beyond the header row are dropped.
func NewRecord(index, line int, headers, values []string) (*Record, error) {
	if index < 0 {
		return nil, fmt.Errorf("record index cannot be negative: %d", index)
	}
	if line < 1 {
		return nil, fmt.Errorf("record line must be positive: %d", line)
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("record at line %d has no headers", line)
	}

	row := make([]string, len(headers))
	copy(row, values)

	byKey := make(map[string]int, len(headers))
	for i, h := range headers {
		key := headerKey(h)
		if _, dup := byKey[key]; !dup {
			byKey[key] = i
		}
	}

	return &Record{
		index:   index,
		line:    line,
		headers: headers,
		values:  row,
		byKey:   byKey,
	}, nil
}

func headerKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Index returns the 0-based position of the row among data rows.
func (r *Record) Index() int { return r.index }

// Line returns the 1-based line the row started on.
func (r *Record) Line() int { return r.line }

// Headers returns the header row.
func (r *Record) Headers() []string { return r.headers }

// Lookup returns the trimmed value of column col and whether the column exists.
func (r *Record) Lookup(col string) (string, bool) {
	i, ok := r.byKey[headerKey(col)]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(r.values[i]), true
}

// LookupExact is Lookup with a case-sensitive header match. Surrounding
// whitespace is still ignored. Caller supplied column names use it.
func (r *Record) LookupExact(col string) (string, bool) {
	col = strings.TrimSpace(col)
	for i, h := range r.headers {
		if strings.TrimSpace(h) == col {
			return strings.TrimSpace(r.values[i]), true
		}
	}
	return "", false
}

// GetExact returns the LookupExact value of col, or "" when the column is absent.
func (r *Record) GetExact(col string) string {
	v, _ := r.LookupExact(col)
	return v
}

// Get returns the trimmed value of column col, or "" when the column is absent.
func (r *Record) Get(col string) string {
	v, _ := r.Lookup(col)
	return v
}

// First returns the value of the first candidate column present in the record.
func (r *Record) First(cols ...string) (string, bool) {
	for _, c := range cols {
		if v, ok := r.Lookup(c); ok {
			return v, true
		}
	}
	return "", false
}

// Map returns the row keyed by lowercased header, the shape used for format validation.
func (r *Record) Map() map[string]string {
	m := make(map[string]string, len(r.headers))
	for key, i := range r.byKey {
		m[key] = r.values[i]
	}
	return m
}

// JSON returns the row encoded as a JSON object keyed by the original headers.
func (r *Record) JSON() string {
	m := make(map[string]string, len(r.headers))
	for i, h := range r.headers {
		if _, seen := m[h]; !seen {
			m[h] = r.values[i]
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
