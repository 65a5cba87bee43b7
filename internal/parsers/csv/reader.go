// Package csv provides the streaming header-driven reader for delimited statements
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

const utf8BOM = "\ufeff"

// Reader yields one parser.Record per data row.
// The first non-blank row is the header row. Rows are read lazily so large
// statements are never held in memory by the reader.
type Reader struct {
	csv     *csv.Reader
	headers []string
	index   int
	meta    *parser.Metadata
}

// NewReader reads the header row and returns a reader positioned at the first data row.
func NewReader(r io.Reader, meta *parser.Metadata) (*Reader, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("CSV file is empty%s", parser.FileInfo(meta))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV header%s: %w", parser.FileInfo(meta), err)
		}
		if isBlank(record) {
			continue
		}

		record[0] = strings.TrimPrefix(record[0], utf8BOM)
		headers := make([]string, len(record))
		for i, h := range record {
			headers[i] = strings.TrimSpace(h)
		}

		return &Reader{
			csv:     csvReader,
			headers: headers,
			meta:    meta,
		}, nil
	}
}

// Headers returns the header row with surrounding whitespace removed.
func (r *Reader) Headers() []string {
	return r.headers
}

// Next returns the next non-blank data row or io.EOF.
// A row the CSV layer rejects is returned as an error wrapping
// parser.ErrMalformedRecord; reading may continue afterwards.
func (r *Reader) Next(ctx context.Context) (*parser.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		record, err := r.csv.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				index := r.index
				r.index++
				return nil, fmt.Errorf("row %d (line %d)%s: %w: %v", index, parseErr.StartLine, parser.FileInfo(r.meta), parser.ErrMalformedRecord, parseErr.Err)
			}
			return nil, fmt.Errorf("failed to read CSV content%s: %w", parser.FileInfo(r.meta), err)
		}
		if isBlank(record) {
			continue
		}

		line, _ := r.csv.FieldPos(0)
		rec, err := parser.NewRecord(r.index, line, r.headers, record)
		if err != nil {
			return nil, fmt.Errorf("failed to build record%s: %w", parser.FileInfo(r.meta), err)
		}
		r.index++
		return rec, nil
	}
}

// isBlank reports whether every field of a row is whitespace.
func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
