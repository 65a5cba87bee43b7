package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/mapper"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/suggest"
)

// Code identifies a class of ingestion failure.
type Code string

const (
	CodeMalformedRow         Code = "MALFORMED_ROW"
	CodeUnknownFormat        Code = "UNKNOWN_FORMAT"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeDuplicateFile        Code = "DUPLICATE_FILE"
	CodeMissingFieldMapping  Code = "MISSING_FIELD_MAPPING"
	CodeFrequencyUnavailable Code = "FREQUENCY_SERVICE_UNAVAILABLE"
	CodeUnknown              Code = ""
)

// Error is a file-level ingestion failure. Match it with errors.Is against
// the Err* sentinels, which compare by code.
type Error struct {
	Code    Code
	Message string
	Headers []string // file headers, when a mapping is needed
	Issues  []string // validation findings
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Issues) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Issues, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrMalformedRow         = &Error{Code: CodeMalformedRow}
	ErrUnknownFormat        = &Error{Code: CodeUnknownFormat}
	ErrValidationFailed     = &Error{Code: CodeValidationFailed}
	ErrDuplicateFile        = &Error{Code: CodeDuplicateFile}
	ErrMissingFieldMapping  = &Error{Code: CodeMissingFieldMapping}
	ErrFrequencyUnavailable = &Error{Code: CodeFrequencyUnavailable}
)

// CodeOf returns the code for err, recognising errors from the mapper, the
// readers, the stores and the suggestion engine. Unrecognised errors give CodeUnknown.
func CodeOf(err error) Code {
	var pe *Error
	switch {
	case err == nil:
		return CodeUnknown
	case errors.As(err, &pe):
		return pe.Code
	case errors.Is(err, mapper.ErrMalformedRow), errors.Is(err, parser.ErrMalformedRecord):
		return CodeMalformedRow
	case errors.Is(err, store.ErrDuplicateFile):
		return CodeDuplicateFile
	case errors.Is(err, suggest.ErrFrequencyUnavailable):
		return CodeFrequencyUnavailable
	default:
		return CodeUnknown
	}
}

// RowError records a source row that was skipped.
type RowError struct {
	Index int   `json:"index"`
	Line  int   `json:"line"`
	Err   error `json:"-"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (line %d): %v", e.Index, e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// MarshalJSON includes the error text.
func (e RowError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Index int    `json:"index"`
		Line  int    `json:"line"`
		Error string `json:"error"`
	}{e.Index, e.Line, msg})
}
