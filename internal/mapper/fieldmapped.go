package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/amount"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/normalize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// ErrIncompleteMapping is returned when a field mapping lacks date, amount or description.
var ErrIncompleteMapping = errors.New("field mapping must name date, amount and description columns")

// concatSeparator joins the columns of a Concat description.
const concatSeparator = " - "

// Description selects the column or columns that make up a line description.
// Build one with Single or Concat; the zero value maps nothing.
type Description struct {
	columns []string
	concat  bool
}

// Single uses one column as the description.
func Single(col string) Description {
	return Description{columns: []string{col}}
}

// Concat joins the non-empty values of cols with " - ".
func Concat(cols ...string) Description {
	return Description{columns: append([]string(nil), cols...), concat: true}
}

// Columns returns the source columns.
func (d Description) Columns() []string { return d.columns }

// IsConcat reports whether the description joins several columns.
func (d Description) IsConcat() bool { return d.concat }

// IsZero reports whether no column is selected.
func (d Description) IsZero() bool {
	for _, c := range d.columns {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (d Description) value(rec *parser.Record) string {
	if !d.concat {
		if len(d.columns) == 0 {
			return ""
		}
		return rec.GetExact(d.columns[0])
	}
	var parts []string
	for _, c := range d.columns {
		if v := rec.GetExact(c); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, concatSeparator)
}

// MarshalJSON writes a single column as a string and a concat as an array.
func (d Description) MarshalJSON() ([]byte, error) {
	if d.concat {
		return json.Marshal(d.columns)
	}
	if len(d.columns) == 0 {
		return json.Marshal("")
	}
	return json.Marshal(d.columns[0])
}

// UnmarshalJSON accepts either "Column" or ["Column", "Other"].
func (d *Description) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*d = Single(single)
		return nil
	}
	var cols []string
	if err := json.Unmarshal(b, &cols); err != nil {
		return fmt.Errorf("description must be a column name or a list of column names: %w", err)
	}
	*d = Concat(cols...)
	return nil
}

// FieldMapping names the source columns for a statement layout the detector does not know.
type FieldMapping struct {
	Date        string      `json:"date"`
	Amount      string      `json:"amount"`
	Type        string      `json:"type,omitempty"`
	Description Description `json:"description"`
}

// Complete reports whether date, amount and description are all mapped.
func (m FieldMapping) Complete() bool {
	return strings.TrimSpace(m.Date) != "" &&
		strings.TrimSpace(m.Amount) != "" &&
		!m.Description.IsZero()
}

// Missing returns the mapped columns that do not appear in headers.
// Column names match headers case-sensitively.
func (m FieldMapping) Missing(headers []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.TrimSpace(h)] = true
	}

	cols := []string{m.Date, m.Amount, m.Type}
	cols = append(cols, m.Description.Columns()...)

	var missing []string
	for _, c := range cols {
		c = strings.TrimSpace(c)
		if c != "" && !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// FieldMapped maps rows using a caller supplied FieldMapping.
type FieldMapped struct {
	mapping FieldMapping
}

// NewFieldMapped returns a mapper for m, which must be complete.
func NewFieldMapped(m FieldMapping) (*FieldMapped, error) {
	if !m.Complete() {
		return nil, ErrIncompleteMapping
	}
	return &FieldMapped{mapping: m}, nil
}

// Mapping returns the mapping in use.
func (f *FieldMapped) Mapping() FieldMapping { return f.mapping }

// Map implements Mapper. Without a type column the sign comes from polarity.
func (f *FieldMapped) Map(rec *parser.Record, acct domain.AccountConfig) (*domain.StatementLine, error) {
	dateValue := rec.GetExact(f.mapping.Date)
	date, err := parseDate(dateValue, "date")
	if err != nil {
		return nil, err
	}

	amountValue := rec.GetExact(f.mapping.Amount)
	raw, err := parseAmount(amountValue)
	if err != nil {
		return nil, err
	}

	var typeValue string
	if f.mapping.Type != "" {
		typeValue = rec.GetExact(f.mapping.Type)
	}
	txnType := amount.ClassifyType(typeValue)

	description := f.mapping.Description.value(rec)
	signed := amount.Resolve(acct.Polarity, raw, txnType)

	line := newLine(acct, rec.Index(), rec.Line())
	line.Date = date
	line.Description = description
	line.NormalizedDescription = normalize.NormalizeDescription(description)
	line.RawAmount = raw
	line.Type = txnType
	line.SignedAmount = signed
	line.DedupeHash = normalize.Hash(dateValue, description, amountValue, typeValue)
	line.RawJSON = rec.JSON()
	return line, nil
}
