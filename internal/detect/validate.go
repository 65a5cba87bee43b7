package detect

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/amount"
)

// ValidThreshold is the minimum confidence for a sample to be accepted.
const ValidThreshold = 70

// Validation is the outcome of checking sample rows against a detected format.
type Validation struct {
	Valid      bool     `json:"valid"`
	Confidence int      `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
}

// ColumnMapping lists candidate column names per semantic field, most specific first.
type ColumnMapping struct {
	Date          []string
	ProcessedDate []string
	Amount        []string
	Description   []string
	Type          []string
	Reference     []string
	Particulars   []string
	Card          []string
}

// Mappings returns the candidate columns for a format. Unknown has none.
func Mappings(f Format) ColumnMapping {
	switch f {
	case FormatBankLedger:
		return ColumnMapping{
			Date:        []string{"date", "transaction_date", "txn_date"},
			Amount:      []string{"amount", "amt"},
			Description: []string{"details", "particulars", "description", "narrative"},
			Type:        []string{"type", "transaction_type", "dc"},
			Reference:   []string{"reference", "ref", "code"},
			Particulars: []string{"particulars", "details"},
		}
	case FormatCardStatement:
		return ColumnMapping{
			Date:          []string{"transactiondate", "transaction_date", "date"},
			ProcessedDate: []string{"processeddate", "processed_date"},
			Amount:        []string{"amount", "amt"},
			Description:   []string{"details", "description", "merchant"},
			Type:          []string{"type", "transaction_type"},
			Card:          []string{"card", "card_number", "instrument"},
		}
	default:
		return ColumnMapping{}
	}
}

// Validate scores the first sample row against the format's expected columns.
//
// Each required field (date, amount, description) present with data adds 20.
// A format marker column adds 10, a date containing '/' or '-' adds 10 and a
// numeric amount adds 10. The sample is valid at ValidThreshold with no issues.
func Validate(f Format, sampleRows []map[string]string) Validation {
	if f == FormatUnknown {
		return Validation{Issues: []string{"Format could not be determined"}}
	}
	if len(sampleRows) == 0 {
		return Validation{Issues: []string{"No sample data provided"}}
	}

	row := lowerKeys(sampleRows[0])
	m := Mappings(f)

	var issues []string
	confidence := 0

	required := []struct {
		name       string
		candidates []string
	}{
		{"date", m.Date},
		{"amount", m.Amount},
		{"description", m.Description},
	}
	for _, field := range required {
		col, ok := findColumn(row, field.candidates)
		switch {
		case !ok:
			issues = append(issues, fmt.Sprintf("Required field %s not found in data", field.name))
		case strings.TrimSpace(row[col]) == "":
			issues = append(issues, fmt.Sprintf("Required field %s is empty in sample data", field.name))
		default:
			confidence += 20
		}
	}

	switch f {
	case FormatBankLedger:
		if row["particulars"] != "" || row["code"] != "" {
			confidence += 10
		}
	case FormatCardStatement:
		if row["card"] != "" || row["processeddate"] != "" {
			confidence += 10
		}
	}

	if col, ok := findColumn(row, m.Date); ok && row[col] != "" {
		date := strings.TrimSpace(row[col])
		if strings.ContainsAny(date, "/-") {
			confidence += 10
		} else {
			issues = append(issues, "Date format not recognized")
		}
	}

	if col, ok := findColumn(row, m.Amount); ok && row[col] != "" {
		if amount.IsNumeric(row[col]) {
			confidence += 10
		} else {
			issues = append(issues, "Amount field contains non-numeric data")
		}
	}

	if confidence > 100 {
		confidence = 100
	}

	return Validation{
		Valid:      confidence >= ValidThreshold && len(issues) == 0,
		Confidence: confidence,
		Issues:     issues,
	}
}

// findColumn returns the first candidate present in row.
func findColumn(row map[string]string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if _, ok := row[c]; ok {
			return c, true
		}
	}
	return "", false
}

func lowerKeys(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
