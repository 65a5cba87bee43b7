// Package detect identifies statement layouts from headers and file content.
package detect

import "strings"

// Format is a recognized delimited statement layout.
type Format string

const (
	FormatBankLedger    Format = "bank-ledger"
	FormatCardStatement Format = "card"
	FormatUnknown       Format = "unknown"
)

// MinIndicatorMatches is the number of indicator columns a layout needs to qualify.
const MinIndicatorMatches = 4

var (
	bankLedgerIndicators = []string{"type", "details", "particulars", "code", "reference", "amount", "date"}
	cardIndicators       = []string{"card", "type", "amount", "details", "transactiondate", "processeddate"}
)

// DetectFormat classifies a header row. Matching ignores case and surrounding whitespace.
// When both layouts qualify the one with more matching columns wins; a tie is Unknown.
func DetectFormat(headers []string) Format {
	if len(headers) == 0 {
		return FormatUnknown
	}

	set := make(map[string]bool, len(headers))
	for _, h := range headers {
		set[strings.ToLower(strings.TrimSpace(h))] = true
	}

	bank := countMatches(set, bankLedgerIndicators)
	card := countMatches(set, cardIndicators)

	bankOK := bank >= MinIndicatorMatches
	cardOK := card >= MinIndicatorMatches

	switch {
	case bankOK && cardOK:
		if bank > card {
			return FormatBankLedger
		}
		if card > bank {
			return FormatCardStatement
		}
		return FormatUnknown
	case bankOK:
		return FormatBankLedger
	case cardOK:
		return FormatCardStatement
	default:
		return FormatUnknown
	}
}

func countMatches(set map[string]bool, indicators []string) int {
	n := 0
	for _, ind := range indicators {
		if set[ind] {
			n++
		}
	}
	return n
}

// DisplayName returns a human-readable format name.
func DisplayName(f Format) string {
	switch f {
	case FormatBankLedger:
		return "Bank Ledger CSV"
	case FormatCardStatement:
		return "Card Statement CSV"
	default:
		return "Unknown Format"
	}
}

// Description describes the columns a format expects.
func Description(f Format) string {
	switch f {
	case FormatBankLedger:
		return "Bank account statement with columns: Type, Details, Particulars, Code, Reference, Amount, Date"
	case FormatCardStatement:
		return "Credit/debit card statement with columns: Card, Type, Amount, Details, TransactionDate, ProcessedDate"
	default:
		return "Unknown format - please check your CSV file structure"
	}
}
