package mapper

import (
	"regexp"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/amount"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/detect"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/normalize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

var lastFourDigits = regexp.MustCompile(`(\d{4})$`)

// Card maps "Card, Type, Amount, Details, TransactionDate, ProcessedDate" exports.
type Card struct{}

// Map implements Mapper.
func (Card) Map(rec *parser.Record, acct domain.AccountConfig) (*domain.StatementLine, error) {
	cols := detect.Mappings(detect.FormatCardStatement)

	dateValue, _ := rec.First(cols.Date...)
	date, err := parseDate(dateValue, "transaction date")
	if err != nil {
		return nil, err
	}

	// Processed date is informational; an unreadable one is dropped.
	var processed string
	if v, ok := rec.First(cols.ProcessedDate...); ok && v != "" {
		if r := normalize.NormalizeDate(v, normalize.ModeBankImport); r.OK() {
			processed = r.Parsed
		}
	}

	amountValue, _ := rec.First(cols.Amount...)
	raw, err := parseAmount(amountValue)
	if err != nil {
		return nil, err
	}

	typeValue, _ := rec.First(cols.Type...)
	txnType := amount.ClassifyType(typeValue)

	description, _ := rec.First(cols.Description...)
	norm := normalize.NormalizeDescription(description)

	cardValue, _ := rec.First(cols.Card...)
	instrument := InstrumentID(cardValue)

	signed := amount.Resolve(acct.Polarity, raw, txnType)

	line := newLine(acct, rec.Index(), rec.Line())
	line.Date = date
	line.ProcessedDate = processed
	line.Description = description
	line.NormalizedDescription = norm
	line.RawAmount = raw
	line.Type = txnType
	line.SignedAmount = signed
	line.InstrumentID = instrument
	line.DedupeHash = cardHash(date, instrument, norm, signed.String(), txnType)
	line.RawJSON = rec.JSON()
	return line, nil
}

func cardHash(date, instrument, norm, signed string, t domain.TxnType) string {
	if instrument == "" {
		return normalize.Hash(date, norm, signed, string(t))
	}
	return normalize.Hash(date, instrument, norm, signed, string(t))
}

// InstrumentID returns the last four digits of a card number, or "" when the
// value does not end in four digits ("4835-****-****-1234" → "1234").
func InstrumentID(card string) string {
	m := lastFourDigits.FindStringSubmatch(strings.TrimSpace(card))
	if m == nil {
		return ""
	}
	return m[1]
}
