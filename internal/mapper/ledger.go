package mapper

import (
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/amount"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/detect"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/normalize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// ledgerDescriptionColumns are joined, in order, into the line description.
var ledgerDescriptionColumns = []string{"type", "details", "particulars", "code", "reference"}

// BankLedger maps "Type, Details, Particulars, Code, Reference, Amount, Date" exports.
// The Type column is free text ("Eft-Pos", "Salary"), not a credit/debit flag,
// so the sign always comes from the account polarity.
type BankLedger struct{}

// Map implements Mapper.
func (BankLedger) Map(rec *parser.Record, acct domain.AccountConfig) (*domain.StatementLine, error) {
	cols := detect.Mappings(detect.FormatBankLedger)

	dateValue, _ := rec.First(cols.Date...)
	date, err := parseDate(dateValue, "date")
	if err != nil {
		return nil, err
	}

	amountValue, _ := rec.First(cols.Amount...)
	raw, err := parseAmount(amountValue)
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, col := range ledgerDescriptionColumns {
		if v := rec.Get(col); v != "" {
			parts = append(parts, v)
		}
	}
	description := strings.Join(parts, " | ")
	norm := normalize.NormalizeDescription(description)

	signed := amount.Resolve(acct.Polarity, raw, domain.TxnTypeUnknown)

	line := newLine(acct, rec.Index(), rec.Line())
	line.Date = date
	line.Description = description
	line.NormalizedDescription = norm
	line.RawAmount = raw
	line.Type = domain.TxnTypeUnknown
	line.SignedAmount = signed
	line.BankReference = rec.Get("reference")
	line.DedupeHash = normalize.Hash(date, norm, signed.String(), string(domain.TxnTypeUnknown))
	line.RawJSON = rec.JSON()
	return line, nil
}
