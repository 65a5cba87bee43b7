package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/amount"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/normalize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parsers/ofx"
)

const fallbackDescription = "Transaction"

var interchangeTypes = map[string]domain.TxnType{
	"CREDIT": domain.TxnTypeCredit,
	"INT":    domain.TxnTypeCredit,
	"DIV":    domain.TxnTypeCredit,
	"DEP":    domain.TxnTypeCredit,
	"DEBIT":  domain.TxnTypeDebit,
	"FEE":    domain.TxnTypeDebit,
	"SRVCHG": domain.TxnTypeDebit,
	"ATM":    domain.TxnTypeDebit,
	"POS":    domain.TxnTypeDebit,
	"CHECK":  domain.TxnTypeDebit,
}

// InterchangeType maps an OFX TRNTYPE code to a type tag.
// XFER, PAYMENT and unrecognised codes follow the sign of the amount.
func InterchangeType(code string, amt decimal.Decimal) domain.TxnType {
	if t, ok := interchangeTypes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t
	}
	if amt.IsNegative() {
		return domain.TxnTypeDebit
	}
	return domain.TxnTypeCredit
}

// MapInterchange converts one interchange transaction into a statement line.
// Lines with a FITID hash on account and FITID so re-downloaded files dedupe
// even when the bank rewrites names or memos.
func MapInterchange(txn ofx.Transaction, acct domain.AccountConfig) (*domain.StatementLine, error) {
	if txn.DatePosted.IsZero() {
		return nil, fmt.Errorf("%w: transaction %d has no posted date", ErrMalformedRow, txn.Index)
	}
	date := txn.DatePosted.Format(domain.DateLayout)

	description := interchangeDescription(txn.Name, txn.Memo)
	norm := normalize.NormalizeDescription(description)

	txnType := InterchangeType(txn.TrnType, txn.Amount)
	signed := amount.Resolve(acct.Polarity, txn.Amount, txnType)

	line := newLine(acct, txn.Index, txn.Index+1)
	line.Date = date
	line.Description = description
	line.NormalizedDescription = norm
	line.RawAmount = txn.Amount
	line.Type = txnType
	line.SignedAmount = signed
	line.ProviderID = txn.FITID
	line.BankReference = txn.RefNum
	if line.BankReference == "" {
		line.BankReference = txn.CheckNum
	}

	if txn.FITID != "" {
		line.DedupeHash = normalize.Hash(acct.AccountID, txn.FITID)
	} else {
		line.DedupeHash = normalize.Hash(date, norm, signed.String(), string(txnType))
	}

	raw, err := json.Marshal(map[string]string{
		"fitId":      txn.FITID,
		"trnType":    txn.TrnType,
		"datePosted": date,
		"amount":     txn.Amount.String(),
		"name":       txn.Name,
		"memo":       txn.Memo,
		"checkNum":   txn.CheckNum,
		"refNum":     txn.RefNum,
	})
	if err == nil {
		line.RawJSON = string(raw)
	}
	return line, nil
}

func interchangeDescription(name, memo string) string {
	var parts []string
	for _, p := range []string{name, memo} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return fallbackDescription
	}
	return strings.Join(parts, " - ")
}
