// Package amount owns the signed-amount convention.
//
// Positive signed amounts increase the account balance, negative amounts decrease it.
// No other package may flip or derive signs.
package amount

import (
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/shopspring/decimal"
)

// Resolve computes the signed amount for a raw source amount.
//
// An explicit type tag wins: credits are always +|raw| and debits always -|raw|.
// Without a tag the account polarity decides; polarity=true keeps the source sign.
func Resolve(polarity bool, raw decimal.Decimal, t domain.TxnType) decimal.Decimal {
	switch t {
	case domain.TxnTypeCredit:
		return raw.Abs()
	case domain.TxnTypeDebit:
		return raw.Abs().Neg()
	}
	if polarity {
		return raw
	}
	return raw.Neg()
}

// ClassifyType maps a free-form source type tag onto a TxnType.
// "C", "CREDIT" and anything starting with C are credits; the same for D and debits.
func ClassifyType(tag string) domain.TxnType {
	upper := strings.ToUpper(strings.TrimSpace(tag))
	switch {
	case upper == "":
		return domain.TxnTypeUnknown
	case upper == "C" || upper == "CREDIT" || strings.HasPrefix(upper, "C"):
		return domain.TxnTypeCredit
	case upper == "D" || upper == "DEBIT" || strings.HasPrefix(upper, "D"):
		return domain.TxnTypeDebit
	default:
		return domain.TxnTypeUnknown
	}
}
