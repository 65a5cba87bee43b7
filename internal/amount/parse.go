package amount

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the precision used for rounding and comparisons.
const CurrencyPlaces = 2

// Epsilon is the tolerance used when comparing currency amounts.
var Epsilon = decimal.New(1, -CurrencyPlaces)

var amountStripper = strings.NewReplacer(
	"$", "", "€", "", "£", "", "¥", "",
	",", "", " ", "", "\t", "", "\u00a0", "",
	"NZD", "", "AUD", "", "USD", "", "EUR", "", "GBP", "",
)

// Parse converts a source amount string into a decimal.
// Currency symbols, thousands separators and whitespace are ignored.
// "(12.50)" and "12.50-" are read as negatives.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}

	s = amountStripper.Replace(strings.ToUpper(s))

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount %q has no digits", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// IsNumeric reports whether Parse accepts raw.
func IsNumeric(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// Round rounds to currency precision, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// Equal reports whether two amounts differ by less than one cent.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}
