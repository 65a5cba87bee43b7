package amount

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Allocate divides total into shares proportional to percentages, which
// should sum to 100. Shares are truncated to cents, then the leftover cents
// go to the largest truncation remainders (later shares win ties) and any
// sub-cent rest joins the last share.
//
// Every share carries the sign of total or is zero, and the shares sum
// exactly to total.
func Allocate(total decimal.Decimal, percentages []decimal.Decimal) []decimal.Decimal {
	n := len(percentages)
	if n == 0 {
		return nil
	}

	mag := total.Abs()
	shares := make([]decimal.Decimal, n)
	rests := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i, pct := range percentages {
		exact := mag.Mul(pct).Div(hundred)
		shares[i] = exact.Truncate(CurrencyPlaces)
		rests[i] = exact.Sub(shares[i])
		allocated = allocated.Add(shares[i])
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if c := rests[order[a]].Cmp(rests[order[b]]); c != 0 {
			return c > 0
		}
		return order[a] > order[b]
	})

	leftover := mag.Sub(allocated)
	for _, i := range order {
		if leftover.LessThan(Epsilon) {
			break
		}
		shares[i] = shares[i].Add(Epsilon)
		leftover = leftover.Sub(Epsilon)
	}
	shares[n-1] = shares[n-1].Add(leftover)

	if total.IsNegative() {
		for i := range shares {
			shares[i] = shares[i].Neg()
		}
	}
	return shares
}
