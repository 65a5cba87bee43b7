package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/amount"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SplitPart is one category share of a split row.
type SplitPart struct {
	CategoryID string          `json:"category_id"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Split divides one source row across categories by percentage.
type Split struct {
	Categories []SplitPart `json:"categories"`
}

// Active reports whether the split produces more than one fragment.
func (s Split) Active() bool {
	return len(s.Categories) > 1
}

// Validate checks that every share is positive and the shares total 100.
func (s Split) Validate() error {
	if !s.Active() {
		return nil
	}
	total := decimal.Zero
	for i, part := range s.Categories {
		if strings.TrimSpace(part.CategoryID) == "" {
			return fmt.Errorf("split part %d has no category", i)
		}
		if !part.Percentage.IsPositive() {
			return fmt.Errorf("split part %d has percentage %s", i, part.Percentage)
		}
		total = total.Add(part.Percentage)
	}
	if !total.Equal(hundred) {
		return errors.New("split percentages must total 100, got " + total.String())
	}
	return nil
}

// applySplit turns one line into len(split.Categories) transactions. Raw
// amounts are allocated with amount.Allocate, so every fragment keeps the
// row's sign and the fragments sum exactly to the row. Only the first
// fragment keeps the dedupe hash so a re-import still recognises the row.
func applySplit(line *domain.StatementLine, split Split, acct domain.AccountConfig, importID string, forced bool, newID func() string) []domain.Transaction {
	n := len(split.Categories)
	pcts := make([]decimal.Decimal, n)
	for i, part := range split.Categories {
		pcts[i] = part.Percentage
	}
	shares := amount.Allocate(line.RawAmount, pcts)

	out := make([]domain.Transaction, 0, n)
	for i, part := range split.Categories {
		txn := line.ToTransaction(newID(), importID)
		txn.RawAmount = shares[i]
		txn.SignedAmount = amount.Resolve(acct.Polarity, shares[i], line.Type)
		txn.Split = &domain.SplitInfo{Index: i, Total: n}
		txn.Forced = forced
		txn.SetCategory(part.CategoryID)
		if i > 0 {
			txn.Description = fmt.Sprintf("%s (Split %d/%d)", line.Description, i+1, n)
			txn.DedupeHash = ""
		}
		out = append(out, txn)
	}
	return out
}
