// Package validate checks an import batch before it is persisted.
package validate

import (
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// ValidationResult contains all validation errors and warnings for a batch
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a validation error
type ValidationError struct {
	Entity  string // "batch", "transaction", "statementLine"
	ID      string
	Field   string
	Value   string
	Message string
}

// ValidationWarning represents a non-critical validation issue
type ValidationWarning struct {
	Entity  string
	ID      string
	Field   string
	Value   string
	Message string
}

// Valid reports whether no errors were found. Warnings do not count.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Messages returns "entity id: message" for every error.
func (r *ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message))
	}
	return out
}

func (r *ValidationResult) addError(entity, id, field, value, msg string) {
	r.Errors = append(r.Errors, ValidationError{Entity: entity, ID: id, Field: field, Value: value, Message: msg})
}

func (r *ValidationResult) addWarning(entity, id, field, value, msg string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Entity: entity, ID: id, Field: field, Value: value, Message: msg})
}

type splitGroup struct {
	total   int
	indices map[int]bool
}

// ValidateBatch performs comprehensive validation of an ImportBatch,
// checking individual transactions, split groups and hash uniqueness.
// Returns ValidationResult with all errors and warnings found.
func ValidateBatch(b *domain.ImportBatch) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	if b.ImportID == "" {
		result.addError("batch", "", "ImportID", "", "import ID cannot be empty")
	}
	if b.AccountID == "" {
		result.addError("batch", b.ImportID, "AccountID", "", "account ID cannot be empty")
	}
	if len(b.Transactions) == 0 {
		result.addWarning("batch", b.ImportID, "Transactions", "", "batch contains no transactions")
	}

	transactionIDs := make(map[string]bool)
	hashes := make(map[string]string)
	splits := make(map[int]*splitGroup)

	for _, txn := range b.Transactions {
		id := txn.TransactionID
		if id == "" {
			result.addError("transaction", id, "TransactionID", "", "transaction ID cannot be empty")
		} else {
			if transactionIDs[id] {
				result.addError("transaction", id, "TransactionID", id, "duplicate transaction ID")
			}
			transactionIDs[id] = true
		}

		if txn.AccountID != b.AccountID {
			result.addError("transaction", id, "AccountID", txn.AccountID,
				fmt.Sprintf("account %s does not match batch account %s", txn.AccountID, b.AccountID))
		}
		if txn.ImportID != b.ImportID {
			result.addError("transaction", id, "ImportID", txn.ImportID,
				fmt.Sprintf("import %s does not match batch import %s", txn.ImportID, b.ImportID))
		}

		if _, err := time.Parse(domain.DateLayout, txn.Date); err != nil {
			result.addError("transaction", id, "Date", txn.Date,
				fmt.Sprintf("invalid date format (expected YYYY-MM-DD): %v", err))
		}

		switch txn.Type {
		case domain.TxnTypeCredit, domain.TxnTypeDebit, domain.TxnTypeUnknown:
		default:
			result.addError("transaction", id, "Type", string(txn.Type),
				fmt.Sprintf("invalid transaction type: %s (must be C, D or empty)", txn.Type))
		}

		if txn.Description == "" {
			result.addWarning("transaction", id, "Description", "", "transaction has no description")
		}
		if txn.SignedAmount.IsZero() {
			result.addWarning("transaction", id, "SignedAmount", "0", "transaction amount is zero")
		}

		if !txn.SignedAmount.Abs().Equal(txn.RawAmount.Abs()) {
			result.addError("transaction", id, "SignedAmount", txn.SignedAmount.String(),
				fmt.Sprintf("signed amount %s does not match raw amount %s", txn.SignedAmount, txn.RawAmount))
		}
		if txn.Split != nil {
			validateSplit(result, txn, splits)
		}

		// Forced re-imports are allowed to repeat a stored hash; nothing else may.
		if txn.DedupeHash != "" && !txn.Forced {
			if other, dup := hashes[txn.DedupeHash]; dup {
				result.addError("transaction", id, "DedupeHash", txn.DedupeHash,
					fmt.Sprintf("dedupe hash already used by transaction %s", other))
			}
			hashes[txn.DedupeHash] = id
		}
	}

	for source, g := range splits {
		for i := 0; i < g.total; i++ {
			if !g.indices[i] {
				result.addError("transaction", "", "Split", fmt.Sprintf("%d", source),
					fmt.Sprintf("row %d is missing split fragment %d of %d", source, i+1, g.total))
			}
		}
	}

	for _, line := range b.Lines {
		if line.StatementLineID == "" {
			result.addError("statementLine", "", "StatementLineID", "", "statement line ID cannot be empty")
		}
		if line.DedupeHash == "" {
			result.addError("statementLine", line.StatementLineID, "DedupeHash", "", "statement line has no dedupe hash")
		}
		if line.AccountID != b.AccountID {
			result.addError("statementLine", line.StatementLineID, "AccountID", line.AccountID,
				fmt.Sprintf("account %s does not match batch account %s", line.AccountID, b.AccountID))
		}
	}

	return result
}

func validateSplit(result *ValidationResult, txn domain.Transaction, splits map[int]*splitGroup) {
	id := txn.TransactionID
	s := txn.Split
	if s.Total < 2 || s.Index < 0 || s.Index >= s.Total {
		result.addError("transaction", id, "Split", fmt.Sprintf("%d/%d", s.Index+1, s.Total),
			"split index out of range")
		return
	}

	g, ok := splits[txn.SourceIndex]
	if !ok {
		g = &splitGroup{total: s.Total, indices: map[int]bool{}}
		splits[txn.SourceIndex] = g
	}
	if g.total != s.Total {
		result.addError("transaction", id, "Split", fmt.Sprintf("%d", s.Total),
			fmt.Sprintf("split total %d disagrees with %d for row %d", s.Total, g.total, txn.SourceIndex))
		return
	}
	if g.indices[s.Index] {
		result.addError("transaction", id, "Split", fmt.Sprintf("%d", s.Index+1), "duplicate split fragment")
	}
	g.indices[s.Index] = true
}
