// Package mapper converts raw statement rows into statement lines.
//
// Mappers are pure: they read one record and the account configuration and
// return a line with its signed amount and dedupe hash. They do no I/O.
package mapper

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/amount"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/detect"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/normalize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// ErrMalformedRow is returned for rows whose date or amount cannot be read.
// Callers skip and count such rows; they never abort an ingestion.
var ErrMalformedRow = errors.New("malformed row")

// Mapper turns one delimited record into a statement line.
type Mapper interface {
	Map(rec *parser.Record, acct domain.AccountConfig) (*domain.StatementLine, error)
}

// ForFormat returns the mapper for a detected statement layout.
func ForFormat(f detect.Format) (Mapper, error) {
	switch f {
	case detect.FormatBankLedger:
		return BankLedger{}, nil
	case detect.FormatCardStatement:
		return Card{}, nil
	default:
		return nil, fmt.Errorf("no mapper for format %q", f)
	}
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

func newLine(acct domain.AccountConfig, index, line int) *domain.StatementLine {
	return &domain.StatementLine{
		StatementLineID: uuid.NewString(),
		AccountID:       acct.AccountID,
		UserID:          acct.UserID,
		NormVersion:     domain.NormVersion,
		SourceIndex:     index,
		Line:            line,
		CreatedAt:       now(),
	}
}

// parseDate normalizes a statement date or reports the row as malformed.
func parseDate(value, field string) (string, error) {
	r := normalize.NormalizeDate(value, normalize.ModeBankImport)
	if !r.OK() {
		return "", fmt.Errorf("%w: invalid %s %q: %s", ErrMalformedRow, field, r.Original, r.Error)
	}
	return r.Parsed, nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	d, err := amount.Parse(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	return d, nil
}
