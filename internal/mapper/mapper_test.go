package mapper

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/detect"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/normalize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parsers/ofx"
)

var (
	ledgerHeaders = []string{"Type", "Details", "Particulars", "Code", "Reference", "Amount", "Date"}
	cardHeaders   = []string{"Card", "Type", "Amount", "Details", "TransactionDate", "ProcessedDate"}
)

func record(t *testing.T, headers []string, values ...string) *parser.Record {
	t.Helper()
	rec, err := parser.NewRecord(0, 2, headers, values)
	require.NoError(t, err)
	return rec
}

func account(polarity bool) domain.AccountConfig {
	return domain.AccountConfig{AccountID: "acc-1", UserID: "user-1", Polarity: polarity}
}

func TestForFormat(t *testing.T) {
	m, err := ForFormat(detect.FormatBankLedger)
	require.NoError(t, err)
	assert.IsType(t, BankLedger{}, m)

	m, err = ForFormat(detect.FormatCardStatement)
	require.NoError(t, err)
	assert.IsType(t, Card{}, m)

	_, err = ForFormat(detect.FormatUnknown)
	assert.Error(t, err)
}

func TestBankLedger_Map(t *testing.T) {
	rec := record(t, ledgerHeaders, "Eft-Pos", "COUNTDOWN", "4835", "", "REF1", "-45.20", "15/10/2025")

	line, err := BankLedger{}.Map(rec, account(true))
	require.NoError(t, err)

	assert.Equal(t, "2025-10-15", line.Date)
	assert.Equal(t, "Eft-Pos | COUNTDOWN | 4835 | REF1", line.Description)
	assert.Equal(t, "REF1", line.BankReference)
	assert.Equal(t, domain.TxnTypeUnknown, line.Type)
	assert.True(t, line.SignedAmount.Equal(decimal.RequireFromString("-45.20")))
	assert.Equal(t, "acc-1", line.AccountID)
	assert.Equal(t, domain.NormVersion, line.NormVersion)
	assert.NotEmpty(t, line.StatementLineID)
	assert.Contains(t, line.RawJSON, `"Details":"COUNTDOWN"`)

	want := normalize.Hash("2025-10-15", line.NormalizedDescription, line.SignedAmount.String(), "")
	assert.Equal(t, want, line.DedupeHash)
}

func TestBankLedger_PolarityFlipsSign(t *testing.T) {
	rec := record(t, ledgerHeaders, "Eft-Pos", "COUNTDOWN", "", "", "", "-45.20", "15/10/2025")

	pos, err := BankLedger{}.Map(rec, account(true))
	require.NoError(t, err)
	neg, err := BankLedger{}.Map(rec, account(false))
	require.NoError(t, err)

	assert.True(t, pos.SignedAmount.Equal(neg.SignedAmount.Neg()))
	assert.NotEqual(t, pos.DedupeHash, neg.DedupeHash)
}

func TestBankLedger_MalformedRows(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		date   string
	}{
		{name: "bad date", amount: "10.00", date: "not a date"},
		{name: "empty date", amount: "10.00", date: ""},
		{name: "impossible date", amount: "10.00", date: "31/02/2025"},
		{name: "bad amount", amount: "ten", date: "15/10/2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record(t, ledgerHeaders, "Eft-Pos", "SHOP", "", "", "", tt.amount, tt.date)
			_, err := BankLedger{}.Map(rec, account(true))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRow))
		})
	}
}

func TestCard_Map(t *testing.T) {
	rec := record(t, cardHeaders, "4835-****-****-1234", "D", "12.50", "COFFEE CO", "01/10/2025", "02/10/2025")

	line, err := Card{}.Map(rec, account(true))
	require.NoError(t, err)

	assert.Equal(t, "2025-10-01", line.Date)
	assert.Equal(t, "2025-10-02", line.ProcessedDate)
	assert.Equal(t, "1234", line.InstrumentID)
	assert.Equal(t, domain.TxnTypeDebit, line.Type)
	assert.True(t, line.SignedAmount.Equal(decimal.RequireFromString("-12.50")))
	assert.Equal(t, "COFFEE CO", line.Description)

	want := normalize.Hash("2025-10-01", "1234", line.NormalizedDescription, line.SignedAmount.String(), "D")
	assert.Equal(t, want, line.DedupeHash)
}

func TestCard_CreditIgnoresPolarity(t *testing.T) {
	rec := record(t, cardHeaders, "4835-****-****-1234", "C", "-30.00", "REFUND", "01/10/2025", "")

	for _, polarity := range []bool{true, false} {
		line, err := Card{}.Map(rec, account(polarity))
		require.NoError(t, err)
		assert.True(t, line.SignedAmount.Equal(decimal.NewFromInt(30)), "polarity=%v", polarity)
	}
}

func TestCard_OptionalFields(t *testing.T) {
	rec := record(t, cardHeaders, "", "D", "5.00", "SNACK", "01/10/2025", "garbage")

	line, err := Card{}.Map(rec, account(true))
	require.NoError(t, err)
	assert.Empty(t, line.ProcessedDate)
	assert.Empty(t, line.InstrumentID)

	want := normalize.Hash("2025-10-01", line.NormalizedDescription, line.SignedAmount.String(), "D")
	assert.Equal(t, want, line.DedupeHash)
}

func TestCard_InstrumentChangesHash(t *testing.T) {
	a := record(t, cardHeaders, "****1234", "D", "5.00", "SNACK", "01/10/2025", "")
	b := record(t, cardHeaders, "****9876", "D", "5.00", "SNACK", "01/10/2025", "")

	la, err := Card{}.Map(a, account(true))
	require.NoError(t, err)
	lb, err := Card{}.Map(b, account(true))
	require.NoError(t, err)
	assert.NotEqual(t, la.DedupeHash, lb.DedupeHash)
}

func TestInstrumentID(t *testing.T) {
	tests := map[string]string{
		"4835-****-****-1234": "1234",
		"****1234":            "1234",
		"4835123412341234":    "1234",
		"1234 ":               "1234",
		"12":                  "",
		"":                    "",
		"VISA":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, InstrumentID(in), "input %q", in)
	}
}

func TestFieldMapped(t *testing.T) {
	headers := []string{"Posted", "Payee", "Memo", "Value", "DC"}

	t.Run("concat description without type uses polarity", func(t *testing.T) {
		m, err := NewFieldMapped(FieldMapping{
			Date:        "Posted",
			Amount:      "Value",
			Description: Concat("Payee", "Memo"),
		})
		require.NoError(t, err)

		rec := record(t, headers, "15/10/2025", "Shop", "Ref 9", "20", "")
		line, err := m.Map(rec, account(false))
		require.NoError(t, err)

		assert.Equal(t, "Shop - Ref 9", line.Description)
		assert.True(t, line.SignedAmount.Equal(decimal.NewFromInt(-20)))
		assert.Equal(t, normalize.Hash("15/10/2025", "Shop - Ref 9", "20", ""), line.DedupeHash)
	})

	t.Run("concat skips empty columns", func(t *testing.T) {
		m, err := NewFieldMapped(FieldMapping{Date: "Posted", Amount: "Value", Description: Concat("Payee", "Memo")})
		require.NoError(t, err)

		rec := record(t, headers, "15/10/2025", "Shop", "", "20", "")
		line, err := m.Map(rec, account(true))
		require.NoError(t, err)
		assert.Equal(t, "Shop", line.Description)
	})

	t.Run("type column", func(t *testing.T) {
		m, err := NewFieldMapped(FieldMapping{Date: "Posted", Amount: "Value", Type: "DC", Description: Single("Payee")})
		require.NoError(t, err)

		rec := record(t, headers, "2025-10-15", "Salary", "", "1500.00", "C")
		line, err := m.Map(rec, account(false))
		require.NoError(t, err)

		assert.Equal(t, domain.TxnTypeCredit, line.Type)
		assert.True(t, line.SignedAmount.Equal(decimal.NewFromInt(1500)))
		assert.Equal(t, normalize.Hash("2025-10-15", "Salary", "1500.00", "C"), line.DedupeHash)
	})

	t.Run("column names are case-sensitive", func(t *testing.T) {
		m, err := NewFieldMapped(FieldMapping{Date: "Posted", Amount: "Value", Description: Single("Payee")})
		require.NoError(t, err)

		rec := record(t, []string{"posted", "Payee", "Value"}, "15/10/2025", "Shop", "20")
		_, err = m.Map(rec, account(true))
		assert.ErrorIs(t, err, ErrMalformedRow)
	})

	t.Run("malformed date", func(t *testing.T) {
		m, err := NewFieldMapped(FieldMapping{Date: "Posted", Amount: "Value", Description: Single("Payee")})
		require.NoError(t, err)

		rec := record(t, headers, "yesterday", "Shop", "", "20", "")
		_, err = m.Map(rec, account(true))
		assert.ErrorIs(t, err, ErrMalformedRow)
	})
}

func TestNewFieldMapped_Incomplete(t *testing.T) {
	tests := []FieldMapping{
		{},
		{Date: "d", Amount: "a"},
		{Date: "d", Description: Single("x")},
		{Amount: "a", Description: Concat("x", "y")},
		{Date: "d", Amount: "a", Description: Concat(" ")},
	}
	for i, m := range tests {
		_, err := NewFieldMapped(m)
		assert.ErrorIs(t, err, ErrIncompleteMapping, "case %d", i)
	}
}

func TestFieldMapping_Missing(t *testing.T) {
	m := FieldMapping{Date: "Posted", Amount: "Value", Type: "DC", Description: Concat("Payee", "Memo")}
	assert.Empty(t, m.Missing([]string{" Posted", "Value ", "DC", "Payee", "Memo"}))
	assert.Equal(t, []string{"DC", "Memo"}, m.Missing([]string{"Posted", "Value", "Payee"}))
	assert.Equal(t, []string{"Posted", "Value", "DC"}, m.Missing([]string{"posted", "VALUE", "dc", "Payee", "Memo"}),
		"mapped column names are case-sensitive")
}

func TestDescription_JSON(t *testing.T) {
	var m FieldMapping
	require.NoError(t, json.Unmarshal([]byte(`{"date":"D","amount":"A","description":"Payee"}`), &m))
	assert.False(t, m.Description.IsConcat())
	assert.Equal(t, []string{"Payee"}, m.Description.Columns())

	require.NoError(t, json.Unmarshal([]byte(`{"date":"D","amount":"A","description":["Payee","Memo"]}`), &m))
	assert.True(t, m.Description.IsConcat())
	assert.Equal(t, []string{"Payee", "Memo"}, m.Description.Columns())

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"D","amount":"A","description":["Payee","Memo"]}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"description":42}`), &m))
}

func TestInterchangeType(t *testing.T) {
	pos := decimal.NewFromInt(10)
	neg := decimal.NewFromInt(-10)

	tests := []struct {
		code string
		amt  decimal.Decimal
		want domain.TxnType
	}{
		{"CREDIT", neg, domain.TxnTypeCredit},
		{"INT", neg, domain.TxnTypeCredit},
		{"DIV", neg, domain.TxnTypeCredit},
		{"DEP", neg, domain.TxnTypeCredit},
		{"DEBIT", pos, domain.TxnTypeDebit},
		{"FEE", pos, domain.TxnTypeDebit},
		{"SRVCHG", pos, domain.TxnTypeDebit},
		{"ATM", pos, domain.TxnTypeDebit},
		{"POS", pos, domain.TxnTypeDebit},
		{"check", pos, domain.TxnTypeDebit},
		{"XFER", pos, domain.TxnTypeCredit},
		{"XFER", neg, domain.TxnTypeDebit},
		{"PAYMENT", neg, domain.TxnTypeDebit},
		{"OTHER", decimal.Zero, domain.TxnTypeCredit},
		{"", neg, domain.TxnTypeDebit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InterchangeType(tt.code, tt.amt), "%s %s", tt.code, tt.amt)
	}
}

func TestMapInterchange(t *testing.T) {
	posted := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)

	t.Run("fitid hash", func(t *testing.T) {
		txn := ofx.Transaction{
			FITID:      "202510150001",
			TrnType:    "DEBIT",
			DatePosted: posted,
			Amount:     decimal.RequireFromString("-42.50"),
			Name:       "GROCERY STORE",
			Memo:       "Weekly",
			CheckNum:   "1001",
			Index:      2,
		}
		line, err := MapInterchange(txn, account(true))
		require.NoError(t, err)

		assert.Equal(t, "2025-10-15", line.Date)
		assert.Equal(t, "GROCERY STORE - Weekly", line.Description)
		assert.Equal(t, domain.TxnTypeDebit, line.Type)
		assert.True(t, line.SignedAmount.Equal(decimal.RequireFromString("-42.50")))
		assert.Equal(t, "202510150001", line.ProviderID)
		assert.Equal(t, "1001", line.BankReference)
		assert.Equal(t, 2, line.SourceIndex)
		assert.Equal(t, normalize.Hash("acc-1", "202510150001"), line.DedupeHash)
		assert.Contains(t, line.RawJSON, `"fitId":"202510150001"`)
	})

	t.Run("fitid hash ignores description changes", func(t *testing.T) {
		a := ofx.Transaction{FITID: "X1", TrnType: "POS", DatePosted: posted, Amount: decimal.NewFromInt(-5), Name: "CAFE"}
		b := a
		b.Name = "CAFE LTD"

		la, err := MapInterchange(a, account(true))
		require.NoError(t, err)
		lb, err := MapInterchange(b, account(true))
		require.NoError(t, err)
		assert.Equal(t, la.DedupeHash, lb.DedupeHash)
	})

	t.Run("content hash without fitid", func(t *testing.T) {
		txn := ofx.Transaction{TrnType: "XFER", DatePosted: posted, Amount: decimal.NewFromInt(100)}
		line, err := MapInterchange(txn, account(true))
		require.NoError(t, err)

		assert.Equal(t, "Transaction", line.Description)
		assert.Equal(t, domain.TxnTypeCredit, line.Type)
		want := normalize.Hash("2025-10-15", line.NormalizedDescription, line.SignedAmount.String(), "C")
		assert.Equal(t, want, line.DedupeHash)
	})

	t.Run("missing date", func(t *testing.T) {
		_, err := MapInterchange(ofx.Transaction{FITID: "X"}, account(true))
		assert.ErrorIs(t, err, ErrMalformedRow)
	})
}
