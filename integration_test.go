package stmtingest_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store/sqlite"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/suggest"
)

const ledgerCSV = `Type,Details,Particulars,Code,Reference,Amount,Date
Eft-Pos,COUNTDOWN,1234,,REF1,-45.20,15/10/2025
Direct Credit,ACME LTD,Salary,,PAY,2500.00,16/10/2025
Eft-Pos,Z ENERGY,5678,,REF2,-80.00,17/10/2025
`

const interchangeFile = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20251001120000
<LANGUAGE>ENG
<FI>
<ORG>TESTBANK
<FID>12345
</FI>
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>NZD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20251001000000
<DTEND>20251031235959
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20251005120000
<TRNAMT>-50.00
<FITID>TXN001
<NAME>NEW WORLD
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20251020120000
<TRNAMT>20.00
<FITID>TXN002
<NAME>REFUND BOOKSHOP
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-30.00
<DTASOF>20251031000000
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "stmtingest.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestEndToEnd_PreviewImportRepreview runs a ledger file through preview,
// import with a category and a split, and a second preview that must flag
// every row.
func TestEndToEnd_PreviewImportRepreview(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := pipeline.New(s, s, zerolog.Nop())
	acct := domain.AccountConfig{AccountID: "everyday", UserID: "me", Polarity: true}

	preview, err := p.Preview(ctx, strings.NewReader(ledgerCSV), "oct.csv", acct, pipeline.PreviewOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, preview.TotalRecords)
	assert.Empty(t, preview.Duplicates)

	res, err := p.Import(ctx, strings.NewReader(ledgerCSV), "oct.csv", acct, pipeline.ImportOptions{
		CategoryAssignments: map[int]string{0: "groceries"},
		Splits: map[int]pipeline.Split{
			2: {Categories: []pipeline.SplitPart{
				{CategoryID: "fuel", Percentage: decimal.NewFromInt(70)},
				{CategoryID: "snacks", Percentage: decimal.NewFromInt(30)},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ImportedCount, "the split row becomes two transactions")

	txns, err := s.Transactions(ctx, "everyday")
	require.NoError(t, err)
	require.Len(t, txns, 4)

	splitTotal := decimal.Zero
	for _, txn := range txns {
		if txn.IsSplit() {
			splitTotal = splitTotal.Add(txn.RawAmount)
		}
	}
	assert.True(t, splitTotal.Equal(decimal.RequireFromString("-80.00")), "split fragments sum to %s", splitTotal)

	again, err := p.Preview(ctx, strings.NewReader(ledgerCSV), "oct.csv", acct, pipeline.PreviewOptions{})
	require.NoError(t, err)
	assert.Len(t, again.Duplicates, 3)
	assert.Equal(t, 3, again.DuplicateCount)

	second, err := p.Import(ctx, strings.NewReader(ledgerCSV), "oct.csv", acct, pipeline.ImportOptions{})
	require.NoError(t, err)
	assert.Zero(t, second.ImportedCount)
	assert.Equal(t, 3, second.DuplicateCount)
}

// TestEndToEnd_InterchangeAccountScope imports an OFX statement and checks
// that its rows are duplicates only within the same account.
func TestEndToEnd_InterchangeAccountScope(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := pipeline.New(s, s, zerolog.Nop())
	card := domain.AccountConfig{AccountID: "card", UserID: "me", Polarity: true}

	res, err := p.Import(ctx, strings.NewReader(interchangeFile), "oct.qfx", card, pipeline.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ofx", res.DetectedFormat)
	assert.Equal(t, 2, res.ImportedCount)

	txns, err := s.Transactions(ctx, "card")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	for _, txn := range txns {
		assert.Equal(t, txn.RawAmount.Sign(), txn.SignedAmount.Sign(), "interchange amounts keep their sign")
	}

	same, err := p.Preview(ctx, strings.NewReader(interchangeFile), "oct.qfx", card, pipeline.PreviewOptions{})
	require.NoError(t, err)
	assert.Len(t, same.Duplicates, 2)

	other, err := p.Preview(ctx, strings.NewReader(interchangeFile), "oct.qfx",
		domain.AccountConfig{AccountID: "joint", UserID: "me", Polarity: true}, pipeline.PreviewOptions{})
	require.NoError(t, err)
	assert.Empty(t, other.Duplicates)
}

// TestEndToEnd_SuggestionsLearnFromImports categorises an import, then asks
// an engine without keyword rules to categorise a similar row.
func TestEndToEnd_SuggestionsLearnFromImports(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	p := pipeline.New(s, s, zerolog.Nop())
	acct := domain.AccountConfig{AccountID: "everyday", UserID: "me", Polarity: true}

	require.NoError(t, s.SaveCategory(ctx, "me", domain.Category{ID: "groceries", Name: "Groceries"}))

	_, err := p.Import(ctx, strings.NewReader(ledgerCSV), "oct.csv", acct, pipeline.ImportOptions{
		CategoryAssignments: map[int]string{0: "groceries", 1: "income"},
	})
	require.NoError(t, err)

	engine, err := suggest.NewEngine(suggest.Config{
		UserID:     "me",
		History:    s,
		Categories: s,
		Frequency:  s.Frequency("me"),
		Feedback:   s,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	res, err := engine.SuggestResult(ctx, "Eft-Pos | COUNTDOWN | 1234 | REF1", decimal.RequireFromString("45.20"))
	require.NoError(t, err)
	assert.False(t, res.IsDegraded())

	best, ok := res.Best()
	require.True(t, ok)
	assert.Equal(t, "groceries", best.CategoryID)
	assert.Equal(t, "Groceries", best.CategoryName)

	require.NoError(t, engine.RecordFeedback(ctx, domain.Feedback{
		Description:         "Eft-Pos | COUNTDOWN | 1234 | REF1",
		Amount:              45.20,
		SuggestedCategoryID: best.CategoryID,
		ActualCategoryID:    "groceries",
		Confidence:          best.Confidence,
	}))
	n, err := s.FeedbackCount(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
