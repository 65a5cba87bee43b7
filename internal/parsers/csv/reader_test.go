package csv

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) ([]*parser.Record, []error) {
	t.Helper()
	var records []*parser.Record
	var rowErrs []error
	for {
		rec, err := r.Next(context.Background())
		if err == io.EOF {
			return records, rowErrs
		}
		if err != nil {
			rowErrs = append(rowErrs, err)
			continue
		}
		records = append(records, rec)
	}
}

func TestReader_BankLedger(t *testing.T) {
	content := "\ufeffType,Details,Particulars,Code,Reference,Amount,Date\n" +
		"Eft-Pos,Countdown,4835,,,-45.20,15/10/2025\n" +
		"\n" +
		"Salary,ACME LTD,,,\"Oct, pay\",2500.00,16/10/2025\n"

	r, err := NewReader(strings.NewReader(content), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Type", "Details", "Particulars", "Code", "Reference", "Amount", "Date"}, r.Headers())

	records, rowErrs := readAll(t, r)
	require.Empty(t, rowErrs)
	require.Len(t, records, 2)

	assert.Equal(t, 0, records[0].Index())
	assert.Equal(t, 2, records[0].Line())
	assert.Equal(t, "Countdown", records[0].Get("details"))
	assert.Equal(t, "-45.20", records[0].Get("Amount"))

	assert.Equal(t, 1, records[1].Index(), "blank rows do not consume an index")
	assert.Equal(t, 4, records[1].Line())
	assert.Equal(t, "Oct, pay", records[1].Get("reference"))
}

func TestReader_RaggedRows(t *testing.T) {
	content := "Date,Amount,Details\n01/10/2025,5\n02/10/2025,6,Lunch,extra\n"

	r, err := NewReader(strings.NewReader(content), nil)
	require.NoError(t, err)

	records, rowErrs := readAll(t, r)
	require.Empty(t, rowErrs)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[0].Get("details"))
	assert.Equal(t, "Lunch", records[1].Get("details"))
}

func TestReader_Empty(t *testing.T) {
	meta, err := parser.NewMetadata("/tmp/empty.csv", time.Now())
	require.NoError(t, err)

	_, err = NewReader(strings.NewReader("\n  \n"), meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSV file is empty from /tmp/empty.csv")
}

func TestReader_HeaderOnly(t *testing.T) {
	r, err := NewReader(strings.NewReader("Date,Amount,Details\n"), nil)
	require.NoError(t, err)

	_, err = r.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestReader_LazyQuotes(t *testing.T) {
	content := "Date,Amount,Details\n01/10/2025,5,Joe's \"Diner\n02/10/2025,6,\"Quoted, with comma\"\n"

	r, err := NewReader(strings.NewReader(content), nil)
	require.NoError(t, err)

	records, rowErrs := readAll(t, r)
	require.Empty(t, rowErrs)
	require.Len(t, records, 2)
	assert.Equal(t, `Joe's "Diner`, records[0].Get("details"))
	assert.Equal(t, "Quoted, with comma", records[1].Get("details"))
}

func TestReader_ContextCancellation(t *testing.T) {
	r, err := NewReader(strings.NewReader("Date,Amount\n01/10/2025,5\n"), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
