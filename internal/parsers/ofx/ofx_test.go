package ofx

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

const sgmlHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

`

const signon = `<SIGNONMSGSRSV1>
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
`

// bankStatement wraps STMTTRN entries in a checking account statement.
func bankStatement(transactions string) string {
	return sgmlHeader + "<OFX>\n" + signon + `<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>NZD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>9876543210
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20251001000000
<DTEND>20251031235959
` + transactions + `</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2000.00
<DTASOF>20251031235959
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`
}

func newTestParser() *Parser {
	return NewParser(zerolog.Nop())
}

func TestName(t *testing.T) {
	if got := newTestParser().Name(); got != "ofx" {
		t.Errorf("Name() = %q, want %q", got, "ofx")
	}
}

func TestCanParse(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		header   string
		expected bool
	}{
		{"OFX file with OFXHEADER marker", "test.ofx", "OFXHEADER:100\nDATA:OFXSGML\n", true},
		{"OFX file with XML header", "test.ofx", "<?xml version=\"1.0\"?><?OFX OFXHEADER=\"200\"?>\n", true},
		{"QFX extension uppercase", "test.QFX", "<OFX><SIGNONMSGSRSV1>", true},
		{"OFX file without valid header", "test.ofx", "This is not OFX content", false},
		{"CSV file with OFX content", "test.csv", "OFXHEADER:100\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newTestParser().CanParse(tt.path, []byte(tt.header)); got != tt.expected {
				t.Errorf("CanParse() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParse_BankStatement(t *testing.T) {
	content := bankStatement(`<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20251005120000
<TRNAMT>-50.00
<FITID>TXN001
<NAME>Countdown
<MEMO>Groceries
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20251015120000
<TRNAMT>1000.00
<FITID>TXN002
<NAME>Paycheck
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20251020120000
<TRNAMT>-120.456
<FITID>TXN003
<CHECKNUM>1001
<NAME>Landlord
</STMTTRN>
`)

	meta, err := parser.NewMetadata("/test/statement.ofx", time.Now())
	if err != nil {
		t.Fatalf("failed to create metadata: %v", err)
	}

	stmt, err := newTestParser().Parse(context.Background(), strings.NewReader(content), meta)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if stmt.Account.InstitutionID() != "TESTBANK" {
		t.Errorf("InstitutionID = %q, want %q", stmt.Account.InstitutionID(), "TESTBANK")
	}
	if stmt.Account.AccountID() != "9876543210" {
		t.Errorf("AccountID = %q, want %q", stmt.Account.AccountID(), "9876543210")
	}
	if stmt.Account.AccountType() != "checking" {
		t.Errorf("AccountType = %q, want %q", stmt.Account.AccountType(), "checking")
	}
	if stmt.Period == nil {
		t.Fatal("Period = nil, want statement range")
	}
	if want := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC); !stmt.Period.Start().Equal(want) {
		t.Errorf("Period.Start = %v, want %v", stmt.Period.Start(), want)
	}

	if len(stmt.Transactions) != 3 {
		t.Fatalf("got %d transactions, want 3", len(stmt.Transactions))
	}

	first := stmt.Transactions[0]
	if first.FITID != "TXN001" || first.TrnType != "DEBIT" || first.Name != "Countdown" || first.Memo != "Groceries" {
		t.Errorf("Transactions[0] = %+v", first)
	}
	if !first.Amount.Equal(decimal.RequireFromString("-50.00")) {
		t.Errorf("Transactions[0].Amount = %s, want -50.00", first.Amount)
	}
	if got := first.DatePosted.Format("2006-01-02"); got != "2025-10-05" {
		t.Errorf("Transactions[0].DatePosted = %s, want 2025-10-05", got)
	}

	third := stmt.Transactions[2]
	if third.CheckNum != "1001" || third.Index != 2 {
		t.Errorf("Transactions[2] = %+v", third)
	}
	if !third.Amount.Equal(decimal.RequireFromString("-120.456")) {
		t.Errorf("amount precision lost: got %s", third.Amount)
	}
}

func TestParse_CreditCard(t *testing.T) {
	content := sgmlHeader + "<OFX>\n" + signon + `<CREDITCARDMSGSRSV1>
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
<TRNTYPE>POS
<DTPOSTED>20251010120000
<TRNAMT>-25.99
<FITID>CC001
<NAME>Bookshop
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20251031235959
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

	stmt, err := newTestParser().Parse(context.Background(), strings.NewReader(content), nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if stmt.Account.AccountType() != "credit" {
		t.Errorf("AccountType = %q, want %q", stmt.Account.AccountType(), "credit")
	}
	if len(stmt.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(stmt.Transactions))
	}
	if stmt.Transactions[0].FITID != "CC001" {
		t.Errorf("FITID = %q, want %q", stmt.Transactions[0].FITID, "CC001")
	}
	if stmt.Transactions[0].TrnType != "POS" {
		t.Errorf("TrnType = %q, want POS", stmt.Transactions[0].TrnType)
	}
}

func TestParse_InvalidOFX(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Empty content", ""},
		{"Invalid XML", "<OFX><INVALID>"},
		{"Missing statements", "OFXHEADER:100\n<OFX></OFX>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := parser.NewMetadata("/test/invalid.ofx", time.Now())
			if err != nil {
				t.Fatalf("failed to create metadata: %v", err)
			}
			if _, err := newTestParser().Parse(context.Background(), strings.NewReader(tt.content), meta); err == nil {
				t.Error("Parse() expected error, got nil")
			}
		})
	}
}

func TestParse_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestParser().Parse(ctx, strings.NewReader(bankStatement("")), nil)
	if err != context.Canceled {
		t.Errorf("Parse() error = %v, want %v", err, context.Canceled)
	}
}
