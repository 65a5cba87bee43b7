// Package ofx reads OFX/QFX interchange statements (SGML 1.x and XML 2.x)
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
)

// amountPrecision is the number of decimal places kept when converting OFX amounts.
const amountPrecision = 8

// Transaction is one STMTTRN entry. Fields are copied from the file without interpretation.
type Transaction struct {
	FITID      string
	TrnType    string // OFX code, e.g. "DEBIT", "XFER", "SRVCHG"
	DatePosted time.Time
	Amount     decimal.Decimal
	Name       string
	Memo       string
	CheckNum   string
	RefNum     string
	Index      int // position within the statement
}

// Statement is a parsed interchange statement.
type Statement struct {
	Account      parser.RawAccount
	Period       *parser.Period // nil when the file carries no usable DTSTART/DTEND
	Transactions []Transaction
}

// Parser reads interchange statements. It holds only a logger and is safe for concurrent use.
type Parser struct {
	log zerolog.Logger
}

// NewParser returns a parser that reports skipped content to log.
func NewParser(log zerolog.Logger) *Parser {
	return &Parser{log: log}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}

	headerUpper := strings.ToUpper(string(header))
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Parse extracts the first bank, credit card or investment statement from r.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*Statement, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content%s: %w", parser.FileInfo(meta), err)
	}

	// ofxgo.ParseResponse does not take a context
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file%s (%d bytes): %w", parser.FileInfo(meta), len(content), err)
	}

	institutionID := response.Signon.Org.String()

	if len(response.CreditCard) > 0 {
		return p.parseCreditCard(response, institutionID)
	}
	if len(response.Bank) > 0 {
		return p.parseBank(response, institutionID)
	}
	if len(response.InvStmt) > 0 {
		return p.parseInvestment(response, institutionID)
	}

	return nil, fmt.Errorf("no supported statement type found in OFX file%s. Expected at least one of: credit card (CREDITCARDMSGSRSV1), bank (BANKMSGSRSV1), or investment (INVSTMTMSGSRSV1) statement",
		parser.FileInfo(meta))
}

func (p *Parser) parseCreditCard(resp *ofxgo.Response, institutionID string) (*Statement, error) {
	ccStmt, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
	if !ok {
		return nil, fmt.Errorf("failed to type assert credit card statement: expected *ofxgo.CCStatementResponse, got %T", resp.CreditCard[0])
	}

	account, err := parser.NewRawAccount(institutionID, ccStmt.CCAcctFrom.AcctID.String(), "credit")
	if err != nil {
		return nil, fmt.Errorf("invalid credit card statement: %w", err)
	}
	account.SetCurrency(ccStmt.CurDef.String())

	if ccStmt.BankTranList == nil {
		return nil, fmt.Errorf("missing transaction list in credit card statement")
	}

	return &Statement{
		Account:      *account,
		Period:       p.period(ccStmt.BankTranList.DtStart.Time, ccStmt.BankTranList.DtEnd.Time),
		Transactions: p.extractTransactions(ccStmt.BankTranList.Transactions, 0),
	}, nil
}

func (p *Parser) parseBank(resp *ofxgo.Response, institutionID string) (*Statement, error) {
	bankStmt, ok := resp.Bank[0].(*ofxgo.StatementResponse)
	if !ok {
		return nil, fmt.Errorf("failed to type assert bank statement: expected *ofxgo.StatementResponse, got %T", resp.Bank[0])
	}

	account, err := parser.NewRawAccount(institutionID, bankStmt.BankAcctFrom.AcctID.String(), mapBankAccountType(bankStmt.BankAcctFrom))
	if err != nil {
		return nil, fmt.Errorf("invalid bank statement: %w", err)
	}
	account.SetCurrency(bankStmt.CurDef.String())

	if bankStmt.BankTranList == nil {
		return nil, fmt.Errorf("missing transaction list in bank statement")
	}

	return &Statement{
		Account:      *account,
		Period:       p.period(bankStmt.BankTranList.DtStart.Time, bankStmt.BankTranList.DtEnd.Time),
		Transactions: p.extractTransactions(bankStmt.BankTranList.Transactions, 0),
	}, nil
}

// parseInvestment keeps only cash movements (dividends, interest, fees).
func (p *Parser) parseInvestment(resp *ofxgo.Response, institutionID string) (*Statement, error) {
	invStmt, ok := resp.InvStmt[0].(*ofxgo.InvStatementResponse)
	if !ok {
		return nil, fmt.Errorf("failed to type assert investment statement: expected *ofxgo.InvStatementResponse, got %T", resp.InvStmt[0])
	}

	account, err := parser.NewRawAccount(institutionID, invStmt.InvAcctFrom.AcctID.String(), "investment")
	if err != nil {
		return nil, fmt.Errorf("invalid investment statement: %w", err)
	}
	account.SetCurrency(invStmt.CurDef.String())

	if invStmt.InvTranList == nil {
		return nil, fmt.Errorf("missing transaction list in investment statement")
	}

	var transactions []Transaction
	for _, invBankTxn := range invStmt.InvTranList.BankTransactions {
		transactions = append(transactions, p.extractTransactions(invBankTxn.Transactions, len(transactions))...)
	}

	if n := len(invStmt.InvTranList.InvTransactions); n > 0 {
		p.log.Warn().Int("count", n).Msg("Skipping security transactions in investment statement")
	}

	return &Statement{
		Account:      *account,
		Period:       p.period(invStmt.InvTranList.DtStart.Time, invStmt.InvTranList.DtEnd.Time),
		Transactions: transactions,
	}, nil
}

// period returns nil for missing or inverted statement ranges; they are informational only.
func (p *Parser) period(start, end time.Time) *parser.Period {
	period, err := parser.NewPeriod(start, end)
	if err != nil {
		p.log.Debug().Err(err).Msg("Ignoring statement period")
		return nil
	}
	return period
}

func (p *Parser) extractTransactions(txns []ofxgo.Transaction, offset int) []Transaction {
	out := make([]Transaction, 0, len(txns))
	for i, txn := range txns {
		out = append(out, p.extractTransaction(txn, offset+i))
	}
	return out
}

// extractTransaction copies one STMTTRN. ofxgo already rejects entries without DTPOSTED;
// everything else is validated by the mapper so a single odd entry never fails the statement.
func (p *Parser) extractTransaction(txn ofxgo.Transaction, index int) Transaction {
	amount, err := decimal.NewFromString(txn.TrnAmt.FloatString(amountPrecision))
	if err != nil {
		p.log.Warn().Err(err).Str("fitid", txn.FiTID.String()).Msg("Unreadable OFX amount")
		amount = decimal.Zero
	}

	return Transaction{
		FITID:      strings.TrimSpace(txn.FiTID.String()),
		TrnType:    strings.ToUpper(txn.TrnType.String()),
		DatePosted: txn.DtPosted.Time,
		Amount:     amount,
		Name:       strings.TrimSpace(txn.Name.String()),
		Memo:       strings.TrimSpace(txn.Memo.String()),
		CheckNum:   strings.TrimSpace(txn.CheckNum.String()),
		RefNum:     strings.TrimSpace(txn.RefNum.String()),
		Index:      index,
	}
}

// mapBankAccountType maps OFX account type to internal account type
func mapBankAccountType(ofxAcct ofxgo.BankAcct) string {
	switch ofxAcct.AcctType {
	case ofxgo.AcctTypeChecking:
		return "checking"
	case ofxgo.AcctTypeSavings:
		return "savings"
	case ofxgo.AcctTypeMoneyMrkt:
		return "moneymarket"
	case ofxgo.AcctTypeCreditLine:
		return "creditline"
	case ofxgo.AcctTypeCD:
		return "cd"
	default:
		return "bank"
	}
}
