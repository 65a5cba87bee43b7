package firestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// Transaction is the stored form of a canonical transaction.
// Amounts are kept as exact decimal strings; AbsAmount is for display and matching.
type Transaction struct {
	ID           string    `firestore:"id"`
	ImportID     string    `firestore:"importId"`
	AccountID    string    `firestore:"accountId"`
	UserID       string    `firestore:"userId"`
	Date         string    `firestore:"date"`
	Description  string    `firestore:"description"`
	RawAmount    string    `firestore:"rawAmount"`
	SignedAmount string    `firestore:"signedAmount"`
	AbsAmount    float64   `firestore:"absAmount"`
	Type         string    `firestore:"transactionType"`
	DedupeHash   string    `firestore:"dedupeHash,omitempty"`
	CategoryID   string    `firestore:"categoryId,omitempty"`
	Categorized  bool      `firestore:"categorized"`
	SplitIndex   *int      `firestore:"splitIndex,omitempty"`
	SplitTotal   *int      `firestore:"splitTotal,omitempty"`
	Forced       bool      `firestore:"forced"`
	SourceIndex  int       `firestore:"sourceIndex"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// StatementLine is the stored form of a statement line.
type StatementLine struct {
	ID                    string    `firestore:"id"`
	ImportID              string    `firestore:"importId"`
	AccountID             string    `firestore:"accountId"`
	Date                  string    `firestore:"date"`
	ProcessedDate         string    `firestore:"processedDate,omitempty"`
	Description           string    `firestore:"description"`
	NormalizedDescription string    `firestore:"descriptionNorm"`
	RawAmount             string    `firestore:"rawAmount"`
	SignedAmount          string    `firestore:"signedAmount"`
	Type                  string    `firestore:"transactionType"`
	InstrumentID          string    `firestore:"instrumentId,omitempty"`
	BankReference         string    `firestore:"bankReference,omitempty"`
	FITID                 string    `firestore:"fitId,omitempty"`
	DedupeHash            string    `firestore:"dedupeHash"`
	NormVersion           string    `firestore:"normVersion"`
	RawRow                string    `firestore:"rawRow,omitempty"`
	SourceIndex           int       `firestore:"sourceIndex"`
	CreatedAt             time.Time `firestore:"createdAt"`
}

// Import marks a statement file as imported. Its document ID is the source hash.
type Import struct {
	ImportID         string    `firestore:"importId"`
	AccountID        string    `firestore:"accountId"`
	UserID           string    `firestore:"userId"`
	SourceName       string    `firestore:"sourceName"`
	Format           string    `firestore:"format"`
	TransactionCount int       `firestore:"transactionCount"`
	CreatedAt        time.Time `firestore:"createdAt"`
}

// DedupeMarker reserves an account-scoped dedupe hash.
type DedupeMarker struct {
	AccountID     string `firestore:"accountId"`
	DedupeHash    string `firestore:"dedupeHash"`
	TransactionID string `firestore:"transactionId"`
}

// KeywordRule is the stored form of a keyword rule.
type KeywordRule struct {
	UserID     string `firestore:"userId"`
	Keyword    string `firestore:"keyword"`
	CategoryID string `firestore:"categoryId"`
}

// Category is the stored form of a category.
type Category struct {
	UserID     string `firestore:"userId"`
	CategoryID string `firestore:"categoryId"`
	Name       string `firestore:"name"`
}

// Feedback is the stored form of suggestion feedback.
type Feedback struct {
	UserID              string    `firestore:"user_id"`
	Description         string    `firestore:"description"`
	Amount              float64   `firestore:"amount"`
	SuggestedCategoryID string    `firestore:"suggested_category_id,omitempty"`
	ActualCategoryID    string    `firestore:"actual_category_id"`
	Confidence          float64   `firestore:"confidence"`
	Accepted            bool      `firestore:"accepted"`
	RecordedAt          time.Time `firestore:"recorded_at"`
}

// dedupeDocID is the document ID reserving hash within accountID.
func dedupeDocID(accountID, hash string) string {
	return safeID(accountID) + "_" + hash
}

// ruleDocID is the document ID of a user's keyword rule.
func ruleDocID(userID, keyword string) string {
	return safeID(userID) + "_" + safeID(keyword)
}

func categoryDocID(userID, categoryID string) string {
	return safeID(userID) + "_" + safeID(categoryID)
}

// safeID hashes values that Firestore would reject as document IDs.
func safeID(s string) string {
	if s != "" && !strings.ContainsAny(s, "/ ") && s != "." && s != ".." && !strings.HasPrefix(s, "__") {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return "h-" + hex.EncodeToString(sum[:8])
}

func toTransaction(t domain.Transaction, createdAt time.Time) Transaction {
	doc := Transaction{
		ID:           t.TransactionID,
		ImportID:     t.ImportID,
		AccountID:    t.AccountID,
		UserID:       t.UserID,
		Date:         t.Date,
		Description:  t.Description,
		RawAmount:    t.RawAmount.String(),
		SignedAmount: t.SignedAmount.String(),
		AbsAmount:    t.SignedAmount.Abs().InexactFloat64(),
		Type:         string(t.Type),
		DedupeHash:   t.DedupeHash,
		Forced:       t.Forced,
		SourceIndex:  t.SourceIndex,
		CreatedAt:    createdAt,
	}
	if t.CategoryID != nil {
		doc.CategoryID = *t.CategoryID
		doc.Categorized = true
	}
	if t.Split != nil {
		idx, total := t.Split.Index, t.Split.Total
		doc.SplitIndex = &idx
		doc.SplitTotal = &total
	}
	return doc
}

func (d Transaction) toDomain() (domain.Transaction, error) {
	raw, err := decimal.NewFromString(d.RawAmount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s has invalid raw amount %q: %w", d.ID, d.RawAmount, err)
	}
	signed, err := decimal.NewFromString(d.SignedAmount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s has invalid signed amount %q: %w", d.ID, d.SignedAmount, err)
	}
	t := domain.Transaction{
		TransactionID: d.ID,
		AccountID:     d.AccountID,
		UserID:        d.UserID,
		ImportID:      d.ImportID,
		Date:          d.Date,
		Description:   d.Description,
		RawAmount:     raw,
		Type:          domain.TxnType(d.Type),
		SignedAmount:  signed,
		DedupeHash:    d.DedupeHash,
		Forced:        d.Forced,
		SourceIndex:   d.SourceIndex,
	}
	t.SetCategory(d.CategoryID)
	if d.SplitIndex != nil && d.SplitTotal != nil {
		t.Split = &domain.SplitInfo{Index: *d.SplitIndex, Total: *d.SplitTotal}
	}
	return t, nil
}

func toStatementLine(l domain.StatementLine, importID string) StatementLine {
	return StatementLine{
		ID:                    l.StatementLineID,
		ImportID:              importID,
		AccountID:             l.AccountID,
		Date:                  l.Date,
		ProcessedDate:         l.ProcessedDate,
		Description:           l.Description,
		NormalizedDescription: l.NormalizedDescription,
		RawAmount:             l.RawAmount.String(),
		SignedAmount:          l.SignedAmount.String(),
		Type:                  string(l.Type),
		InstrumentID:          l.InstrumentID,
		BankReference:         l.BankReference,
		FITID:                 l.ProviderID,
		DedupeHash:            l.DedupeHash,
		NormVersion:           l.NormVersion,
		RawRow:                l.RawJSON,
		SourceIndex:           l.SourceIndex,
		CreatedAt:             l.CreatedAt,
	}
}

func toFeedback(fb domain.Feedback) Feedback {
	return Feedback{
		UserID:              fb.UserID,
		Description:         fb.Description,
		Amount:              fb.Amount,
		SuggestedCategoryID: fb.SuggestedCategoryID,
		ActualCategoryID:    fb.ActualCategoryID,
		Confidence:          fb.Confidence,
		Accepted:            fb.Accepted,
		RecordedAt:          fb.RecordedAt,
	}
}
