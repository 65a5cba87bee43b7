package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar date format used throughout the module.
const DateLayout = "2006-01-02"

// NormVersion identifies the normalization rules used to build a statement line.
// Bump it when description normalization or hash inputs change.
const NormVersion = "v1"

// TxnType is the normalized transaction type tag.
type TxnType string

const (
	TxnTypeCredit  TxnType = "C"
	TxnTypeDebit   TxnType = "D"
	TxnTypeUnknown TxnType = ""
)

// String returns a readable name for the type tag.
func (t TxnType) String() string {
	switch t {
	case TxnTypeCredit:
		return "credit"
	case TxnTypeDebit:
		return "debit"
	default:
		return "unknown"
	}
}

// SuggestionSource identifies which heuristic produced a suggestion.
type SuggestionSource string

const (
	SourceKeyword   SuggestionSource = "keyword"
	SourceHistory   SuggestionSource = "history"
	SourceFrequency SuggestionSource = "frequency"
)

// AccountConfig is the per-account configuration supplied by the caller of an ingestion call.
//
// Polarity=true means a positive raw amount increases the account balance.
type AccountConfig struct {
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
	Polarity  bool   `json:"polarity"`
}

// NewAccountConfig creates a validated account configuration.
func NewAccountConfig(accountID, userID string, polarity bool) (*AccountConfig, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("account ID cannot be empty")
	}
	return &AccountConfig{
		AccountID: accountID,
		UserID:    strings.TrimSpace(userID),
		Polarity:  polarity,
	}, nil
}

// SplitInfo marks a transaction as one fragment of a split row.
type SplitInfo struct {
	Index int `json:"splitIndex"`
	Total int `json:"splitTotal"`
}

// Transaction is the canonical transaction produced by the ingestion pipeline.
//
// Sign convention:
//
//	Positive SignedAmount = increases the account balance
//	Negative SignedAmount = decreases the account balance
//
// SignedAmount is always computed by amount.Resolve and never copied from source data.
type Transaction struct {
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	UserID        string          `json:"userId,omitempty"`
	ImportID      string          `json:"importId"`
	Date          string          `json:"transactionDate"` // YYYY-MM-DD
	Description   string          `json:"description"`
	RawAmount     decimal.Decimal `json:"rawAmount"`
	Type          TxnType         `json:"transactionType"`
	SignedAmount  decimal.Decimal `json:"signedAmount"`
	DedupeHash    string          `json:"dedupeHash,omitempty"`
	CategoryID    *string         `json:"categoryId,omitempty"`
	Split         *SplitInfo      `json:"split,omitempty"`
	Forced        bool            `json:"forced,omitempty"`
	SourceIndex   int             `json:"sourceIndex"`
}

// IsSplit reports whether the transaction is a split fragment.
func (t *Transaction) IsSplit() bool {
	return t.Split != nil
}

// SetCategory assigns a category. An empty ID clears the assignment.
func (t *Transaction) SetCategory(categoryID string) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		t.CategoryID = nil
		return
	}
	t.CategoryID = &categoryID
}

// StatementLine is the read-only record a format mapper produces for one source row.
// It carries statement-specific detail that the canonical Transaction drops.
type StatementLine struct {
	StatementLineID       string          `json:"statementLineId"`
	AccountID             string          `json:"accountId"`
	UserID                string          `json:"userId,omitempty"`
	Date                  string          `json:"transactionDate"`
	ProcessedDate         string          `json:"processedDate,omitempty"`
	Description           string          `json:"description"`
	NormalizedDescription string          `json:"descriptionNorm"`
	RawAmount             decimal.Decimal `json:"rawAmount"`
	Type                  TxnType         `json:"transactionType"`
	SignedAmount          decimal.Decimal `json:"signedAmount"`
	InstrumentID          string          `json:"instrumentId,omitempty"`
	BankReference         string          `json:"bankReference,omitempty"`
	ProviderID            string          `json:"fitId,omitempty"`
	DedupeHash            string          `json:"dedupeHash"`
	NormVersion           string          `json:"normVersion"`
	RawJSON               string          `json:"rawRow,omitempty"`
	SourceIndex           int             `json:"sourceIndex"`
	Line                  int             `json:"line"`
	CreatedAt             time.Time       `json:"createdAt"`
}

// ToTransaction projects the line onto a canonical transaction with a fresh identity.
func (l *StatementLine) ToTransaction(transactionID, importID string) Transaction {
	return Transaction{
		TransactionID: transactionID,
		AccountID:     l.AccountID,
		UserID:        l.UserID,
		ImportID:      importID,
		Date:          l.Date,
		Description:   l.Description,
		RawAmount:     l.RawAmount,
		Type:          l.Type,
		SignedAmount:  l.SignedAmount,
		DedupeHash:    l.DedupeHash,
		SourceIndex:   l.SourceIndex,
	}
}

// DedupeRecord is an account-scoped content hash registration.
type DedupeRecord struct {
	AccountID  string `json:"accountId"`
	DedupeHash string `json:"dedupeHash"`
}

// Category is a user-defined spending category.
type Category struct {
	ID   string `json:"categoryId"`
	Name string `json:"categoryName"`
}

// CategorySuggestion is one ranked guess produced by the suggestion engine.
type CategorySuggestion struct {
	CategoryID   string           `json:"categoryId"`
	CategoryName string           `json:"categoryName"`
	Confidence   float64          `json:"confidence"`
	Source       SuggestionSource `json:"source"`
	MatchCount   int              `json:"matchCount,omitempty"`
}

// KeywordRule maps a lowercased keyword to a category for a single user.
type KeywordRule struct {
	UserID     string `json:"userId"`
	Keyword    string `json:"keyword"`
	CategoryID string `json:"categoryId"`
}

// NewKeywordRule creates a validated keyword rule with the keyword lowercased and trimmed.
func NewKeywordRule(userID, keyword, categoryID string) (*KeywordRule, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, fmt.Errorf("keyword cannot be empty")
	}
	if strings.TrimSpace(categoryID) == "" {
		return nil, fmt.Errorf("category ID cannot be empty for keyword %q", keyword)
	}
	return &KeywordRule{
		UserID:     userID,
		Keyword:    keyword,
		CategoryID: strings.TrimSpace(categoryID),
	}, nil
}

// HistoryEntry is a previously categorized transaction used for historical matching.
// Amount is stored as an absolute value.
type HistoryEntry struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	CategoryID  string  `json:"categoryId"`
}

// Feedback records whether a suggestion was accepted for a transaction.
type Feedback struct {
	UserID              string    `json:"userId"`
	Description         string    `json:"description"`
	Amount              float64   `json:"amount"`
	SuggestedCategoryID string    `json:"suggestedCategoryId,omitempty"`
	ActualCategoryID    string    `json:"actualCategoryId"`
	Confidence          float64   `json:"confidence"`
	Accepted            bool      `json:"accepted"`
	RecordedAt          time.Time `json:"recordedAt"`
}

// ImportBatch is everything one Import call persists. It is written in a
// single all-or-nothing operation.
type ImportBatch struct {
	ImportID     string          `json:"importId"`
	AccountID    string          `json:"accountId"`
	UserID       string          `json:"userId,omitempty"`
	SourceName   string          `json:"sourceName"`
	SourceHash   string          `json:"sourceHash,omitempty"` // empty for field-mapped imports
	Format       string          `json:"format"`
	Transactions []Transaction   `json:"transactions"`
	Lines        []StatementLine `json:"statementLines,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
