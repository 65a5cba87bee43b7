package sqlite

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/normalize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/suggest"
)

// HistoryLimit caps the categorized transactions returned for history matching.
const HistoryLimit = 1000

const (
	maxFrequencyResults  = 5
	maxFrequencyConf     = 0.95
	frequencyPrefixChars = 10
)

// GetCategorizedHistory implements suggest.HistoryStore, most recent first.
func (s *Store) GetCategorizedHistory(ctx context.Context, userID string) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT description, signed_amount, category_id
		FROM transactions
		WHERE user_id = ? AND category_id IS NOT NULL
		ORDER BY transaction_date DESC, rowid DESC
		LIMIT ?
	`, userID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e      domain.HistoryEntry
			signed string
		)
		if err := rows.Scan(&e.Description, &signed, &e.CategoryID); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		amt, err := decimal.NewFromString(signed)
		if err != nil {
			s.log.Warn().Err(err).Str("amount", signed).Msg("Skipping history entry with invalid amount")
			continue
		}
		e.Amount = amt.Abs().InexactFloat64()
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveFeedback implements suggest.FeedbackStore.
func (s *Store) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO category_matching_feedback (
			user_id, description, amount, suggested_category_id, actual_category_id,
			confidence, accepted, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, fb.UserID, fb.Description, fb.Amount, nullString(fb.SuggestedCategoryID), fb.ActualCategoryID,
		fb.Confidence, fb.Accepted, formatTime(fb.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// FeedbackCount returns the number of feedback rows recorded for userID.
func (s *Store) FeedbackCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM category_matching_feedback WHERE user_id = ?
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return n, nil
}

// Frequency returns a suggest.FrequencyService over userID's categorized
// transactions.
func (s *Store) Frequency(userID string) suggest.FrequencyService {
	return &frequency{store: s, userID: userID}
}

type frequency struct {
	store  *Store
	userID string
}

// FetchFrequencySuggestions ranks categories by how often they were used for
// descriptions sharing a merchant keyword, an exact match or a common prefix.
// The amount does not take part in matching.
func (f *frequency) FetchFrequencySuggestions(ctx context.Context, description string, _ decimal.Decimal) ([]domain.CategorySuggestion, error) {
	norm := normalize.NormalizeDescription(description)
	if norm == "" {
		return nil, nil
	}

	var (
		conds []string
		args  = []any{f.userID}
	)
	for _, kw := range normalize.ExtractMerchantKeywords(norm) {
		conds = append(conds, "t.description_norm LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	conds = append(conds, "t.description_norm = ?")
	args = append(args, norm)
	prefix := norm
	if r := []rune(norm); len(r) > frequencyPrefixChars {
		prefix = string(r[:frequencyPrefixChars])
	}
	conds = append(conds, "t.description_norm LIKE ?")
	args = append(args, prefix+"%")
	args = append(args, maxFrequencyResults)

	rows, err := f.store.db.QueryContext(ctx, `
		SELECT t.category_id, COALESCE(c.name, t.category_id), COUNT(*) AS n
		FROM transactions t
		LEFT JOIN categories c ON c.user_id = t.user_id AND c.category_id = t.category_id
		WHERE t.user_id = ? AND t.category_id IS NOT NULL AND (`+strings.Join(conds, " OR ")+`)
		GROUP BY t.category_id
		ORDER BY n DESC, t.category_id
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query category frequency: %w", err)
	}
	defer rows.Close()

	var (
		out   []domain.CategorySuggestion
		total int
	)
	for rows.Next() {
		var sg domain.CategorySuggestion
		if err := rows.Scan(&sg.CategoryID, &sg.CategoryName, &sg.MatchCount); err != nil {
			return nil, fmt.Errorf("failed to scan category frequency: %w", err)
		}
		total += sg.MatchCount
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	denom := math.Max(1, float64(total)/2)
	for i := range out {
		out[i].Confidence = math.Min(maxFrequencyConf, float64(out[i].MatchCount)/denom)
		out[i].Source = domain.SourceFrequency
	}
	return out, nil
}
