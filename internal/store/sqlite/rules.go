package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/rules"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/store"
)

// GetKeywordRules implements suggest.KeywordRuleStore.
func (s *Store) GetKeywordRules(ctx context.Context, userID string) ([]domain.KeywordRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT keyword, category_id FROM keyword_rules WHERE user_id = ? ORDER BY rowid
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword rules: %w", err)
	}
	defer rows.Close()

	var out []domain.KeywordRule
	for rows.Next() {
		r := domain.KeywordRule{UserID: userID}
		if err := rows.Scan(&r.Keyword, &r.CategoryID); err != nil {
			return nil, fmt.Errorf("failed to scan keyword rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveKeywordRule implements suggest.KeywordRuleWriter. An existing rule for
// the same keyword is replaced.
func (s *Store) SaveKeywordRule(ctx context.Context, rule domain.KeywordRule) error {
	keyword := strings.ToLower(strings.TrimSpace(rule.Keyword))
	if keyword == "" || rule.CategoryID == "" {
		return fmt.Errorf("keyword rule needs a keyword and a category")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keyword_rules (user_id, keyword, category_id) VALUES (?, ?, ?)
		ON CONFLICT(user_id, keyword) DO UPDATE SET category_id = excluded.category_id
	`, rule.UserID, keyword, rule.CategoryID)
	if err != nil {
		return fmt.Errorf("failed to save keyword rule: %w", err)
	}
	return nil
}

// DeleteKeywordRule implements suggest.KeywordRuleWriter.
// It returns store.ErrNotFound when no rule matched.
func (s *Store) DeleteKeywordRule(ctx context.Context, userID, keyword string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM keyword_rules WHERE user_id = ? AND keyword = ?
	`, userID, strings.ToLower(strings.TrimSpace(keyword)))
	if err != nil {
		return fmt.Errorf("failed to delete keyword rule: %w", err)
	}
	return requireAffected(res, "keyword rule "+keyword)
}

// GetCategories implements suggest.CategoryStore.
func (s *Store) GetCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id, name FROM categories WHERE user_id = ? ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCategory creates or renames a category.
func (s *Store) SaveCategory(ctx context.Context, userID string, c domain.Category) error {
	if c.ID == "" || c.Name == "" {
		return fmt.Errorf("category needs an ID and a name")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (user_id, category_id, name) VALUES (?, ?, ?)
		ON CONFLICT(user_id, category_id) DO UPDATE SET name = excluded.name
	`, userID, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

// SeedRules inserts the seed's categories and keyword rules for userID.
// Rows the user already has are left untouched. It returns the number of
// keyword rules added.
func (s *Store) SeedRules(ctx context.Context, userID string, seed *rules.Seed) (added int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, c := range seed.Categories() {
		if _, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO categories (user_id, category_id, name) VALUES (?, ?, ?)
		`, userID, c.ID, c.Name); err != nil {
			return 0, fmt.Errorf("failed to seed category %s: %w", c.ID, err)
		}
	}

	for _, r := range seed.KeywordRules(userID) {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO keyword_rules (user_id, keyword, category_id) VALUES (?, ?, ?)
		`, userID, r.Keyword, r.CategoryID)
		if err != nil {
			return 0, fmt.Errorf("failed to seed keyword %q: %w", r.Keyword, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed: %w", err)
	}
	s.log.Debug().Str("user", userID).Int("rules", added).Msg("Seeded keyword rules")
	return added, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
