package suggest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

func TestMatchKeyword(t *testing.T) {
	rules := []domain.KeywordRule{
		{Keyword: "uber eats", CategoryID: "cat-food"},
		{Keyword: "countdown", CategoryID: "cat-groceries"},
		{Keyword: "count", CategoryID: "cat-other"},
	}

	t.Run("first exact hit wins", func(t *testing.T) {
		m, ok := matchKeyword("COUNTDOWN Auckland", rules)
		require.True(t, ok)
		assert.Equal(t, "cat-groceries", m.categoryID)
		assert.Equal(t, 1.0, m.confidence)
	})

	t.Run("fuzzy match", func(t *testing.T) {
		m, ok := matchKeyword("uber  eats", rules)
		require.True(t, ok)
		assert.Equal(t, "cat-food", m.categoryID)
		assert.Greater(t, m.confidence, fuzzyKeywordThreshold)
		assert.Less(t, m.confidence, 1.0)
	})

	t.Run("no match", func(t *testing.T) {
		_, ok := matchKeyword("petrol station", rules)
		assert.False(t, ok)
	})

	t.Run("empty description", func(t *testing.T) {
		_, ok := matchKeyword("  ", rules)
		assert.False(t, ok)
	})
}

func TestMatchHistory(t *testing.T) {
	entries := []domain.HistoryEntry{
		{Description: "Countdown Auckland", Amount: 50, CategoryID: "groceries"},
		{Description: "countdown auckland", Amount: 52, CategoryID: "groceries"},
		{Description: "countdown auckland", Amount: 51, CategoryID: "fuel"},
		{Description: "bp connect", Amount: 50, CategoryID: "fuel"},
		{Description: "countdown auckland", Amount: 500, CategoryID: "fuel"},
	}

	m, ok := matchHistory("COUNTDOWN AUCKLAND", -50, entries)
	require.True(t, ok)
	assert.Equal(t, "groceries", m.categoryID)
	assert.Equal(t, 2, m.count)

	groceries := 1.0 + (1+(1-2.0/52))/2
	fuel := (1 + (1 - 1.0/51)) / 2
	assert.InDelta(t, groceries/3, m.confidence, 1e-9)
	assert.Greater(t, groceries, fuel)
}

func TestMatchHistory_NoQualifying(t *testing.T) {
	entries := []domain.HistoryEntry{{Description: "bp connect", Amount: 50, CategoryID: "fuel"}}

	_, ok := matchHistory("countdown", 50, entries)
	assert.False(t, ok)

	_, ok = matchHistory("countdown", 50, nil)
	assert.False(t, ok)
}

type ruleStore struct {
	rules []domain.KeywordRule
	err   error
	calls int
}

func (s *ruleStore) GetKeywordRules(_ context.Context, _ string) ([]domain.KeywordRule, error) {
	s.calls++
	return s.rules, s.err
}

func (s *ruleStore) SaveKeywordRule(_ context.Context, r domain.KeywordRule) error {
	s.rules = append(s.rules, r)
	return nil
}

func (s *ruleStore) DeleteKeywordRule(_ context.Context, _, keyword string) error {
	kept := s.rules[:0]
	for _, r := range s.rules {
		if r.Keyword != keyword {
			kept = append(kept, r)
		}
	}
	s.rules = kept
	return nil
}

func TestRuleCache(t *testing.T) {
	store := &ruleStore{rules: []domain.KeywordRule{{Keyword: "coffee", CategoryID: "c"}}}
	rc := NewRuleCache(store, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rules, err := rc.Rules(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, rules, 1)
	}
	assert.Equal(t, 1, store.calls)

	rc.Invalidate("u1")
	_, err := rc.Rules(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)

	_, err = rc.Rules(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)

	rc.InvalidateAll()
	_, err = rc.Rules(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, store.calls)
}

func TestRuleCache_ErrorNotCached(t *testing.T) {
	boom := errors.New("boom")
	store := &ruleStore{err: boom}
	rc := NewRuleCache(store, 0)

	_, err := rc.Rules(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	_, err = rc.Rules(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, store.calls)
}

func TestRuleCache_NilStore(t *testing.T) {
	rules, err := NewRuleCache(nil, 0).Rules(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, rules)
}
