package suggest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

type historyStore struct {
	entries []domain.HistoryEntry
	calls   int
}

func (h *historyStore) GetCategorizedHistory(_ context.Context, _ string) ([]domain.HistoryEntry, error) {
	h.calls++
	return h.entries, nil
}

type categoryStore struct{ cats []domain.Category }

func (c categoryStore) GetCategories(_ context.Context, _ string) ([]domain.Category, error) {
	return c.cats, nil
}

type frequencyFunc func(ctx context.Context, description string, amount decimal.Decimal) ([]domain.CategorySuggestion, error)

func (f frequencyFunc) FetchFrequencySuggestions(ctx context.Context, description string, amount decimal.Decimal) ([]domain.CategorySuggestion, error) {
	return f(ctx, description, amount)
}

type feedbackStore struct {
	mu    sync.Mutex
	saved []domain.Feedback
}

func (f *feedbackStore) SaveFeedback(_ context.Context, fb domain.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, fb)
	return nil
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = "user-1"
	}
	cfg.Logger = zerolog.Nop()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func TestNewEngine_RequiresUser(t *testing.T) {
	_, err := NewEngine(Config{UserID: "  "})
	assert.Error(t, err)
}

func TestEngine_KeywordRanksFirst(t *testing.T) {
	freq := frequencyFunc(func(context.Context, string, decimal.Decimal) ([]domain.CategorySuggestion, error) {
		return []domain.CategorySuggestion{
			{CategoryID: "cat-dining", Confidence: 0.9},
			{CategoryID: "cat-other", Confidence: 0.4},
		}, nil
	})
	history := &historyStore{entries: []domain.HistoryEntry{
		{Description: "countdown auckland", Amount: 40, CategoryID: "cat-groceries"},
	}}

	e := newTestEngine(t, Config{
		Rules:      &ruleStore{rules: []domain.KeywordRule{{Keyword: "countdown", CategoryID: "cat-groceries"}}},
		History:    history,
		Categories: categoryStore{cats: []domain.Category{{ID: "cat-groceries", Name: "Groceries"}}},
		Frequency:  freq,
	})

	got, err := e.Suggest(context.Background(), "COUNTDOWN AUCKLAND", decimal.NewFromInt(-40))
	require.NoError(t, err)
	require.Len(t, got, MaxSuggestions)

	assert.Equal(t, "cat-groceries", got[0].CategoryID)
	assert.Equal(t, "Groceries", got[0].CategoryName)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Equal(t, domain.SourceKeyword, got[0].Source)

	// History also matched with full confidence; the stable sort keeps keyword ahead.
	assert.Equal(t, domain.SourceHistory, got[1].Source)
	assert.Equal(t, domain.SourceFrequency, got[2].Source)
	assert.Equal(t, 0.9, got[2].Confidence)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
}

func TestEngine_EmptyDescription(t *testing.T) {
	e := newTestEngine(t, Config{Rules: &ruleStore{rules: []domain.KeywordRule{{Keyword: "a", CategoryID: "c"}}}})

	got, err := e.Suggest(context.Background(), "   ", decimal.Zero)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEngine_FrequencyDegraded(t *testing.T) {
	freq := frequencyFunc(func(context.Context, string, decimal.Decimal) ([]domain.CategorySuggestion, error) {
		return nil, errors.New("connection refused")
	})
	e := newTestEngine(t, Config{
		Rules:     &ruleStore{rules: []domain.KeywordRule{{Keyword: "coffee", CategoryID: "cat-coffee"}}},
		Frequency: freq,
	})

	res, err := e.SuggestResult(context.Background(), "coffee club", decimal.NewFromInt(5))
	require.NoError(t, err)
	require.True(t, res.IsDegraded())
	assert.ErrorIs(t, res.Degraded[0], ErrFrequencyUnavailable)

	best, ok := res.Best()
	require.True(t, ok)
	assert.Equal(t, "cat-coffee", best.CategoryID)
}

func TestEngine_FrequencyTimeout(t *testing.T) {
	freq := frequencyFunc(func(ctx context.Context, _ string, _ decimal.Decimal) ([]domain.CategorySuggestion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newTestEngine(t, Config{Frequency: freq, FrequencyTimeout: 20 * time.Millisecond})

	res, err := e.SuggestResult(context.Background(), "coffee", decimal.NewFromInt(5))
	require.NoError(t, err)
	require.Len(t, res.Degraded, 1)
	assert.ErrorIs(t, res.Degraded[0], ErrFrequencyUnavailable)
	assert.Empty(t, res.Suggestions)
}

func TestEngine_FrequencyCacheAndDefaults(t *testing.T) {
	var calls int32
	freq := frequencyFunc(func(context.Context, string, decimal.Decimal) ([]domain.CategorySuggestion, error) {
		atomic.AddInt32(&calls, 1)
		return []domain.CategorySuggestion{{CategoryID: "cat-a"}, {CategoryID: ""}}, nil
	})
	e := newTestEngine(t, Config{Frequency: freq})
	ctx := context.Background()

	got, err := e.Suggest(ctx, "Coffee", decimal.NewFromInt(5))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.5, got[0].Confidence)
	assert.Equal(t, domain.SourceFrequency, got[0].Source)

	_, err = e.Suggest(ctx, "  coffee ", decimal.NewFromInt(-5))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = e.Suggest(ctx, "coffee", decimal.NewFromInt(6))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEngine_RuleStoreFailureIsDegraded(t *testing.T) {
	e := newTestEngine(t, Config{Rules: &ruleStore{err: errors.New("db down")}})

	res, err := e.SuggestResult(context.Background(), "coffee", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.IsDegraded())
}

func TestEngine_SuggestBatch(t *testing.T) {
	var inFlight, peak int32
	freq := frequencyFunc(func(_ context.Context, description string, _ decimal.Decimal) ([]domain.CategorySuggestion, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return []domain.CategorySuggestion{{CategoryID: "cat-" + description, Confidence: 0.8}}, nil
	})
	e := newTestEngine(t, Config{Frequency: freq})

	items := make([]Item, 12)
	for i := range items {
		items[i] = Item{Description: fmt.Sprintf("item%d", i), Amount: decimal.NewFromInt(int64(i + 1))}
	}

	results, err := e.SuggestBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, len(items))

	for i, res := range results {
		best, ok := res.Best()
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("cat-item%d", i), best.CategoryID)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(BatchSize))
}

func TestEngine_SuggestBatch_Cancelled(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.SuggestBatch(ctx, []Item{{Description: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_AutoAssign(t *testing.T) {
	e := newTestEngine(t, Config{
		Rules: &ruleStore{rules: []domain.KeywordRule{{Keyword: "countdown", CategoryID: "cat-groceries"}}},
		History: &historyStore{entries: []domain.HistoryEntry{
			{Description: "bp connect", Amount: 80, CategoryID: "cat-fuel"},
			{Description: "bp connect", Amount: 80, CategoryID: "cat-car"},
		}},
	})

	txns := []*domain.Transaction{
		{Description: "COUNTDOWN PONSONBY", SignedAmount: decimal.NewFromInt(-30)},
		{Description: "unknown merchant", SignedAmount: decimal.NewFromInt(-10)},
		{Description: "bp connect", SignedAmount: decimal.NewFromInt(-80)},
	}

	assigned, err := e.AutoAssign(context.Background(), txns, 0)
	require.NoError(t, err)

	require.Len(t, assigned, 1)
	assert.Equal(t, 0, assigned[0].Index)
	require.NotNil(t, txns[0].CategoryID)
	assert.Equal(t, "cat-groceries", *txns[0].CategoryID)
	assert.Nil(t, txns[1].CategoryID)
	// Two categories split the history vote, so confidence is 0.5.
	assert.Nil(t, txns[2].CategoryID)
}

func TestEngine_RefreshSnapshot(t *testing.T) {
	history := &historyStore{}
	e := newTestEngine(t, Config{History: history})
	ctx := context.Background()

	got, err := e.Suggest(ctx, "gym", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Empty(t, got)

	history.entries = []domain.HistoryEntry{{Description: "gym", Amount: 20, CategoryID: "cat-health"}}
	got, err = e.Suggest(ctx, "gym", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Empty(t, got, "snapshot is reused until Refresh")

	require.NoError(t, e.Refresh(ctx))
	got, err = e.Suggest(ctx, "gym", decimal.NewFromInt(20))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cat-health", got[0].CategoryID)
	assert.Equal(t, 1, got[0].MatchCount)
	assert.Equal(t, 2, history.calls)
}

func TestEngine_KeywordRuleCRUD(t *testing.T) {
	store := &ruleStore{}
	e := newTestEngine(t, Config{Rules: store})
	ctx := context.Background()

	got, err := e.Suggest(ctx, "netflix.com", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Empty(t, got)

	rule, err := e.AddKeywordRule(ctx, " Netflix ", "cat-subs")
	require.NoError(t, err)
	assert.Equal(t, "netflix", rule.Keyword)

	got, err = e.Suggest(ctx, "netflix.com", decimal.NewFromInt(20))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cat-subs", got[0].CategoryID)

	require.NoError(t, e.DeleteKeywordRule(ctx, "NETFLIX"))
	got, err = e.Suggest(ctx, "netflix.com", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = e.AddKeywordRule(ctx, "", "cat")
	assert.Error(t, err)
}

func TestEngine_KeywordRuleCRUD_ReadOnly(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.AddKeywordRule(context.Background(), "x", "c")
	assert.Error(t, err)
	assert.Error(t, e.DeleteKeywordRule(context.Background(), "x"))
}

func TestEngine_RecordFeedback(t *testing.T) {
	store := &feedbackStore{}
	e := newTestEngine(t, Config{Feedback: store})
	ctx := context.Background()

	require.NoError(t, e.RecordFeedback(ctx, domain.Feedback{
		Description:         "coffee",
		SuggestedCategoryID: "cat-a",
		ActualCategoryID:    "cat-a",
		Confidence:          0.8,
	}))
	require.NoError(t, e.RecordFeedback(ctx, domain.Feedback{
		Description:         "coffee",
		SuggestedCategoryID: "cat-a",
		ActualCategoryID:    "cat-b",
	}))
	assert.Error(t, e.RecordFeedback(ctx, domain.Feedback{Description: "coffee"}))

	require.Len(t, store.saved, 2)
	assert.True(t, store.saved[0].Accepted)
	assert.False(t, store.saved[1].Accepted)
	assert.Equal(t, "user-1", store.saved[0].UserID)
	assert.False(t, store.saved[0].RecordedAt.IsZero())

	// No store configured.
	assert.NoError(t, newTestEngine(t, Config{}).RecordFeedback(ctx, domain.Feedback{}))
}
