// Package suggest ranks spending categories for transaction descriptions.
//
// Three sources feed each suggestion list, in this order:
//
//   - an external frequency service (optional, cached, time-bounded)
//   - the user's keyword rules (exact substring, then fuzzy)
//   - the user's categorized history (weighted voting)
//
// The combined list is sorted by confidence and cut to MaxSuggestions.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

const (
	// MaxSuggestions is the length limit of a suggestion list.
	MaxSuggestions = 3

	// DefaultThreshold is the confidence AutoAssign requires by default.
	DefaultThreshold = 0.7

	// BatchSize is the number of concurrent suggestion calls in SuggestBatch.
	BatchSize = 5
)

// CategoryStore loads a user's categories for naming suggestions.
type CategoryStore interface {
	GetCategories(ctx context.Context, userID string) ([]domain.Category, error)
}

// FeedbackStore persists accepted or rejected suggestions.
type FeedbackStore interface {
	SaveFeedback(ctx context.Context, fb domain.Feedback) error
}

// Config wires an Engine. Only UserID is required; absent sources contribute nothing.
type Config struct {
	UserID           string
	Rules            KeywordRuleStore
	RuleCache        *RuleCache // built over Rules when nil
	History          HistoryStore
	Categories       CategoryStore
	Frequency        FrequencyService
	FrequencyTimeout time.Duration
	Feedback         FeedbackStore
	BatchSize        int // SuggestBatch group size; BatchSize when zero
	Logger           zerolog.Logger
}

// Engine suggests categories for one user.
type Engine struct {
	userID    string
	rules     KeywordRuleStore
	ruleCache *RuleCache
	history   HistoryStore
	cats      CategoryStore
	freq      *frequencySource
	feedback  FeedbackStore
	batchSize int
	log       zerolog.Logger

	mu       sync.RWMutex
	snapshot []domain.HistoryEntry
	names    map[string]string
	loaded   bool
}

// NewEngine creates an engine from cfg.
func NewEngine(cfg Config) (*Engine, error) {
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}

	rc := cfg.RuleCache
	if rc == nil {
		rc = NewRuleCache(cfg.Rules, 0)
	}

	e := &Engine{
		userID:    userID,
		rules:     cfg.Rules,
		ruleCache: rc,
		history:   cfg.History,
		cats:      cfg.Categories,
		feedback:  cfg.Feedback,
		batchSize: cfg.BatchSize,
		log:       cfg.Logger.With().Str("component", "suggest").Str("user", userID).Logger(),
		names:     map[string]string{},
	}
	if e.batchSize <= 0 {
		e.batchSize = BatchSize
	}
	if cfg.Frequency != nil {
		e.freq = newFrequencySource(cfg.Frequency, cfg.FrequencyTimeout)
	}
	return e, nil
}

// Result is a ranked suggestion list plus the sources that failed while building it.
type Result struct {
	Suggestions []domain.CategorySuggestion
	// Degraded holds one error per failed source; ErrFrequencyUnavailable for the frequency service.
	Degraded []error
}

// Best returns the top suggestion, if any.
func (r *Result) Best() (domain.CategorySuggestion, bool) {
	if r == nil || len(r.Suggestions) == 0 {
		return domain.CategorySuggestion{}, false
	}
	return r.Suggestions[0], true
}

// IsDegraded reports whether any source failed.
func (r *Result) IsDegraded() bool {
	return r != nil && len(r.Degraded) > 0
}

// Refresh reloads the history snapshot and category names. Suggest calls it
// lazily the first time; batches use whatever snapshot is current when they start.
func (e *Engine) Refresh(ctx context.Context) error {
	var snapshot []domain.HistoryEntry
	if e.history != nil {
		entries, err := e.history.GetCategorizedHistory(ctx, e.userID)
		if err != nil {
			return fmt.Errorf("failed to load category history: %w", err)
		}
		snapshot = entries
	}

	names := map[string]string{}
	if e.cats != nil {
		cats, err := e.cats.GetCategories(ctx, e.userID)
		if err != nil {
			return fmt.Errorf("failed to load categories: %w", err)
		}
		for _, c := range cats {
			names[c.ID] = c.Name
		}
	}

	e.mu.Lock()
	e.snapshot = snapshot
	e.names = names
	e.loaded = true
	e.mu.Unlock()

	e.log.Debug().Int("history", len(snapshot)).Int("categories", len(names)).Msg("Suggestion sources refreshed")
	return nil
}

// sources is the read-only state shared by every call in a batch.
type sources struct {
	rules    []domain.KeywordRule
	history  []domain.HistoryEntry
	names    map[string]string
	degraded []error
}

func (e *Engine) prepare(ctx context.Context) (*sources, error) {
	e.mu.RLock()
	loaded := e.loaded
	e.mu.RUnlock()
	if !loaded {
		if err := e.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	src := &sources{}
	rules, err := e.ruleCache.Rules(ctx, e.userID)
	if err != nil {
		e.log.Warn().Err(err).Msg("Keyword rules unavailable")
		src.degraded = append(src.degraded, err)
	}
	src.rules = rules

	e.mu.RLock()
	src.history = e.snapshot
	src.names = e.names
	e.mu.RUnlock()
	return src, nil
}

// Suggest returns up to MaxSuggestions ranked suggestions for a description.
func (e *Engine) Suggest(ctx context.Context, description string, amount decimal.Decimal) ([]domain.CategorySuggestion, error) {
	res, err := e.SuggestResult(ctx, description, amount)
	if err != nil {
		return nil, err
	}
	return res.Suggestions, nil
}

// SuggestResult is Suggest with the degraded sources reported.
func (e *Engine) SuggestResult(ctx context.Context, description string, amount decimal.Decimal) (*Result, error) {
	src, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return e.suggest(ctx, src, description, amount)
}

func (e *Engine) suggest(ctx context.Context, src *sources, description string, amount decimal.Decimal) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Degraded: append([]error(nil), src.degraded...)}
	if strings.TrimSpace(description) == "" {
		return res, nil
	}

	var all []domain.CategorySuggestion

	freq, err := e.freq.fetch(ctx, description, amount.Abs())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn().Err(err).Str("description", description).Msg("Frequency suggestions skipped")
		res.Degraded = append(res.Degraded, err)
	}
	for _, s := range freq {
		if s.CategoryName == "" {
			s.CategoryName = src.names[s.CategoryID]
		}
		all = append(all, s)
	}

	if m, ok := matchKeyword(description, src.rules); ok {
		all = append(all, domain.CategorySuggestion{
			CategoryID:   m.categoryID,
			CategoryName: src.names[m.categoryID],
			Confidence:   m.confidence,
			Source:       domain.SourceKeyword,
		})
	}

	amt, _ := amount.Float64()
	if m, ok := matchHistory(description, amt, src.history); ok {
		all = append(all, domain.CategorySuggestion{
			CategoryID:   m.categoryID,
			CategoryName: src.names[m.categoryID],
			Confidence:   m.confidence,
			Source:       domain.SourceHistory,
			MatchCount:   m.count,
		})
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Confidence > all[j].Confidence
	})
	if len(all) > MaxSuggestions {
		all = all[:MaxSuggestions]
	}
	res.Suggestions = all
	return res, nil
}

// Item is one input to SuggestBatch.
type Item struct {
	Description string
	Amount      decimal.Decimal
}

// SuggestBatch suggests categories for items in fixed-size groups.
// Each group runs concurrently and completes before the next starts.
// Results are returned in input order.
func (e *Engine) SuggestBatch(ctx context.Context, items []Item) ([]*Result, error) {
	src, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(items))
	for start := 0; start < len(items); start += e.batchSize {
		end := min(start+e.batchSize, len(items))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := e.suggest(gctx, src, items[i].Description, items[i].Amount)
				if err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Assignment records a category applied by AutoAssign.
type Assignment struct {
	Index      int
	Suggestion domain.CategorySuggestion
}

// AutoAssign sets the category of every transaction whose best suggestion
// reaches threshold. A threshold of zero or less uses DefaultThreshold.
// Transactions below the threshold are left unchanged.
func (e *Engine) AutoAssign(ctx context.Context, txns []*domain.Transaction, threshold float64) ([]Assignment, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	items := make([]Item, len(txns))
	for i, t := range txns {
		items[i] = Item{Description: t.Description, Amount: t.SignedAmount.Abs()}
	}

	results, err := e.SuggestBatch(ctx, items)
	if err != nil {
		return nil, err
	}

	var assigned []Assignment
	for i, res := range results {
		best, ok := res.Best()
		if !ok || best.Confidence < threshold {
			continue
		}
		txns[i].SetCategory(best.CategoryID)
		assigned = append(assigned, Assignment{Index: i, Suggestion: best})
	}

	e.log.Info().Int("transactions", len(txns)).Int("assigned", len(assigned)).Float64("threshold", threshold).Msg("Auto-assigned categories")
	return assigned, nil
}

// RecordFeedback stores whether a suggestion was accepted. Without a
// FeedbackStore it is a no-op.
func (e *Engine) RecordFeedback(ctx context.Context, fb domain.Feedback) error {
	if e.feedback == nil {
		return nil
	}
	if strings.TrimSpace(fb.Description) == "" || fb.ActualCategoryID == "" {
		return errors.New("feedback needs a description and the actual category")
	}

	fb.UserID = e.userID
	fb.Accepted = fb.SuggestedCategoryID != "" && fb.SuggestedCategoryID == fb.ActualCategoryID
	if fb.RecordedAt.IsZero() {
		fb.RecordedAt = time.Now().UTC()
	}
	if err := e.feedback.SaveFeedback(ctx, fb); err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// AddKeywordRule saves a rule and drops the cached rules so the next call sees it.
func (e *Engine) AddKeywordRule(ctx context.Context, keyword, categoryID string) (*domain.KeywordRule, error) {
	w, ok := e.rules.(KeywordRuleWriter)
	if !ok {
		return nil, errors.New("keyword rule store is read-only")
	}
	rule, err := domain.NewKeywordRule(e.userID, keyword, categoryID)
	if err != nil {
		return nil, err
	}
	if err := w.SaveKeywordRule(ctx, *rule); err != nil {
		return nil, fmt.Errorf("failed to save keyword rule: %w", err)
	}
	e.ruleCache.Invalidate(e.userID)
	return rule, nil
}

// DeleteKeywordRule removes a rule and drops the cached rules.
func (e *Engine) DeleteKeywordRule(ctx context.Context, keyword string) error {
	w, ok := e.rules.(KeywordRuleWriter)
	if !ok {
		return errors.New("keyword rule store is read-only")
	}
	if err := w.DeleteKeywordRule(ctx, e.userID, strings.ToLower(strings.TrimSpace(keyword))); err != nil {
		return fmt.Errorf("failed to delete keyword rule: %w", err)
	}
	e.ruleCache.Invalidate(e.userID)
	return nil
}
