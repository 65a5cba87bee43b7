package suggest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

const (
	// exactKeywordConfidence is assigned when a keyword occurs in the description.
	exactKeywordConfidence = 1.0

	// fuzzyKeywordThreshold is the similarity a keyword must exceed to match fuzzily.
	fuzzyKeywordThreshold = 0.8

	// DefaultRuleTTL bounds how long loaded rules are reused without invalidation.
	DefaultRuleTTL = 10 * time.Minute
)

// KeywordRuleStore loads a user's keyword rules.
type KeywordRuleStore interface {
	GetKeywordRules(ctx context.Context, userID string) ([]domain.KeywordRule, error)
}

// KeywordRuleWriter is implemented by stores that can change keyword rules.
type KeywordRuleWriter interface {
	SaveKeywordRule(ctx context.Context, rule domain.KeywordRule) error
	DeleteKeywordRule(ctx context.Context, userID, keyword string) error
}

// RuleCache holds keyword rules per user until they expire or are invalidated.
// It is safe for concurrent use.
type RuleCache struct {
	store KeywordRuleStore
	cache *cache.Cache
}

// NewRuleCache returns a cache over store. A ttl of zero uses DefaultRuleTTL.
func NewRuleCache(store KeywordRuleStore, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultRuleTTL
	}
	return &RuleCache{
		store: store,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Rules returns the user's rules, loading them from the store on a miss.
func (c *RuleCache) Rules(ctx context.Context, userID string) ([]domain.KeywordRule, error) {
	if cached, found := c.cache.Get(userID); found {
		return cached.([]domain.KeywordRule), nil
	}
	if c.store == nil {
		return nil, nil
	}

	rules, err := c.store.GetKeywordRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keyword rules for user %s: %w", userID, err)
	}
	c.cache.Set(userID, rules, cache.DefaultExpiration)
	return rules, nil
}

// Invalidate drops the cached rules for userID.
func (c *RuleCache) Invalidate(userID string) {
	c.cache.Delete(userID)
}

// InvalidateAll drops every cached rule set.
func (c *RuleCache) InvalidateAll() {
	c.cache.Flush()
}

type keywordMatch struct {
	categoryID string
	confidence float64
}

// matchKeyword returns the first rule whose keyword occurs in the description,
// or else the best fuzzy match above fuzzyKeywordThreshold.
func matchKeyword(description string, rules []domain.KeywordRule) (keywordMatch, bool) {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return keywordMatch{}, false
	}

	var best keywordMatch
	for _, r := range rules {
		kw := strings.ToLower(r.Keyword)
		if kw == "" {
			continue
		}
		if strings.Contains(desc, kw) {
			return keywordMatch{categoryID: r.CategoryID, confidence: exactKeywordConfidence}, true
		}
		if sim := Similarity(desc, kw); sim > fuzzyKeywordThreshold && sim > best.confidence {
			best = keywordMatch{categoryID: r.CategoryID, confidence: sim}
		}
	}
	return best, best.categoryID != ""
}
