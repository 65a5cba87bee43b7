// Package rules provides the YAML keyword rules and categories seeded for new users.
package rules

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

//go:embed keywords.yaml
var embeddedRules []byte

// Rule maps a keyword to a category id.
type Rule struct {
	Keyword  string `yaml:"keyword"`
	Category string `yaml:"category"`
	Priority int    `yaml:"priority"`
}

// Category is a seeded category.
type Category struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	Categories []Category `yaml:"categories"`
	Rules      []Rule     `yaml:"rules"`
}

// Seed is a validated rule set. Rules are held in priority order (highest
// first); equal priorities keep their file order.
type Seed struct {
	categories []Category
	rules      []Rule
}

// NewSeed parses and validates YAML seed data.
func NewSeed(data []byte) (*Seed, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	known := make(map[string]bool, len(set.Categories))
	for i, c := range set.Categories {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("category %d: id cannot be empty", i)
		}
		if known[c.ID] {
			return nil, fmt.Errorf("category %d: duplicate id %q", i, c.ID)
		}
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("category %d (%s): name cannot be empty", i, c.ID)
		}
		known[c.ID] = true
	}

	seen := make(map[string]bool, len(set.Rules))
	rules := make([]Rule, len(set.Rules))
	for i, r := range set.Rules {
		r.Keyword = strings.ToLower(strings.TrimSpace(r.Keyword))
		if r.Keyword == "" {
			return nil, fmt.Errorf("rule %d: keyword cannot be empty", i)
		}
		if seen[r.Keyword] {
			return nil, fmt.Errorf("rule %d (%s): duplicate keyword", i, r.Keyword)
		}
		if !known[r.Category] {
			return nil, fmt.Errorf("rule %d (%s): unknown category %q", i, r.Keyword, r.Category)
		}
		if r.Priority < 0 || r.Priority > 999 {
			return nil, fmt.Errorf("rule %d (%s): priority must be in [0,999], got %d", i, r.Keyword, r.Priority)
		}
		seen[r.Keyword] = true
		rules[i] = r
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	return &Seed{categories: set.Categories, rules: rules}, nil
}

// LoadEmbedded loads the embedded keywords.yaml file
func LoadEmbedded() (*Seed, error) {
	seed, err := NewSeed(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules (possible binary corruption): %w", err)
	}
	return seed, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	seed, err := NewSeed(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return seed, nil
}

// Rules returns a copy of the rules in priority order.
func (s *Seed) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// KeywordRules returns the rules as keyword rules owned by userID.
func (s *Seed) KeywordRules(userID string) []domain.KeywordRule {
	out := make([]domain.KeywordRule, len(s.rules))
	for i, r := range s.rules {
		out[i] = domain.KeywordRule{UserID: userID, Keyword: r.Keyword, CategoryID: r.Category}
	}
	return out
}

// Categories returns the seeded categories in file order.
func (s *Seed) Categories() []domain.Category {
	out := make([]domain.Category, len(s.categories))
	for i, c := range s.categories {
		out[i] = domain.Category{ID: c.ID, Name: c.Name}
	}
	return out
}

// GetKeywordRules serves the seed as a read-only rule store for any user.
func (s *Seed) GetKeywordRules(_ context.Context, userID string) ([]domain.KeywordRule, error) {
	return s.KeywordRules(userID), nil
}

// GetCategories serves the seeded categories for any user.
func (s *Seed) GetCategories(_ context.Context, _ string) ([]domain.Category, error) {
	return s.Categories(), nil
}
