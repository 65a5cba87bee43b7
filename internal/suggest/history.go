package suggest

import (
	"context"
	"math"
	"strings"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

const (
	historyDescThreshold   = 0.7
	historyAmountThreshold = 0.7
)

// HistoryStore loads a user's previously categorized transactions.
type HistoryStore interface {
	GetCategorizedHistory(ctx context.Context, userID string) ([]domain.HistoryEntry, error)
}

type historyMatch struct {
	categoryID string
	confidence float64
	count      int
}

// matchHistory votes over entries similar in both description and amount.
// Each qualifying entry votes (descSim + amountSim) / 2 for its category; the
// category with the highest total wins with confidence total / qualifying.
func matchHistory(description string, amt float64, entries []domain.HistoryEntry) (historyMatch, bool) {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" || len(entries) == 0 {
		return historyMatch{}, false
	}
	amt = math.Abs(amt)

	votes := make(map[string]float64)
	counts := make(map[string]int)
	var order []string
	qualifying := 0

	for _, e := range entries {
		if e.CategoryID == "" {
			continue
		}
		descSim := Similarity(desc, strings.ToLower(e.Description))
		amountSim := AmountSimilarity(amt, e.Amount)
		if descSim <= historyDescThreshold || amountSim <= historyAmountThreshold {
			continue
		}

		if _, seen := votes[e.CategoryID]; !seen {
			order = append(order, e.CategoryID)
		}
		votes[e.CategoryID] += (descSim + amountSim) / 2
		counts[e.CategoryID]++
		qualifying++
	}
	if qualifying == 0 {
		return historyMatch{}, false
	}

	var best string
	for _, id := range order {
		if best == "" || votes[id] > votes[best] {
			best = id
		}
	}

	return historyMatch{
		categoryID: best,
		confidence: clamp(votes[best] / float64(qualifying)),
		count:      counts[best],
	}, true
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
