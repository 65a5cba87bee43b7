package suggest

import (
	"math"
	"strings"
)

const (
	wordWeight = 0.7
	charWeight = 0.3

	// zeroAmountSimilarity is returned when either amount is zero.
	zeroAmountSimilarity = 0.5
)

// Similarity scores two strings in [0,1] as 0.7 × word overlap plus
// 0.3 × normalized Levenshtein similarity. Either string empty scores 0.
// Comparison is case-sensitive; callers lowercase first.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}

	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)

	var wordSim float64
	if n := max(len(wordsA), len(wordsB)); n > 0 {
		inB := make(map[string]struct{}, len(wordsB))
		for _, w := range wordsB {
			inB[w] = struct{}{}
		}
		matches := 0
		for _, w := range wordsA {
			if _, ok := inB[w]; ok {
				matches++
			}
		}
		wordSim = float64(matches) / float64(n)
	}

	ra, rb := []rune(a), []rune(b)
	charSim := 1 - float64(levenshtein(ra, rb))/float64(max(len(ra), len(rb)))

	return wordSim*wordWeight + charSim*charWeight
}

// levenshtein returns the edit distance between a and b using two rows.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
				continue
			}
			curr[j] = 1 + min(prev[j-1], prev[j], curr[j-1])
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// AmountSimilarity compares absolute amounts as 1 − |a−b| / max(a,b).
// If either amount is zero the result is 0.5.
func AmountSimilarity(a, b float64) float64 {
	a, b = math.Abs(a), math.Abs(b)
	if a == 0 || b == 0 {
		return zeroAmountSimilarity
	}
	return 1 - math.Abs(a-b)/math.Max(a, b)
}
