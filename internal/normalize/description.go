package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespacePattern  = regexp.MustCompile(`\s+`)
	punctuationPattern = regexp.MustCompile(`[^a-z0-9_\s]`)
	boilerplatePattern = regexp.MustCompile(`\b(transfer|payment|withdrawal|deposit|fee|charge|interest|refund|inc|ltd|llc|corp|company|co|pl|pty|pos|atm|eftpos|card|debit|credit)\b`)
	longNumberPattern  = regexp.MustCompile(`\b\d{4,}\b`)
)

// commonWords never count as merchant keywords.
var commonWords = wordSet(`the and for with from how why what when where but
	new old big small good bad best worst first last next previous other same different
	more less most least many few some all any each every both either neither none`)

func wordSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

// maxMerchantKeywords caps ExtractMerchantKeywords.
const maxMerchantKeywords = 5

// foldASCII strips combining marks so "Café" and "Cafe" normalize alike.
func foldASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizeDescription produces the comparison form of a transaction description.
// Boilerplate banking words, punctuation and long digit runs (card numbers,
// references) are removed. Output is lowercase with single spaces.
//
// Examples: "EFTPOS Countdown Ltd 12345678" → "countdown", "Café Nero, Inc." → "cafe nero"
func NormalizeDescription(text string) string {
	s := strings.ToLower(foldASCII(text))
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = punctuationPattern.ReplaceAllString(s, "")
	s = boilerplatePattern.ReplaceAllString(s, "")
	s = longNumberPattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ExtractMerchantKeywords returns up to five distinctive words from a normalized description.
func ExtractMerchantKeywords(normalized string) []string {
	var keywords []string
	for _, word := range strings.Fields(normalized) {
		if len(word) < 3 || commonWords[word] {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == maxMerchantKeywords {
			break
		}
	}
	return keywords
}
