// Package normalize provides the pure field normalizers shared by the format mappers,
// the deduplication engine and the suggestion engine.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
)

// DateMode selects how NormalizeDate formats its result.
type DateMode string

const (
	// ModeBankImport parses statement dates (day-first) into YYYY-MM-DD.
	ModeBankImport DateMode = "bank-import"
	// ModeAPIToDomain parses caller supplied dates or timestamps into YYYY-MM-DD.
	ModeAPIToDomain DateMode = "api-to-domain"
	// ModeCompareDomain parses into YYYY-MM-DD for lexicographic comparison.
	ModeCompareDomain DateMode = "compare-domain"
	// ModeDomainToDisplay formats a date as DD/MM/YYYY for display.
	ModeDomainToDisplay DateMode = "domain-to-display"
)

const displayLayout = "02/01/2006"

// DateResult is the outcome of NormalizeDate. Exactly one of Parsed or Error is set.
type DateResult struct {
	Parsed   string
	Error    string
	Original string
}

// OK reports whether the input was parsed.
func (r DateResult) OK() bool {
	return r.Parsed != ""
}

type dateFormat struct {
	re    *regexp.Regexp
	order [3]int // submatch index of day, month, year
	name  string
}

// Day-first layouts are tried before year-first ones so 01/02/2025 is 1 February.
var dateFormats = []dateFormat{
	{regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`), [3]int{1, 2, 3}, "DD/MM/YYYY"},
	{regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`), [3]int{3, 2, 1}, "YYYY-MM-DD"},
	{regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`), [3]int{1, 2, 3}, "DD-MM-YYYY"},
	{regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`), [3]int{3, 2, 1}, "YYYY/MM/DD"},
	{regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`), [3]int{1, 2, 3}, "DD.MM.YYYY"},
	{regexp.MustCompile(`^(\d{4})\.(\d{1,2})\.(\d{1,2})$`), [3]int{3, 2, 1}, "YYYY.MM.DD"},
	{regexp.MustCompile(`^(\d{1,2})\s+(\d{1,2})\s+(\d{4})$`), [3]int{1, 2, 3}, "DD MM YYYY"},
	{regexp.MustCompile(`^(\d{4})\s+(\d{1,2})\s+(\d{1,2})$`), [3]int{3, 2, 1}, "YYYY MM DD"},
}

// Generic layouts tried after the numeric formats above.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102150405",
	"20060102",
	"2 Jan 2006",
	"02 Jan 2006",
	"2-Jan-2006",
	"02-Jan-2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	"Mon Jan 2 2006",
}

var (
	isoTimestampPattern = regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2})T\d{1,2}:\d{2}`)
	trailingTimePattern = regexp.MustCompile(`^(\S+)\s+\d{1,2}:\d{2}(:\d{2})?(\s*([AaPp][Mm]))?(\s*(Z|[+-]\d{2}:?\d{2}))?$`)
)

// NormalizeDate parses a date in any supported layout.
// Timestamps keep only their date component. It never panics.
func NormalizeDate(input string, mode DateMode) DateResult {
	original := strings.TrimSpace(input)
	if original == "" {
		return DateResult{Error: "Empty date", Original: input}
	}

	clean := stripTime(original)

	t, problem := parseDate(clean)
	if problem != "" {
		return DateResult{Error: problem, Original: original}
	}

	if mode == ModeDomainToDisplay {
		return DateResult{Parsed: t.Format(displayLayout), Original: original}
	}
	return DateResult{Parsed: t.Format(domain.DateLayout), Original: original}
}

// stripTime drops a time-of-day component so only the calendar date is parsed.
func stripTime(s string) string {
	if m := isoTimestampPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := trailingTimePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// parseDate returns the parsed date or a human-readable problem description.
func parseDate(s string) (time.Time, string) {
	for _, f := range dateFormats {
		m := f.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[f.order[0]])
		month, _ := strconv.Atoi(m[f.order[1]])
		year, _ := strconv.Atoi(m[f.order[2]])
		return buildDate(year, month, day, f.name)
	}

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 1900 || t.Year() > 2100 {
			return time.Time{}, fmt.Sprintf("Invalid year %d", t.Year())
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), ""
	}

	return time.Time{}, "Date format not recognized"
}

func buildDate(year, month, day int, formatName string) (time.Time, string) {
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Sprintf("Invalid month in %s format", formatName)
	}
	if day < 1 || day > daysIn(year, time.Month(month)) {
		return time.Time{}, fmt.Sprintf("Invalid day for month %d in %s format", month, formatName)
	}
	if year < 1900 || year > 2100 {
		return time.Time{}, fmt.Sprintf("Invalid year in %s format", formatName)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), ""
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CompareDomainDates compares two YYYY-MM-DD dates. Empty sorts first.
func CompareDomainDates(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	case a < b:
		return -1
	default:
		return 1
	}
}

// AddDays shifts a date by n days. ok is false when the date cannot be parsed.
func AddDays(date string, n int) (string, bool) {
	r := NormalizeDate(date, ModeCompareDomain)
	if !r.OK() {
		return "", false
	}
	t, _ := time.Parse(domain.DateLayout, r.Parsed)
	return t.AddDate(0, 0, n).Format(domain.DateLayout), true
}

// DaysDifference returns b minus a in whole days.
func DaysDifference(a, b string) (int, bool) {
	ra := NormalizeDate(a, ModeCompareDomain)
	rb := NormalizeDate(b, ModeCompareDomain)
	if !ra.OK() || !rb.OK() {
		return 0, false
	}
	ta, _ := time.Parse(domain.DateLayout, ra.Parsed)
	tb, _ := time.Parse(domain.DateLayout, rb.Parsed)
	return int(tb.Sub(ta).Hours() / 24), true
}

// LastDayOfMonth returns the final calendar day of the month containing date.
func LastDayOfMonth(date string) (string, bool) {
	r := NormalizeDate(date, ModeCompareDomain)
	if !r.OK() {
		return "", false
	}
	t, _ := time.Parse(domain.DateLayout, r.Parsed)
	last := time.Date(t.Year(), t.Month(), daysIn(t.Year(), t.Month()), 0, 0, 0, 0, time.UTC)
	return last.Format(domain.DateLayout), true
}
