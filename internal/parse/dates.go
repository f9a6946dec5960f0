// Package parse interprets the free-form dates and amounts language models return for invoices.
package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// "15 DE ENERO DE 2024", "1 enero 2024", "15 de enero del 2024"
var reSpelledDate = regexp.MustCompile(`(?i)^(\d{1,2})\s+(?:de\s+)?([a-záéíóúñ]+)\s+(?:de(?:l)?\s+)?(\d{4})$`)

var isoLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// day-first numeric forms; two-digit years map 69-99 to the 1900s and 00-68 to the 2000s
var dmyLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2/1/06",
	"2-1-06",
	"2.1.06",
}

// ParseDate interprets s as ISO (YYYY-MM-DD), then DD/MM/YYYY or DD/MM/YY, then a spelled Spanish date.
// Results are UTC midnight. When nothing matches it returns now and false; it never fails.
func ParseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}
	for _, layout := range dmyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return dateOnly(t), true
		}
	}
	if t, ok := parseSpelled(s); ok {
		return t, true
	}
	return now, false
}

func parseSpelled(s string) (time.Time, bool) {
	m := reSpelledDate.FindStringSubmatch(strings.Join(strings.Fields(s), " "))
	if m == nil {
		return time.Time{}, false
	}
	month, ok := spanishMonths[foldAccents(strings.ToLower(m[2]))]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31 de febrero into March; reject it instead
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u")

func foldAccents(s string) string {
	return accentFolder.Replace(s)
}
