package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Dates are carried through state as ISO strings (YYYY-MM-DD) so that
// persisted checkpoints stay location independent.
const isoDate = "2006-01-02"

var (
	isoPattern     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	numericPattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	monthPattern   = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
)

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdaysByName = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// DetectDate resolves a date mention in the message to an ISO date
// string relative to now. Relative words win over explicit forms since
// they are by far the most common in journal speech; "last monday"
// means the most recent past monday, never today.
func DetectDate(text string, now time.Time) (string, bool) {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "day before yesterday"):
		return now.AddDate(0, 0, -2).Format(isoDate), true
	case strings.Contains(lower, "yesterday"):
		return now.AddDate(0, 0, -1).Format(isoDate), true
	case strings.Contains(lower, "tomorrow"):
		return now.AddDate(0, 0, 1).Format(isoDate), true
	case strings.Contains(lower, "today"),
		strings.Contains(lower, "tonight"),
		strings.Contains(lower, "this morning"),
		strings.Contains(lower, "this afternoon"),
		strings.Contains(lower, "this evening"),
		strings.Contains(lower, "last night"):
		return now.Format(isoDate), true
	}

	// The earliest weekday mention wins so messages naming several
	// days resolve the same way every time.
	firstIdx := -1
	var firstWd time.Weekday
	for name, wd := range weekdaysByName {
		idx := strings.Index(lower, name)
		if idx < 0 {
			continue
		}
		if firstIdx < 0 || idx < firstIdx {
			firstIdx = idx
			firstWd = wd
		}
	}
	if firstIdx >= 0 {
		back := int(now.Weekday()-firstWd+7) % 7
		if back == 0 {
			back = 7
		}
		return now.AddDate(0, 0, -back).Format(isoDate), true
	}

	if m := isoPattern.FindStringSubmatch(lower); m != nil {
		if d, ok := buildDate(m[3], m[1], m[2]); ok {
			return d, true
		}
	}
	if m := monthPattern.FindStringSubmatch(lower); m != nil {
		month := monthsByName[strings.TrimSuffix(m[1], ".")]
		year := m[3]
		if year == "" {
			year = strconv.Itoa(now.Year())
		}
		if d, ok := buildDate(m[2], year, strconv.Itoa(int(month))); ok {
			return d, true
		}
	}
	if m := numericPattern.FindStringSubmatch(lower); m != nil {
		year := m[3]
		switch len(year) {
		case 0:
			year = strconv.Itoa(now.Year())
		case 2:
			year = "20" + year
		}
		if d, ok := buildDate(m[2], year, m[1]); ok {
			return d, true
		}
	}
	return "", false
}

// buildDate validates the parts through time.Date round-tripping, which
// rejects impossible dates like 2/30.
func buildDate(day, year, month string) (string, bool) {
	d, err := strconv.Atoi(day)
	if err != nil {
		return "", false
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return "", false
	}
	mo, err := strconv.Atoi(month)
	if err != nil {
		return "", false
	}
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if int(t.Month()) != mo || t.Day() != d {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, mo, d), true
}
