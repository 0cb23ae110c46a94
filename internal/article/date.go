package article

import (
	"fmt"
	"strconv"
	"strings"
)

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dateSeparators = strings.NewReplacer("-", " ", "/", " ")

// ParseMonth accepts "3", "03", "Mar" or "March".
func ParseMonth(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= 12 {
			return n
		}
		return 0
	}
	if len(s) >= 3 {
		return monthNames[strings.ToLower(s[:3])]
	}
	return 0
}

// PartialDate formats year/month/day parts as YYYY[-MM[-DD]].
// Parts after the first missing one are dropped.
func PartialDate(year, month, day string) string {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y < 1000 || y > 9999 {
		return ""
	}
	out := fmt.Sprintf("%04d", y)
	m := ParseMonth(month)
	if m == 0 {
		return out
	}
	out += fmt.Sprintf("-%02d", m)
	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil || d < 1 || d > 31 {
		return out
	}
	return out + fmt.Sprintf("-%02d", d)
}

// NormalizeDate cleans a date that may be partial. Unparseable input becomes empty.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.IndexByte(s, 'T'); i == 10 {
		s = s[:10]
	}
	parts := strings.Fields(dateSeparators.Replace(s))
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return PartialDate(parts[0], parts[1], parts[2])
}

// DateSortKey pads a partial date so that lexical order matches chronology.
// A missing date sorts before every real date.
func DateSortKey(date string) string {
	d := NormalizeDate(date)
	switch len(d) {
	case 0:
		return ""
	case 4:
		return d + "-00-00"
	case 7:
		return d + "-00"
	}
	return d
}
