package database

import (
	"strings"
	"time"

	"github.com/TobiSchelling/meddash/internal/article"
)

const dateLayout = "2006-01-02"

// GetToday returns today's date as YYYY-MM-DD.
func GetToday() string {
	return time.Now().Format(dateLayout)
}

// RangeSinceLastUpdate returns the publication window for an incremental
// ingest: from the day after latest (a created_at timestamp) to now. An empty
// or unparseable latest falls back to the last fallbackDays days.
func RangeSinceLastUpdate(latest string, now time.Time, fallbackDays int) (from, to string) {
	to = now.Format(dateLayout)
	if len(latest) >= len(dateLayout) {
		if d, err := time.Parse(dateLayout, latest[:len(dateLayout)]); err == nil {
			start := d.AddDate(0, 0, 1)
			if start.After(now) {
				start = now
			}
			return start.Format(dateLayout), to
		}
	}
	return now.AddDate(0, 0, -fallbackDays).Format(dateLayout), to
}

// FormatDateDisplay formats a partial publication date for reading:
// "Feb 06, 2026", "Feb 2026" or "2026".
func FormatDateDisplay(date string) string {
	date = article.NormalizeDate(date)
	switch strings.Count(date, "-") {
	case 2:
		if d, err := time.Parse(dateLayout, date); err == nil {
			return d.Format("Jan 02, 2006")
		}
	case 1:
		if d, err := time.Parse("2006-01", date); err == nil {
			return d.Format("Jan 2006")
		}
	}
	return date
}
