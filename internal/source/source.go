// Package source fetches raw article metadata from literature sources.
package source

import (
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrEmptyQuery is returned when a query names neither a date range nor identifiers.
var ErrEmptyQuery = errors.New("query needs a date range or identifiers")

// Query selects articles by publication window (YYYY-MM-DD, inclusive) or by
// explicit identifiers. IDs take precedence over the window.
type Query struct {
	From string
	To   string
	IDs  []string
}

// Empty reports whether the query selects nothing.
func (q Query) Empty() bool {
	return len(q.IDs) == 0 && q.From == "" && q.To == ""
}

// String describes the query for run logs.
func (q Query) String() string {
	if len(q.IDs) > 0 {
		return "ids:" + strings.Join(q.IDs, ",")
	}
	return q.From + ".." + q.To
}

// StripMarkup turns an HTML or XML fragment into plain text with normalized
// whitespace. Entities are decoded.
func StripMarkup(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + fragment + "</body>"))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	// Block elements would otherwise glue adjacent words together.
	doc.Find("p, br, li, div, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
