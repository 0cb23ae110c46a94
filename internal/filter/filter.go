// Package filter decides whether an article is a candidate for scoring.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/rubric"
)

// Input is what the filter evaluates.
type Input struct {
	Title            string
	Abstract         string
	Journal          string
	PublicationTypes []string
	Keywords         []string
	MeshTerms        []string
	// ExtraTerms extend the tracked keyword list, e.g. with active topic keywords.
	ExtraTerms []string
}

// InputFromRecord builds filter input from a record.
func InputFromRecord(r *article.Record, extra []string) Input {
	return Input{
		Title:            r.Title,
		Abstract:         r.Abstract,
		Journal:          r.Journal,
		PublicationTypes: r.PublicationTypes,
		Keywords:         r.Keywords,
		MeshTerms:        r.MeshTerms,
		ExtraTerms:       extra,
	}
}

// Decision is the filter verdict.
type Decision struct {
	Relevant bool
	Reason   string
	Criteria []string
	// TitleOnly is set when the abstract was missing.
	TitleOnly bool
}

// Filter is a relevance gate.
type Filter interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// RejectReason is the reason recorded when no inclusion criterion matched.
const RejectReason = "no inclusion criteria matched"

// RuleFilter is the inclusion-based keyword gate. An article is relevant
// when at least one criterion matches.
type RuleFilter struct {
	table *rubric.Table
}

// NewRuleFilter creates a rule filter over a compiled rubric.
func NewRuleFilter(table *rubric.Table) *RuleFilter {
	return &RuleFilter{table: table}
}

// Evaluate implements Filter.
func (f *RuleFilter) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	return f.Check(in), nil
}

// Check runs the rules synchronously.
func (f *RuleFilter) Check(in Input) Decision {
	parts := []string{in.Title, in.Abstract}
	parts = append(parts, in.Keywords...)
	parts = append(parts, in.MeshTerms...)
	text := strings.Join(parts, " \n ")

	var criteria []string
	for _, m := range f.table.MatchSpecialties(text) {
		criteria = append(criteria, fmt.Sprintf("specialty %s (%s)", m.Category, strings.Join(m.Terms, ", ")))
	}
	design := rubric.DetectDesign(in.PublicationTypes, in.Title, in.Abstract)
	if f.table.IsInclusionDesign(design) {
		criteria = append(criteria, "design "+string(design))
	}
	if tracked := f.table.MatchTracked(text, in.ExtraTerms); len(tracked) > 0 {
		criteria = append(criteria, "tracked "+strings.Join(tracked, ", "))
	}
	if f.table.JournalTier(in.Journal) == rubric.TierMajor {
		criteria = append(criteria, "major journal")
	}

	d := Decision{
		Relevant:  len(criteria) > 0,
		Criteria:  criteria,
		TitleOnly: strings.TrimSpace(in.Abstract) == "",
	}
	if d.Relevant {
		d.Reason = "matched " + strings.Join(criteria, "; ")
	} else {
		d.Reason = RejectReason
	}
	if d.TitleOnly {
		d.Reason += " (title only, abstract missing)"
	}
	return d
}
