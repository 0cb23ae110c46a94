package rubric

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/TobiSchelling/meddash/internal/article"
)

// Journal tiers.
const (
	TierNone  = 0
	TierHigh  = 1
	TierMajor = 2
)

// Term is a compiled whole-word pattern. A trailing '*' in the source term
// matches any word suffix.
type Term struct {
	Text string
	re   *regexp.Regexp
}

// CompileTerm builds a case-insensitive whole-word matcher.
func CompileTerm(term string) (Term, error) {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" || t == "*" {
		return Term{}, fmt.Errorf("empty term")
	}
	suffix := `\b`
	if strings.HasSuffix(t, "*") {
		t = strings.TrimSuffix(t, "*")
		suffix = `\w*`
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(t) + suffix)
	if err != nil {
		return Term{}, fmt.Errorf("compiling term %q: %w", term, err)
	}
	return Term{Text: strings.TrimSuffix(strings.ToLower(strings.TrimSpace(term)), "*"), re: re}, nil
}

// Match reports whether the term occurs in text.
func (t Term) Match(text string) bool {
	return t.re != nil && t.re.MatchString(text)
}

func compileTerms(terms []string) ([]Term, error) {
	out := make([]Term, 0, len(terms))
	for _, s := range terms {
		if strings.TrimSpace(s) == "" {
			continue
		}
		t, err := CompileTerm(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// matchAll returns the distinct term texts found in text, in table order.
func matchAll(terms []Term, text string) []string {
	var hits []string
	for _, t := range terms {
		if t.Match(text) && !slices.Contains(hits, t.Text) {
			hits = append(hits, t.Text)
		}
	}
	return hits
}

type specialtyTerms struct {
	category article.Category
	terms    []Term
}

type penaltyTerms struct {
	name     string
	journals []string
	terms    []Term
	points   float64
}

// Table is a compiled Rubric. It is safe for concurrent use.
type Table struct {
	rubric      Rubric
	major       []string
	high        []string
	specialties []specialtyTerms
	tracked     []Term
	novelty     []Term
	prevHigh    []Term
	prevMedium  []Term
	hospital    []Term
	penalties   []penaltyTerms
}

// Compile validates r and precompiles its matchers.
func Compile(r Rubric) (*Table, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rubric: %w", err)
	}
	t := &Table{rubric: r, major: lowerAll(r.Journals.Major), high: lowerAll(r.Journals.High)}

	for _, s := range r.Specialties {
		terms, err := compileTerms(s.Keywords)
		if err != nil {
			return nil, fmt.Errorf("specialty %s: %w", s.Category, err)
		}
		t.specialties = append(t.specialties, specialtyTerms{category: s.Category, terms: terms})
	}

	var err error
	if t.tracked, err = compileTerms(r.TrackedKeywords); err != nil {
		return nil, fmt.Errorf("tracked keywords: %w", err)
	}
	if t.novelty, err = compileTerms(r.NoveltyKeywords); err != nil {
		return nil, fmt.Errorf("novelty keywords: %w", err)
	}
	if t.prevHigh, err = compileTerms(r.Prevalence.High); err != nil {
		return nil, fmt.Errorf("prevalence high: %w", err)
	}
	if t.prevMedium, err = compileTerms(r.Prevalence.Medium); err != nil {
		return nil, fmt.Errorf("prevalence medium: %w", err)
	}
	if t.hospital, err = compileTerms(r.Hospitalization.Keywords); err != nil {
		return nil, fmt.Errorf("hospitalization keywords: %w", err)
	}
	for _, p := range r.Penalties {
		terms, err := compileTerms(p.Keywords)
		if err != nil {
			return nil, fmt.Errorf("penalty %s: %w", p.Name, err)
		}
		t.penalties = append(t.penalties, penaltyTerms{name: p.Name, journals: lowerAll(p.Journals), terms: terms, points: p.Points})
	}
	return t, nil
}

// MustCompile is Compile for rubrics known to be valid, such as Default.
func MustCompile(r Rubric) *Table {
	t, err := Compile(r)
	if err != nil {
		panic(err)
	}
	return t
}

// Rubric returns the source configuration.
func (t *Table) Rubric() Rubric { return t.rubric }

// Weights returns the dimension weights.
func (t *Table) Weights() Weights { return t.rubric.Weights }

// JournalTier classifies a journal name by substring match.
func (t *Table) JournalTier(journal string) int {
	j := strings.ToLower(strings.TrimSpace(journal))
	if j == "" {
		return TierNone
	}
	for _, m := range t.major {
		if strings.Contains(j, m) {
			return TierMajor
		}
	}
	for _, h := range t.high {
		if strings.Contains(j, h) {
			return TierHigh
		}
	}
	return TierNone
}

// SpecialtyMatch is one specialty the text mentions.
type SpecialtyMatch struct {
	Category article.Category
	Terms    []string
}

// MatchSpecialties returns every specialty with at least one hit, ordered by
// hit count and then by table order.
func (t *Table) MatchSpecialties(text string) []SpecialtyMatch {
	var out []SpecialtyMatch
	for _, s := range t.specialties {
		if hits := matchAll(s.terms, text); len(hits) > 0 {
			out = append(out, SpecialtyMatch{Category: s.category, Terms: hits})
		}
	}
	slices.SortStableFunc(out, func(a, b SpecialtyMatch) int {
		return len(b.Terms) - len(a.Terms)
	})
	return out
}

// MatchTracked returns the tracked keywords found in text, plus any of extra.
func (t *Table) MatchTracked(text string, extra []string) []string {
	hits := matchAll(t.tracked, text)
	for _, e := range extra {
		term, err := CompileTerm(e)
		if err != nil {
			continue
		}
		if term.Match(text) && !slices.Contains(hits, term.Text) {
			hits = append(hits, term.Text)
		}
	}
	return hits
}

// MatchNovelty returns the novelty terms found in text.
func (t *Table) MatchNovelty(text string) []string {
	return matchAll(t.novelty, text)
}

// PrevalencePoints scores how common the conditions in text are. It returns
// the points and the terms of the tier that applied.
func (t *Table) PrevalencePoints(text string) (float64, []string) {
	p := t.rubric.Prevalence
	if hits := matchAll(t.prevHigh, text); len(hits) > 0 {
		return math.Min(p.HighPoints, MaxPrevalence), hits
	}
	if hits := matchAll(t.prevMedium, text); len(hits) > 0 {
		return math.Min(p.MediumPoints, MaxPrevalence), hits
	}
	return 0, nil
}

// HospitalizationPoints scores inpatient and acute care relevance.
func (t *Table) HospitalizationPoints(text string) (float64, []string) {
	hits := matchAll(t.hospital, text)
	if len(hits) == 0 {
		return 0, nil
	}
	return math.Min(t.rubric.Hospitalization.Points, MaxHospitalization), hits
}

// PenaltyHit is an applied penalty rule.
type PenaltyHit struct {
	Name   string
	Points float64
}

// Penalties evaluates every penalty rule. Journal rules require an exact,
// case-insensitive name match.
func (t *Table) Penalties(journal, text string) []PenaltyHit {
	j := strings.ToLower(strings.TrimSpace(journal))
	var hits []PenaltyHit
	for _, p := range t.penalties {
		if slices.Contains(p.journals, j) || len(matchAll(p.terms, text)) > 0 {
			hits = append(hits, PenaltyHit{Name: p.name, Points: p.points})
		}
	}
	return hits
}

// IsInclusionDesign reports whether a design qualifies an article on its own.
func (t *Table) IsInclusionDesign(d article.Type) bool {
	return slices.Contains(t.rubric.InclusionDesigns, d)
}

// DesignPoints returns the rigor sub-score for a design.
func (t *Table) DesignPoints(d article.Type) float64 {
	return math.Min(t.rubric.DesignPoints[d], MaxDesign)
}

// JournalPoints returns the venue sub-score for a tier.
func (t *Table) JournalPoints(tier int) float64 {
	switch tier {
	case TierMajor:
		return MaxJournal
	case TierHigh:
		return MaxJournal / 2
	}
	return 0
}

// PopulationPoints grows logarithmically from Min up to Threshold and is flat above it.
func (t *Table) PopulationPoints(n int) float64 {
	p := t.rubric.Population
	if n < p.Min {
		return 0
	}
	if n >= p.Threshold {
		return p.MaxPoints
	}
	ratio := math.Log(float64(n)/float64(p.Min)) / math.Log(float64(p.Threshold)/float64(p.Min))
	return p.MaxPoints * ratio
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
