// Package scoring computes the 0-10 ranking score of an article and its
// specialty and design classification.
package scoring

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/rubric"
)

// Input is the part of an article the engine looks at.
type Input struct {
	Title            string
	Abstract         string
	Journal          string
	PublicationTypes []string
	Keywords         []string
	MeshTerms        []string
}

// InputFromRecord extracts scoring input from a record.
func InputFromRecord(r *article.Record) Input {
	return Input{
		Title:            r.Title,
		Abstract:         r.Abstract,
		Journal:          r.Journal,
		PublicationTypes: r.PublicationTypes,
		Keywords:         r.Keywords,
		MeshTerms:        r.MeshTerms,
	}
}

// Text joins the searchable fields.
func (in Input) Text() string {
	parts := []string{in.Title, in.Abstract}
	parts = append(parts, in.Keywords...)
	parts = append(parts, in.MeshTerms...)
	return strings.Join(parts, " \n ")
}

// Result is the output of one scoring run.
type Result struct {
	Score       int
	Breakdown   article.Breakdown
	Category    article.Category
	ArticleType article.Type
	JournalTier int
}

// Scorer scores articles that passed the relevance filter.
type Scorer interface {
	Score(ctx context.Context, in Input) (Result, error)
}

// Engine is the rule-based Scorer. Its output depends only on the input and the rubric.
type Engine struct {
	table *rubric.Table
}

// New creates an engine over a compiled rubric.
func New(table *rubric.Table) *Engine {
	return &Engine{table: table}
}

// Score implements Scorer.
func (e *Engine) Score(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return e.Evaluate(in), nil
}

// Evaluate scores synchronously.
func (e *Engine) Evaluate(in Input) Result {
	text := in.Text()
	tier := e.table.JournalTier(in.Journal)
	design := rubric.DetectDesign(in.PublicationTypes, in.Title, in.Abstract)

	var b article.Breakdown
	b.Journal = e.table.JournalPoints(tier)
	b.Design = e.table.DesignPoints(design)

	b.Participants = ExtractParticipants(in.Title + "\n" + in.Abstract)
	b.Population = e.table.PopulationPoints(b.Participants)

	category := article.CategoryOther
	if matches := e.table.MatchSpecialties(text); len(matches) > 0 {
		top := matches[0]
		category = top.Category
		b.MatchedTerms = top.Terms
		b.Specialty = rubric.SpecialtySingle
		if len(top.Terms) > 1 {
			b.Specialty = rubric.MaxSpecialty
		}
	}

	b.NoveltyTerms = e.table.MatchNovelty(text)
	b.Novelty = math.Min(float64(len(b.NoveltyTerms))*rubric.NoveltyPerTerm, rubric.MaxNovelty)

	b.Prevalence, b.PrevalenceTerms = e.table.PrevalencePoints(text)
	b.Hospitalization, b.HospitalTerms = e.table.HospitalizationPoints(text)

	for _, p := range e.table.Penalties(in.Journal, text) {
		b.Penalty += p.Points
		b.PenaltyReasons = append(b.PenaltyReasons, p.Name)
	}
	b.Penalty = math.Max(b.Penalty, rubric.MinPenalty)

	w := e.table.Weights()
	b.Total = w.Journal*b.Journal + w.Design*b.Design + w.Population*b.Population +
		w.Specialty*b.Specialty + w.Novelty*b.Novelty + w.Penalty*b.Penalty +
		w.Prevalence*b.Prevalence + w.Hospitalization*b.Hospitalization

	return Result{
		Score:       Aggregate(b.Total),
		Breakdown:   b,
		Category:    category,
		ArticleType: design,
		JournalTier: tier,
	}
}

// Aggregate clamps a weighted total to [0, 10] and rounds half away from zero.
func Aggregate(total float64) int {
	if math.IsNaN(total) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(rubric.MaxScore, total))))
}

var (
	countRe = regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})+|\d+)\s+(?:[a-z-]+\s+){0,2}?(patients|participants|subjects|adults|children|individuals|women|men|persons|people|infants|residents|veterans|volunteers)\b`)
	nEqRe   = regexp.MustCompile(`(?i)\bn\s*=\s*(\d{1,3}(?:,\d{3})+|\d+)`)
)

// maxParticipants bounds what is read as a sample size rather than a registry total or year.
const maxParticipants = 10_000_000

// ExtractParticipants returns the largest sample size stated in text, or 0.
func ExtractParticipants(text string) int {
	best := 0
	consider := func(s string) {
		n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
		if err == nil && n > best && n <= maxParticipants {
			best = n
		}
	}
	for _, m := range countRe.FindAllStringSubmatch(text, -1) {
		consider(m[1])
	}
	for _, m := range nEqRe.FindAllStringSubmatch(text, -1) {
		consider(m[1])
	}
	return best
}
