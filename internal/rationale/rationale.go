// Package rationale turns a score breakdown into a clinical bottom line and tags.
package rationale

import (
	"context"
	"fmt"
	"strings"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/rubric"
	"github.com/TobiSchelling/meddash/internal/scoring"
)

// Input is a scored article.
type Input struct {
	Title    string
	Abstract string
	Journal  string
	Result   scoring.Result
}

// Summary is the generated rationale.
type Summary struct {
	BottomLine string
	Tags       []string
}

// Generator produces summaries. Implementations must draw tags from Tags.
type Generator interface {
	Generate(ctx context.Context, in Input) (Summary, error)
}

// Closed tag vocabulary beyond category, design and penalty names.
const (
	TagMajorJournal     = "major-journal"
	TagHighImpact       = "high-impact-journal"
	TagLargeTrial       = "large-trial"
	TagPracticeChanging = "practice-changing"
	TagTitleOnly        = "title-only"
	TagHospitalCare     = "hospital-care"
)

// LargeTrialParticipants is the sample size from which TagLargeTrial applies.
const LargeTrialParticipants = 1000

// Tags derives the tag set from a scoring result. Every tag is a slug of a
// category, a design, a penalty rule or one of the Tag constants.
func Tags(res scoring.Result, abstract string) []string {
	var tags []string
	add := func(t string) {
		if t == "" {
			return
		}
		for _, existing := range tags {
			if existing == t {
				return
			}
		}
		tags = append(tags, t)
	}

	if res.Category != "" && res.Category != article.CategoryOther {
		add(slug(string(res.Category)))
	}
	if res.ArticleType != "" && res.ArticleType != article.TypeOther {
		add(slug(string(res.ArticleType)))
	}
	switch res.JournalTier {
	case rubric.TierMajor:
		add(TagMajorJournal)
	case rubric.TierHigh:
		add(TagHighImpact)
	}
	if res.Breakdown.Participants >= LargeTrialParticipants {
		add(TagLargeTrial)
	}
	if len(res.Breakdown.NoveltyTerms) > 0 {
		add(TagPracticeChanging)
	}
	if len(res.Breakdown.HospitalTerms) > 0 {
		add(TagHospitalCare)
	}
	for _, p := range res.Breakdown.PenaltyReasons {
		add(slug(p))
	}
	if strings.TrimSpace(abstract) == "" {
		add(TagTitleOnly)
	}
	return tags
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "-", "_", "-").Replace(s)
}

// RuleGenerator writes the bottom line from the breakdown alone.
type RuleGenerator struct{}

// NewRuleGenerator creates a rule-based generator.
func NewRuleGenerator() *RuleGenerator { return &RuleGenerator{} }

// Generate implements Generator.
func (g *RuleGenerator) Generate(ctx context.Context, in Input) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	return Summary{BottomLine: BottomLine(in), Tags: Tags(in.Result, in.Abstract)}, nil
}

// BottomLine builds a short deterministic summary of why an article scored
// as it did.
func BottomLine(in Input) string {
	res := in.Result
	b := res.Breakdown

	design := designPhrase(res.ArticleType)
	var first strings.Builder
	first.WriteString(design)
	if in.Journal != "" {
		fmt.Fprintf(&first, " in %s", in.Journal)
	}
	if res.Category != "" && res.Category != article.CategoryOther {
		fmt.Fprintf(&first, " on %s", strings.ToLower(string(res.Category)))
		if len(b.MatchedTerms) > 0 {
			fmt.Fprintf(&first, " (%s)", strings.Join(b.MatchedTerms, ", "))
		}
	}
	if b.Participants > 0 {
		fmt.Fprintf(&first, " with %d participants", b.Participants)
	}
	first.WriteString(".")

	sentences := []string{first.String()}
	if len(b.NoveltyTerms) > 0 {
		sentences = append(sentences, fmt.Sprintf("Reported as %s.", strings.Join(b.NoveltyTerms, ", ")))
	}
	if len(b.HospitalTerms) > 0 {
		sentences = append(sentences, fmt.Sprintf("Concerns hospital care (%s).", strings.Join(b.HospitalTerms, ", ")))
	}

	last := fmt.Sprintf("Scored %d/10", res.Score)
	if len(b.PenaltyReasons) > 0 {
		last += " after penalties for " + strings.ReplaceAll(strings.Join(b.PenaltyReasons, ", "), "_", " ")
	}
	if strings.TrimSpace(in.Abstract) == "" {
		last += " from the title only"
	}
	sentences = append(sentences, last+".")
	return strings.Join(sentences, " ")
}

func designPhrase(t article.Type) string {
	switch t {
	case "", article.TypeOther:
		return "Study"
	case article.TypeRCT:
		return "Randomized controlled trial"
	}
	return string(t)
}
