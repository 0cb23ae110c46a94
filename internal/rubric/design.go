package rubric

import (
	"regexp"
	"slices"
	"strings"

	"github.com/TobiSchelling/meddash/internal/article"
)

// publicationTypes maps source publication types to designs.
var publicationTypes = map[string]article.Type{
	"meta-analysis":                    article.TypeMetaAnalysis,
	"network meta-analysis":            article.TypeMetaAnalysis,
	"systematic review":                article.TypeSystematicReview,
	"randomized controlled trial":      article.TypeRCT,
	"pragmatic clinical trial":         article.TypeRCT,
	"equivalence trial":                article.TypeRCT,
	"practice guideline":               article.TypeGuideline,
	"guideline":                        article.TypeGuideline,
	"consensus development conference": article.TypeGuideline,
	"observational study":              article.TypeObservational,
	"case reports":                     article.TypeCaseReport,
	"review":                           article.TypeReview,
	"scoping review":                   article.TypeReview,
	"editorial":                        article.TypeEditorial,
	"letter":                           article.TypeLetter,
	"comment":                          article.TypeLetter,
}

// textPatterns are tried in order when publication types are inconclusive.
var textPatterns = []struct {
	design article.Type
	re     *regexp.Regexp
}{
	{article.TypeMetaAnalysis, regexp.MustCompile(`(?i)\bmeta[- ]analys[ie]s\b`)},
	{article.TypeSystematicReview, regexp.MustCompile(`(?i)\bsystematic review\b`)},
	{article.TypeRCT, regexp.MustCompile(`(?i)\brandomi[sz]ed\b[^.]{0,40}?\btrial\b|\brandomly (assigned|allocated)\b|\brct\b`)},
	{article.TypeGuideline, regexp.MustCompile(`(?i)\bguidelines?\b|\bconsensus statement\b`)},
	{article.TypeRetrospective, regexp.MustCompile(`(?i)\bretrospective\b`)},
	{article.TypeObservational, regexp.MustCompile(`(?i)\b(prospective )?(cohort|case-control|cross-sectional|observational|registry)\b`)},
	{article.TypeCaseSeries, regexp.MustCompile(`(?i)\bcase series\b`)},
	{article.TypeCaseReport, regexp.MustCompile(`(?i)\bcase (report|study)\b|\bwe (report|describe|present) (a|an|the) (case|patient)\b`)},
	{article.TypeReview, regexp.MustCompile(`(?i)\breview\b`)},
}

// DetectDesign picks the strongest design indicated by the publication types,
// falling back to title and abstract heuristics. Title hits win over abstract
// hits so that a review citing trials is not mistaken for one.
func DetectDesign(pubTypes []string, title, abstract string) article.Type {
	best := article.TypeOther
	for _, pt := range pubTypes {
		d, ok := publicationTypes[strings.ToLower(strings.TrimSpace(pt))]
		if ok && stronger(d, best) {
			best = d
		}
	}
	if best != article.TypeOther && best != article.TypeReview {
		return best
	}
	for _, text := range []string{title, abstract} {
		if d, ok := matchDesign(text); ok {
			if stronger(d, best) {
				return d
			}
			return best
		}
	}
	return best
}

func matchDesign(text string) (article.Type, bool) {
	for _, p := range textPatterns {
		if p.re.MatchString(text) {
			return p.design, true
		}
	}
	return "", false
}

func stronger(a, b article.Type) bool {
	return slices.Index(article.Types, a) < slices.Index(article.Types, b)
}
