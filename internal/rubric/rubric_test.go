package rubric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/meddash/internal/article"
)

func TestDefaultRubricIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	_, err := Compile(Default())
	require.NoError(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	r := Default()
	r.Weights.Design = -1
	r.Population.Threshold = 10
	r.Penalties = append(r.Penalties, Penalty{Name: "bonus", Points: 2})
	r.Specialties = append(r.Specialties, Specialty{Category: "Dermatology"})

	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight design")
	assert.Contains(t, err.Error(), "population")
	assert.Contains(t, err.Error(), `penalty "bonus"`)
	assert.Contains(t, err.Error(), "Dermatology")
}

func TestTermMatchesWholeWords(t *testing.T) {
	term, err := CompileTerm("heart")
	require.NoError(t, err)
	assert.True(t, term.Match("Heart failure outcomes"))
	assert.False(t, term.Match("disheartening results"))

	stem, err := CompileTerm("anticoagula*")
	require.NoError(t, err)
	assert.True(t, stem.Match("oral anticoagulation after surgery"))
	assert.Equal(t, "anticoagula", stem.Text)

	_, err = CompileTerm("  ")
	assert.Error(t, err)
}

func TestJournalTier(t *testing.T) {
	tbl := MustCompile(Default())
	assert.Equal(t, TierMajor, tbl.JournalTier("The Lancet"))
	assert.Equal(t, TierMajor, tbl.JournalTier("The New England Journal of Medicine"))
	assert.Equal(t, TierHigh, tbl.JournalTier("Circulation"))
	assert.Equal(t, TierNone, tbl.JournalTier("Journal of Veterinary Dermatology"))
	assert.Equal(t, TierNone, tbl.JournalTier(""))
}

func TestJournalTableIsConfigurable(t *testing.T) {
	r := Default()
	r.Journals.Major = []string{"veterinary record"}
	tbl := MustCompile(r)
	assert.Equal(t, TierMajor, tbl.JournalTier("Veterinary Record"))
	assert.Equal(t, TierNone, tbl.JournalTier("The Lancet"))
}

func TestMatchSpecialtiesOrdersByHits(t *testing.T) {
	tbl := MustCompile(Default())
	got := tbl.MatchSpecialties("Heart failure and atrial fibrillation in patients with chronic kidney disease")
	require.NotEmpty(t, got)
	assert.Equal(t, article.CategoryCardiology, got[0].Category)
	assert.ElementsMatch(t, []string{"heart failure", "atrial fibrillation", "heart"}, got[0].Terms)
	assert.Equal(t, article.CategoryNephrology, got[1].Category)

	assert.Empty(t, tbl.MatchSpecialties("A rare skin condition in veterinary medicine"))
}

func TestMatchTrackedIncludesExtraTerms(t *testing.T) {
	tbl := MustCompile(Default())
	assert.Equal(t, []string{"sepsis"}, tbl.MatchTracked("Early sepsis bundles", nil))
	assert.Equal(t, []string{"dermatitis"}, tbl.MatchTracked("Atopic dermatitis flares", []string{"dermatitis", ""}))
}

func TestPenalties(t *testing.T) {
	tbl := MustCompile(Default())
	hits := tbl.Penalties("Neurology", "A post hoc analysis of a stroke trial")
	names := []string{}
	for _, h := range hits {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"neurology_journal", "subanalysis"}, names)

	assert.Empty(t, tbl.Penalties("Annals of Neurology Case Reports", "stroke"))
}

func TestPopulationPoints(t *testing.T) {
	tbl := MustCompile(Default())
	assert.Equal(t, 0.0, tbl.PopulationPoints(0))
	assert.Equal(t, 0.0, tbl.PopulationPoints(49))
	assert.Equal(t, 0.0, tbl.PopulationPoints(50))
	assert.InDelta(t, 0.75, tbl.PopulationPoints(500), 1e-9)
	assert.Equal(t, 1.5, tbl.PopulationPoints(5000))
	assert.Equal(t, 1.5, tbl.PopulationPoints(1_000_000))
	perPatientHigh := (tbl.PopulationPoints(1000) - tbl.PopulationPoints(500)) / 500
	perPatientLow := (tbl.PopulationPoints(500) - tbl.PopulationPoints(250)) / 250
	assert.Less(t, perPatientHigh, perPatientLow)
}

func TestDetectDesign(t *testing.T) {
	cases := []struct {
		name     string
		pubTypes []string
		title    string
		abstract string
		want     article.Type
	}{
		{"pubtype rct", []string{"Journal Article", "Randomized Controlled Trial"}, "Drug D", "", article.TypeRCT},
		{"strongest pubtype", []string{"Review", "Systematic Review", "Meta-Analysis"}, "", "", article.TypeMetaAnalysis},
		{"title rct", nil, "Randomized trial of drug D in heart failure", "", article.TypeRCT},
		{"title over abstract", nil, "A narrative review of statins", "Several randomized controlled trials were included.", article.TypeReview},
		{"abstract fallback", nil, "Statins in the elderly", "We conducted a retrospective analysis of records.", article.TypeRetrospective},
		{"review pubtype upgraded by title", []string{"Review"}, "Systematic review of SGLT2 inhibitors", "", article.TypeSystematicReview},
		{"case study", nil, "Case study of a rare skin condition in veterinary medicine", "", article.TypeCaseReport},
		{"nothing", nil, "Thoughts on medicine", "", article.TypeOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectDesign(tc.pubTypes, tc.title, tc.abstract))
		})
	}
}

func TestDesignPointsAndInclusion(t *testing.T) {
	tbl := MustCompile(Default())
	assert.Equal(t, 3.0, tbl.DesignPoints(article.TypeRCT))
	assert.Equal(t, 0.0, tbl.DesignPoints(article.TypeOther))
	assert.True(t, tbl.IsInclusionDesign(article.TypeGuideline))
	assert.False(t, tbl.IsInclusionDesign(article.TypeCaseReport))
}
