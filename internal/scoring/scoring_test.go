package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/rubric"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	tbl, err := rubric.Compile(rubric.Default())
	require.NoError(t, err)
	return New(tbl)
}

func heartFailureTrial() Input {
	return Input{
		Title:    "Randomized trial of drug D in heart failure",
		Abstract: "We enrolled 500 patients with chronic symptoms and followed them for two years.",
		Journal:  "The Lancet",
	}
}

func TestScoreMajorJournalRCT(t *testing.T) {
	e := newEngine(t)
	res, err := e.Score(context.Background(), heartFailureTrial())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Score, 7)
	assert.Equal(t, article.CategoryCardiology, res.Category)
	assert.Equal(t, article.TypeRCT, res.ArticleType)
	assert.Equal(t, rubric.TierMajor, res.JournalTier)
	assert.Equal(t, 2.0, res.Breakdown.Journal)
	assert.Equal(t, 3.0, res.Breakdown.Design)
	assert.Equal(t, 500, res.Breakdown.Participants)
	assert.InDelta(t, 0.75, res.Breakdown.Population, 1e-9)
	assert.Equal(t, 2.0, res.Breakdown.Specialty)
	assert.Equal(t, 1.0, res.Breakdown.Prevalence)
	assert.Equal(t, []string{"heart failure"}, res.Breakdown.PrevalenceTerms)
	assert.Zero(t, res.Breakdown.Hospitalization)
	assert.Equal(t, 9, res.Score)
}

func TestScoreIsDeterministic(t *testing.T) {
	e := newEngine(t)
	in := heartFailureTrial()
	first := e.Evaluate(in)
	for range 20 {
		again := e.Evaluate(in)
		assert.Equal(t, first.Score, again.Score)
		assert.Equal(t, first.Category, again.Category)
		assert.Equal(t, first.Breakdown, again.Breakdown)
	}
}

func TestScoreClampedToRange(t *testing.T) {
	r := rubric.Default()
	r.Weights = rubric.Weights{Journal: 5, Design: 5, Population: 5, Specialty: 5, Novelty: 5, Penalty: 1}
	e := New(rubric.MustCompile(r))
	res := e.Evaluate(heartFailureTrial())
	assert.Equal(t, 10, res.Score)

	r = rubric.Default()
	r.Weights = rubric.Weights{Penalty: 5}
	e = New(rubric.MustCompile(r))
	res = e.Evaluate(Input{Title: "A post hoc analysis of a risk score", Journal: "Neurology"})
	assert.Equal(t, 0, res.Score)
	assert.Less(t, res.Breakdown.Total, 0.0)
	assert.ElementsMatch(t, []string{"neurology_journal", "subanalysis", "scores"}, res.Breakdown.PenaltyReasons)
	assert.Equal(t, rubric.MinPenalty, res.Breakdown.Penalty)
}

func TestScoreWithoutAbstract(t *testing.T) {
	e := newEngine(t)
	res := e.Evaluate(Input{Title: "Sepsis management update", Journal: "Chest"})
	assert.Equal(t, article.CategoryInfectiousDisease, res.Category)
	assert.Equal(t, 0, res.Breakdown.Participants)
	assert.Equal(t, rubric.TierHigh, res.JournalTier)
}

func TestNoveltyCapped(t *testing.T) {
	e := newEngine(t)
	res := e.Evaluate(Input{Title: "First landmark novel breakthrough practice-changing therapy"})
	assert.Equal(t, rubric.MaxNovelty, res.Breakdown.Novelty)
	assert.Len(t, res.Breakdown.NoveltyTerms, 5)
}

func TestScoreHonoursCancellation(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Score(ctx, heartFailureTrial())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, 0, Aggregate(-4))
	assert.Equal(t, 8, Aggregate(7.5))
	assert.Equal(t, 7, Aggregate(7.49))
	assert.Equal(t, 10, Aggregate(14))
}

func TestExtractParticipants(t *testing.T) {
	assert.Equal(t, 500, ExtractParticipants("...500 patients..."))
	assert.Equal(t, 12345, ExtractParticipants("A total of 12,345 adult participants and 300 controls"))
	assert.Equal(t, 820, ExtractParticipants("cohort (n = 820) and 40 hospitalized patients"))
	assert.Equal(t, 0, ExtractParticipants("no sample size here"))
}

func TestPrevalenceAndHospitalization(t *testing.T) {
	e := newEngine(t)
	res := e.Evaluate(Input{Title: "Cohort study of inpatient sepsis mortality in ICU admissions", Journal: "Chest"})
	b := res.Breakdown
	assert.Equal(t, 1.0, b.Prevalence)
	assert.Equal(t, []string{"sepsis"}, b.PrevalenceTerms)
	assert.Equal(t, 0.5, b.Hospitalization)
	assert.ElementsMatch(t, []string{"inpatient", "icu", "admission"}, b.HospitalTerms)
	assert.InDelta(t, b.Journal+b.Design+b.Specialty+b.Prevalence+b.Hospitalization, b.Total, 1e-9)

	medium := e.Evaluate(Input{Title: "Fluid therapy in pancreatitis"})
	assert.Equal(t, 0.5, medium.Breakdown.Prevalence)
	assert.Equal(t, []string{"pancreatitis"}, medium.Breakdown.PrevalenceTerms)

	none := e.Evaluate(Input{Title: "Vitamin D levels in healthy volunteers"})
	assert.Zero(t, none.Breakdown.Prevalence)
	assert.Zero(t, none.Breakdown.Hospitalization)
}

func TestPrevalenceHighTierWins(t *testing.T) {
	e := newEngine(t)
	res := e.Evaluate(Input{Title: "Asthma and COPD exacerbations"})
	assert.Equal(t, 1.0, res.Breakdown.Prevalence)
	assert.Equal(t, []string{"copd"}, res.Breakdown.PrevalenceTerms)
}

func TestPrevalenceWeightAndCeiling(t *testing.T) {
	r := rubric.Default()
	r.Weights.Prevalence = 0
	r.Weights.Hospitalization = 0
	res := New(rubric.MustCompile(r)).Evaluate(Input{Title: "Sepsis in the ICU"})
	assert.Equal(t, 1.0, res.Breakdown.Prevalence, "sub-score stays in the breakdown")
	assert.InDelta(t, res.Breakdown.Specialty, res.Breakdown.Total, 1e-9)

	r = rubric.Default()
	r.Prevalence.HighPoints = rubric.MaxPrevalence + 1
	_, err := rubric.Compile(r)
	assert.Error(t, err)
}

func TestBiologicPenalty(t *testing.T) {
	e := newEngine(t)
	res := e.Evaluate(Input{Title: "A monoclonal antibody for severe asthma"})
	assert.Contains(t, res.Breakdown.PenaltyReasons, "biologic")
	assert.Equal(t, -0.5, res.Breakdown.Penalty)
}
