package rationale

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/rubric"
	"github.com/TobiSchelling/meddash/internal/scoring"
)

func trialInput() Input {
	return Input{
		Title:    "Randomized trial of drug D in heart failure",
		Abstract: "500 patients with heart failure were randomized. Drug D reduced hospitalization by 20 percent.",
		Journal:  "The Lancet",
		Result: scoring.Result{
			Score:       8,
			Category:    article.CategoryCardiology,
			ArticleType: article.TypeRCT,
			JournalTier: rubric.TierMajor,
			Breakdown: article.Breakdown{
				Participants: 500,
				MatchedTerms: []string{"heart failure", "heart"},
			},
		},
	}
}

func TestBottomLine(t *testing.T) {
	got := BottomLine(trialInput())
	assert.Equal(t, "Randomized controlled trial in The Lancet on cardiology (heart failure, heart) with 500 participants. Scored 8/10.", got)
}

func TestBottomLineNoveltyAndPenalties(t *testing.T) {
	in := trialInput()
	in.Abstract = ""
	in.Result.Breakdown.NoveltyTerms = []string{"superior"}
	in.Result.Breakdown.PenaltyReasons = []string{"subanalysis"}
	in.Result.Score = 6

	got := BottomLine(in)
	assert.Contains(t, got, "Reported as superior.")
	assert.True(t, strings.HasSuffix(got, "Scored 6/10 after penalties for subanalysis from the title only."))
}

func TestBottomLineUnclassified(t *testing.T) {
	got := BottomLine(Input{Title: "Notes", Result: scoring.Result{ArticleType: article.TypeOther, Category: article.CategoryOther}})
	assert.Equal(t, "Study. Scored 0/10 from the title only.", got)
}

func TestTagsClosedVocabulary(t *testing.T) {
	in := trialInput()
	in.Result.Breakdown.Participants = 12000
	in.Result.Breakdown.NoveltyTerms = []string{"landmark"}
	in.Result.Breakdown.PenaltyReasons = []string{"neurology_journal", "subanalysis"}

	assert.Equal(t, []string{
		"cardiology", "rct", TagMajorJournal, TagLargeTrial, TagPracticeChanging,
		"neurology-journal", "subanalysis",
	}, Tags(in.Result, in.Abstract))
}

func TestTagsOmitOther(t *testing.T) {
	res := scoring.Result{Category: article.CategoryOther, ArticleType: article.TypeOther, JournalTier: rubric.TierHigh}
	assert.Equal(t, []string{TagHighImpact, TagTitleOnly}, Tags(res, ""))
}

func TestRuleGeneratorDeterministic(t *testing.T) {
	g := NewRuleGenerator()
	a, err := g.Generate(context.Background(), trialInput())
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), trialInput())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.BottomLine)
}

func TestGrounded(t *testing.T) {
	in := trialInput()
	assert.True(t, Grounded("In 500 patients drug D cut hospitalization by 20 percent.", in))
	assert.True(t, Grounded("Drug D helped; score 8 of 10.", in))
	assert.False(t, Grounded("Drug D reduced mortality by 35 percent.", in))
}

func TestLimitSentences(t *testing.T) {
	assert.Equal(t, "One. Two. Three.", limitSentences("One. Two. Three. Four.", 3))
	assert.Equal(t, "Only one", limitSentences("Only one", 3))
}

type mockProvider struct {
	response string
	err      error
	calls    int
}

func (m *mockProvider) Generate(context.Context, string, int) (string, error) {
	m.calls++
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

type memCache map[string]string

func (c memCache) GetCached(stage, key string) (string, bool, error) {
	v, ok := c[stage+"/"+key]
	return v, ok, nil
}

func (c memCache) PutCached(stage, key, payload string) error {
	c[stage+"/"+key] = payload
	return nil
}

func TestLLMGeneratorUsesProse(t *testing.T) {
	p := &mockProvider{response: `{"bottom_line": "Drug D reduced hospitalization by 20 percent in 500 adults with heart failure."}`}
	g := NewLLMGenerator(p, nil, 0, zaptest.NewLogger(t))

	s, err := g.Generate(context.Background(), trialInput())
	require.NoError(t, err)
	assert.Equal(t, "Drug D reduced hospitalization by 20 percent in 500 adults with heart failure.", s.BottomLine)
	assert.Equal(t, Tags(trialInput().Result, trialInput().Abstract), s.Tags)
}

func TestLLMGeneratorRejectsFabricatedFigures(t *testing.T) {
	p := &mockProvider{response: `{"bottom_line": "Drug D halved mortality (HR 0.52) in 1,200 patients."}`}
	g := NewLLMGenerator(p, nil, 0, zaptest.NewLogger(t))

	s, err := g.Generate(context.Background(), trialInput())
	require.NoError(t, err)
	assert.Equal(t, BottomLine(trialInput()), s.BottomLine)
}

func TestLLMGeneratorFailureLeavesBottomLineEmpty(t *testing.T) {
	p := &mockProvider{err: errors.New("rate limited")}
	g := NewLLMGenerator(p, nil, 0, zaptest.NewLogger(t))

	s, err := g.Generate(context.Background(), trialInput())
	require.Error(t, err)
	assert.Empty(t, s.BottomLine)
	assert.NotEmpty(t, s.Tags)
}

func TestLLMGeneratorCaches(t *testing.T) {
	p := &mockProvider{response: `{"bottom_line": "Drug D helped 500 patients."}`}
	cache := memCache{}
	g := NewLLMGenerator(p, cache, 0, zaptest.NewLogger(t))

	for range 3 {
		s, err := g.Generate(context.Background(), trialInput())
		require.NoError(t, err)
		assert.Equal(t, "Drug D helped 500 patients.", s.BottomLine)
	}
	assert.Equal(t, 1, p.calls)
	assert.Len(t, cache, 1)
}

func TestBottomLinePromptTruncatesOnRuneBoundary(t *testing.T) {
	in := trialInput()
	in.Abstract = strings.Repeat("x", maxAbstractChars-1) + "ü" + " rest"
	g := NewLLMGenerator(&mockProvider{}, nil, 0, zaptest.NewLogger(t))
	prompt := g.prompt(in)
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("x", maxAbstractChars-1)+"...")
}

func TestHospitalCareTagAndSentence(t *testing.T) {
	in := trialInput()
	in.Result.Breakdown.HospitalTerms = []string{"icu", "admission"}

	assert.Contains(t, BottomLine(in), "Concerns hospital care (icu, admission).")
	assert.Contains(t, Tags(in.Result, in.Abstract), TagHospitalCare)
	assert.NotContains(t, Tags(trialInput().Result, trialInput().Abstract), TagHospitalCare)
}
