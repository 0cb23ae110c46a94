package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/meddash/internal/rubric"
)

func newRuleFilter() *RuleFilter {
	return NewRuleFilter(rubric.MustCompile(rubric.Default()))
}

func heartFailureTrial() Input {
	return Input{
		Title:    "Randomized trial of drug D in heart failure",
		Abstract: "In this randomized controlled trial, 500 patients with chronic heart failure were assigned to drug D or placebo.",
		Journal:  "The Lancet",
	}
}

func TestRuleFilterPassesTrialInMajorJournal(t *testing.T) {
	d, err := newRuleFilter().Evaluate(context.Background(), heartFailureTrial())
	require.NoError(t, err)
	assert.True(t, d.Relevant)
	assert.False(t, d.TitleOnly)
	assert.Contains(t, d.Reason, "matched")

	joined := strings.Join(d.Criteria, " | ")
	assert.Contains(t, joined, "specialty Cardiology")
	assert.Contains(t, joined, "design RCT")
	assert.Contains(t, joined, "tracked heart failure")
	assert.Contains(t, joined, "major journal")
}

func TestRuleFilterRejectsUnrelated(t *testing.T) {
	d := newRuleFilter().Check(Input{
		Title:    "Case study of a rare skin condition in veterinary medicine",
		Abstract: "We describe a single animal presenting with an unusual dermal lesion.",
	})
	assert.False(t, d.Relevant)
	assert.Equal(t, RejectReason, d.Reason)
	assert.Empty(t, d.Criteria)
}

func TestRuleFilterTitleOnly(t *testing.T) {
	d := newRuleFilter().Check(Input{Title: "Sepsis bundles in the emergency department"})
	assert.True(t, d.Relevant)
	assert.True(t, d.TitleOnly)
	assert.True(t, strings.HasSuffix(d.Reason, "(title only, abstract missing)"))

	d = newRuleFilter().Check(Input{Title: "A history of the stethoscope"})
	assert.False(t, d.Relevant)
	assert.Equal(t, RejectReason+" (title only, abstract missing)", d.Reason)
}

func TestRuleFilterExtraTerms(t *testing.T) {
	in := Input{Title: "Sarcoidosis outcomes", Abstract: "A registry of sarcoidosis outcomes."}
	assert.False(t, newRuleFilter().Check(in).Relevant)

	in.ExtraTerms = []string{"sarcoidosis"}
	d := newRuleFilter().Check(in)
	assert.True(t, d.Relevant)
	assert.Contains(t, d.Criteria, "tracked sarcoidosis")
}

func TestRuleFilterMonotonicInCriteria(t *testing.T) {
	base := Input{Title: "Heart failure outcomes", Abstract: "We describe heart failure outcomes."}
	f := newRuleFilter()
	require.True(t, f.Check(base).Relevant)

	// Adding more matching evidence never turns a pass into a rejection.
	more := base
	more.Journal = "NEJM"
	more.PublicationTypes = []string{"Randomized Controlled Trial"}
	more.MeshTerms = []string{"Heart Failure", "Diabetes Mellitus"}
	d := f.Check(more)
	assert.True(t, d.Relevant)
	assert.Greater(t, len(d.Criteria), len(f.Check(base).Criteria))
}

func TestRuleFilterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRuleFilter().Evaluate(ctx, heartFailureTrial())
	assert.ErrorIs(t, err, context.Canceled)
}

type mockProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("no more responses")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func (m *mockProvider) IsConfigured() bool { return true }

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (c *memCache) GetCached(stage, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[stage+"/"+key]
	return v, ok, nil
}

func (c *memCache) PutCached(stage, key, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[stage+"/"+key] = payload
	return nil
}

func TestLLMGateSkipsRuleRejections(t *testing.T) {
	p := &mockProvider{responses: []string{`{"is_relevant": true}`}}
	g := NewLLMGate(newRuleFilter(), p, nil, 0, zaptest.NewLogger(t))

	d, err := g.Evaluate(context.Background(), Input{Title: "A history of the stethoscope", Abstract: "Essay."})
	require.NoError(t, err)
	assert.False(t, d.Relevant)
	assert.Equal(t, 0, p.calls())
}

func TestLLMGateConfirms(t *testing.T) {
	p := &mockProvider{responses: []string{`{"is_relevant": true, "reason": "Adult heart failure trial"}`}}
	g := NewLLMGate(newRuleFilter(), p, nil, 0, zaptest.NewLogger(t))

	d, err := g.Evaluate(context.Background(), heartFailureTrial())
	require.NoError(t, err)
	assert.True(t, d.Relevant)
	assert.Contains(t, d.Reason, "confirmed: Adult heart failure trial")
	require.Equal(t, 1, p.calls())
	assert.Contains(t, p.prompts[0], "Randomized trial of drug D in heart failure")
	assert.Contains(t, p.prompts[0], "major journal")
}

func TestLLMGateRejects(t *testing.T) {
	p := &mockProvider{responses: []string{"```json\n{\"is_relevant\": false, \"reason\": \"Pediatric population\"}\n```"}}
	g := NewLLMGate(newRuleFilter(), p, nil, 0, zaptest.NewLogger(t))

	d, err := g.Evaluate(context.Background(), heartFailureTrial())
	require.NoError(t, err)
	assert.False(t, d.Relevant)
	assert.Equal(t, "Pediatric population", d.Reason)
}

func TestLLMGateUnparseableKeepsRuleVerdict(t *testing.T) {
	p := &mockProvider{responses: []string{"I think so?"}}
	g := NewLLMGate(newRuleFilter(), p, nil, 0, zaptest.NewLogger(t))

	d, err := g.Evaluate(context.Background(), heartFailureTrial())
	require.NoError(t, err)
	assert.True(t, d.Relevant)
	assert.Contains(t, d.Reason, "confirmation unparseable")
}

func TestLLMGateProviderError(t *testing.T) {
	boom := errors.New("connection refused")
	p := &mockProvider{err: boom}
	g := NewLLMGate(newRuleFilter(), p, nil, 0, zaptest.NewLogger(t))

	_, err := g.Evaluate(context.Background(), heartFailureTrial())
	assert.ErrorIs(t, err, boom)
}

func TestLLMGateCachesByInput(t *testing.T) {
	p := &mockProvider{responses: []string{`{"is_relevant": false, "reason": "Surgical focus"}`}}
	cache := newMemCache()
	g := NewLLMGate(newRuleFilter(), p, cache, 0, zaptest.NewLogger(t))

	first, err := g.Evaluate(context.Background(), heartFailureTrial())
	require.NoError(t, err)
	second, err := g.Evaluate(context.Background(), heartFailureTrial())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.calls())
	assert.Len(t, cache.data, 1)

	// A changed abstract is a different cache key.
	changed := heartFailureTrial()
	changed.Abstract += " Follow-up was 2 years."
	_, err = g.Evaluate(context.Background(), changed)
	assert.Error(t, err) // mock has no responses left
	assert.Equal(t, 2, p.calls())
}

func TestPromptTruncatesAbstractOnRuneBoundary(t *testing.T) {
	abstract := strings.Repeat("a", maxAbstractChars-1) + "é" + strings.Repeat("b", 100)
	prompt := buildPrompt(Input{Title: "T", Abstract: abstract}, Decision{})
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("a", maxAbstractChars-1)+"...")
	assert.NotContains(t, prompt, "é")
}
