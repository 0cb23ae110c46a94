package filter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/llm"
)

// Cache stores generative decisions keyed by a hash of their input.
type Cache interface {
	GetCached(stage, key string) (string, bool, error)
	PutCached(stage, key, payload string) error
}

// CacheStage is the cache namespace of relevance confirmations.
const CacheStage = "relevance"

const relevancePrompt = `You are screening PubMed articles for a dashboard read by internal medicine physicians.

The article already matched these inclusion criteria: %s

Decide whether it is genuinely relevant to hospital internal medicine practice.
Reject it only if it clearly focuses on one of:
- pediatrics, pregnancy or obstetrics
- basic science, animal or in vitro work without direct clinical application
- surgical management rather than perioperative medicine
- health policy, economics or administration
- diseases managed almost entirely outside internal medicine (dermatology, ophthalmology, ENT, veterinary medicine)
When in doubt, keep it.

Title: %s
Journal: %s
Publication types: %s
MeSH terms: %s
Abstract:
%s

Respond with ONLY this JSON:
{
    "is_relevant": true or false,
    "reason": "One short sentence"
}`

const maxAbstractChars = 4000

// LLMGate confirms rule-filter passes with a generative model. Articles the
// wrapped filter rejects are never sent to the model, so the gate can only
// narrow the relevant set.
type LLMGate struct {
	base      Filter
	provider  llm.Provider
	cache     Cache
	maxTokens int
	logger    *zap.Logger
}

// NewLLMGate wraps base. cache may be nil.
func NewLLMGate(base Filter, provider llm.Provider, cache Cache, maxTokens int, logger *zap.Logger) *LLMGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &LLMGate{base: base, provider: provider, cache: cache, maxTokens: maxTokens, logger: logger}
}

type confirmation struct {
	Relevant bool   `json:"is_relevant"`
	Reason   string `json:"reason"`
}

// Evaluate implements Filter. Provider errors are returned so the caller can
// retry; an unparseable answer keeps the rule verdict.
func (g *LLMGate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	d, err := g.base.Evaluate(ctx, in)
	if err != nil || !d.Relevant {
		return d, err
	}

	prompt := buildPrompt(in, d)
	key := hashPrompt(prompt)

	if c, ok := g.lookup(key); ok {
		return apply(d, c), nil
	}

	resp, err := g.provider.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return Decision{}, fmt.Errorf("relevance confirmation: %w", err)
	}

	parsed := llm.ParseJSONResponse(resp)
	if parsed == nil {
		g.logger.Warn("relevance confirmation unparseable, keeping rule verdict")
		d.Reason += "; confirmation unparseable"
		return d, nil
	}

	c := confirmation{
		Relevant: llm.GetBool(parsed, "is_relevant", true),
		Reason:   strings.TrimSpace(llm.GetString(parsed, "reason", "")),
	}
	g.store(key, c)
	return apply(d, c), nil
}

func (g *LLMGate) lookup(key string) (confirmation, bool) {
	if g.cache == nil {
		return confirmation{}, false
	}
	payload, ok, err := g.cache.GetCached(CacheStage, key)
	if err != nil {
		g.logger.Warn("reading relevance cache", zap.Error(err))
		return confirmation{}, false
	}
	if !ok {
		return confirmation{}, false
	}
	var c confirmation
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return confirmation{}, false
	}
	return c, true
}

func (g *LLMGate) store(key string, c confirmation) {
	if g.cache == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := g.cache.PutCached(CacheStage, key, string(data)); err != nil {
		g.logger.Warn("writing relevance cache", zap.Error(err))
	}
}

func apply(d Decision, c confirmation) Decision {
	if c.Relevant {
		if c.Reason != "" {
			d.Reason += "; confirmed: " + c.Reason
		}
		return d
	}
	reason := c.Reason
	if reason == "" {
		reason = "rejected on review"
	}
	d.Relevant = false
	d.Reason = reason
	if d.TitleOnly {
		d.Reason += " (title only, abstract missing)"
	}
	return d
}

func buildPrompt(in Input, d Decision) string {
	abstract := in.Abstract
	if abstract == "" {
		abstract = "(no abstract available)"
	}
	abstract = llm.Truncate(abstract, maxAbstractChars)
	journal := in.Journal
	if journal == "" {
		journal = "Not specified"
	}
	return fmt.Sprintf(relevancePrompt,
		strings.Join(d.Criteria, "; "),
		in.Title,
		journal,
		strings.Join(in.PublicationTypes, ", "),
		strings.Join(in.MeshTerms, ", "),
		abstract,
	)
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
