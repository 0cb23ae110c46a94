package rationale

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/llm"
)

// Cache stores generated prose keyed by a hash of the prompt.
type Cache interface {
	GetCached(stage, key string) (string, bool, error)
	PutCached(stage, key, payload string) error
}

// CacheStage is the cache namespace of generated bottom lines.
const CacheStage = "bottom_line"

const bottomLinePrompt = `You are writing the clinical bottom line for an article shown to internal medicine physicians.

Write 1 to 3 plain sentences stating what was studied and what was found.
Use only facts stated in the title and abstract below. Do not add numbers, drug names or outcomes that do not appear there.

Title: %s
Journal: %s
Design: %s
Specialty: %s
Abstract:
%s

Respond with ONLY this JSON:
{
    "bottom_line": "1-3 sentences"
}`

const maxAbstractChars = 4000

// LLMGenerator writes the bottom line with a generative model. Tags always
// come from the rules, and prose containing figures absent from the source is
// discarded in favour of the rule-based bottom line.
type LLMGenerator struct {
	provider  llm.Provider
	cache     Cache
	maxTokens int
	logger    *zap.Logger
}

// NewLLMGenerator creates a generator. cache may be nil.
func NewLLMGenerator(provider llm.Provider, cache Cache, maxTokens int, logger *zap.Logger) *LLMGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &LLMGenerator{provider: provider, cache: cache, maxTokens: maxTokens, logger: logger}
}

// Generate implements Generator. On provider failure the returned summary
// carries the tags and an empty bottom line alongside the error.
func (g *LLMGenerator) Generate(ctx context.Context, in Input) (Summary, error) {
	s := Summary{Tags: Tags(in.Result, in.Abstract)}

	prompt := g.prompt(in)
	key := hashPrompt(prompt)

	if text, ok := g.lookup(key); ok {
		s.BottomLine = text
		return s, nil
	}

	resp, err := g.provider.Generate(ctx, prompt, g.maxTokens)
	if err != nil {
		return s, fmt.Errorf("generating bottom line: %w", err)
	}

	text := ""
	if parsed := llm.ParseJSONResponse(resp); parsed != nil {
		text = llm.GetString(parsed, "bottom_line", "")
	}
	text = limitSentences(strings.TrimSpace(text), 3)

	if text == "" || !Grounded(text, in) {
		g.logger.Warn("generated bottom line rejected, using rule-based text")
		text = BottomLine(in)
	}
	g.store(key, text)
	s.BottomLine = text
	return s, nil
}

func (g *LLMGenerator) prompt(in Input) string {
	abstract := in.Abstract
	if abstract == "" {
		abstract = "(no abstract available)"
	}
	abstract = llm.Truncate(abstract, maxAbstractChars)
	return fmt.Sprintf(bottomLinePrompt, in.Title, in.Journal, in.Result.ArticleType, in.Result.Category, abstract)
}

func (g *LLMGenerator) lookup(key string) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	v, ok, err := g.cache.GetCached(CacheStage, key)
	if err != nil {
		g.logger.Warn("reading bottom line cache", zap.Error(err))
		return "", false
	}
	return v, ok && v != ""
}

func (g *LLMGenerator) store(key, text string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.PutCached(CacheStage, key, text); err != nil {
		g.logger.Warn("writing bottom line cache", zap.Error(err))
	}
}

var numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// Grounded reports whether every figure in text also appears in the article
// or its breakdown.
func Grounded(text string, in Input) bool {
	source := strings.Join([]string{in.Title, in.Abstract, in.Journal}, " ")
	known := map[string]bool{}
	for _, n := range numberRe.FindAllString(source, -1) {
		known[normalizeNumber(n)] = true
	}
	known[fmt.Sprint(in.Result.Breakdown.Participants)] = true
	known[fmt.Sprint(in.Result.Score)] = true
	known["10"] = true

	for _, n := range numberRe.FindAllString(text, -1) {
		if !known[normalizeNumber(n)] {
			return false
		}
	}
	return true
}

func normalizeNumber(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

var sentenceEndRe = regexp.MustCompile(`[.!?](\s+|$)`)

func limitSentences(text string, n int) string {
	ends := sentenceEndRe.FindAllStringIndex(text, -1)
	if len(ends) <= n {
		return text
	}
	return strings.TrimSpace(text[:ends[n-1][1]])
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
