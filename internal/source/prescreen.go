package source

import (
	"fmt"
	"strings"
	"sync"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/rubric"
)

// PrescreenConfig lists the source-side exclusions applied before records reach
// the classifier. Empty lists disable the corresponding check.
type PrescreenConfig struct {
	TitleTerms    []string `yaml:"title_terms"`
	ExcludedTypes []string `yaml:"excluded_types"`
	VaccineDose   bool     `yaml:"vaccine_dose"`
	NeedAbstract  bool     `yaml:"need_abstract"`
}

// DefaultPrescreen returns the exclusions used for the internal medicine feed.
func DefaultPrescreen() PrescreenConfig {
	return PrescreenConfig{
		TitleTerms: []string{
			"obesity", "gender", "sex", "rehabilitation", "cells", "stem cells",
			"progenitor cells", "epidemiology", "geography", "microbiome",
			"biomarker", "gene", "genetic", "technologies", "artificial intelligence",
			"behavioral", "hidradenitis suppurativa", "crispr", "mice",
			"chromosome", "pregnancy", "polygenic",
		},
		ExcludedTypes: []string{
			"editorial", "letter", "comment", "news", "biography", "historical article",
			"interview", "personal narrative", "portrait", "retraction",
			"republished article", "duplicate publication", "published erratum",
			"video-audio media", "audiovisual", "webcast",
			"consensus development conference", "congress", "conference proceedings",
			"meeting abstract",
		},
		VaccineDose:  true,
		NeedAbstract: true,
	}
}

// FilterStats counts records dropped by the prescreen, per reason.
type FilterStats struct {
	TitleTerm    int `json:"title_term"`
	VaccineDose  int `json:"vaccine_dose"`
	AheadOfPrint int `json:"ahead_of_print"`
	NonResearch  int `json:"non_research"`
	NoAbstract   int `json:"no_abstract"`
}

// Total is the number of dropped records.
func (s FilterStats) Total() int {
	return s.TitleTerm + s.VaccineDose + s.AheadOfPrint + s.NonResearch + s.NoAbstract
}

// Prescreen drops records that are never worth classifying.
type Prescreen struct {
	cfg        PrescreenConfig
	titleTerms []rubric.Term
	vaccine    rubric.Term
	dose       []rubric.Term

	mu    sync.Mutex
	stats FilterStats
}

var caseReportTypes = []string{"case report", "case study", "case series"}

// NewPrescreen compiles the title terms.
func NewPrescreen(cfg PrescreenConfig) (*Prescreen, error) {
	p := &Prescreen{cfg: cfg}
	for _, s := range cfg.TitleTerms {
		if strings.TrimSpace(s) == "" {
			continue
		}
		t, err := rubric.CompileTerm(s)
		if err != nil {
			return nil, fmt.Errorf("prescreen title term: %w", err)
		}
		p.titleTerms = append(p.titleTerms, t)
	}
	p.vaccine, _ = rubric.CompileTerm("vaccin*")
	for _, s := range []string{"dose", "doses", "dosing"} {
		t, _ := rubric.CompileTerm(s)
		p.dose = append(p.dose, t)
	}
	return p, nil
}

// Skip reports whether raw should be dropped and why. aheadOfPrint marks
// records the source flags as published online ahead of print.
func (p *Prescreen) Skip(raw article.Raw, aheadOfPrint bool) (string, bool) {
	reason := p.reason(raw, aheadOfPrint)
	if reason == "" {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch reason {
	case "title term":
		p.stats.TitleTerm++
	case "vaccine dosing":
		p.stats.VaccineDose++
	case "ahead of print without abstract":
		p.stats.AheadOfPrint++
	case "non-research publication type":
		p.stats.NonResearch++
	case "no abstract":
		p.stats.NoAbstract++
	}
	return reason, true
}

// Stats returns the counters accumulated so far.
func (p *Prescreen) Stats() FilterStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Prescreen) reason(raw article.Raw, aheadOfPrint bool) string {
	for _, t := range p.titleTerms {
		if t.Match(raw.Title) {
			return "title term"
		}
	}
	if p.cfg.VaccineDose && p.vaccine.Match(raw.Title) {
		for _, t := range p.dose {
			if t.Match(raw.Title) {
				return "vaccine dosing"
			}
		}
	}
	hasAbstract := strings.TrimSpace(raw.Abstract) != ""
	if aheadOfPrint && !hasAbstract {
		return "ahead of print without abstract"
	}
	types := strings.ToLower(strings.Join(raw.PublicationTypes, "; "))
	for _, excluded := range p.cfg.ExcludedTypes {
		if excluded != "" && strings.Contains(types, strings.ToLower(excluded)) {
			return "non-research publication type"
		}
	}
	if p.cfg.NeedAbstract && !hasAbstract && types != "" && !containsAny(types, caseReportTypes) {
		return "no abstract"
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
