package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/config"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/filter"
	"github.com/TobiSchelling/meddash/internal/llm"
	"github.com/TobiSchelling/meddash/internal/metrics"
	"github.com/TobiSchelling/meddash/internal/pipeline"
	"github.com/TobiSchelling/meddash/internal/rationale"
	"github.com/TobiSchelling/meddash/internal/rubric"
	"github.com/TobiSchelling/meddash/internal/scoring"
	"github.com/TobiSchelling/meddash/internal/source"
)

// app holds the wired components of one command invocation.
type app struct {
	db      *database.DB
	coord   *pipeline.Coordinator
	metrics *metrics.Metrics
}

func newApp() (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}
	table, err := rubric.Compile(cfg.Rubric)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("compiling rubric: %w", err)
	}

	var f filter.Filter = filter.NewRuleFilter(table)
	var g rationale.Generator = rationale.NewRuleGenerator()
	if cfg.NeedsLLM() {
		provider := llm.CreateProvider(cfg.LLMSettings(), logger)
		if provider == nil {
			logger.Warn("no llm provider available, using rule-based classification")
		} else {
			maxTokens := cfg.Classification.MaxTokens
			if cfg.Classification.Filter == config.BackendLLM {
				f = filter.NewLLMGate(f, provider, db, maxTokens, logger)
			}
			if cfg.Classification.Summary == config.BackendLLM {
				g = rationale.NewLLMGenerator(provider, db, maxTokens, logger)
			}
		}
	}

	m := metrics.New()
	coord := pipeline.New(db, f, scoring.New(table), g, pipeline.Options{
		Workers:         cfg.Pipeline.Workers,
		Timeout:         cfg.Pipeline.Timeout,
		Retry:           cfg.RetryPolicy(),
		PersistRejected: cfg.Pipeline.PersistRejected,
		Logger:          logger,
		Metrics:         m,
	})
	logger.Debug("coordinator ready",
		zap.Int("workers", coord.Workers()),
		zap.String("filter", cfg.Classification.Filter),
		zap.String("summary", cfg.Classification.Summary),
	)
	return &app{db: db, coord: coord, metrics: m}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// pubmedSource builds the PubMed client, enriched when configured.
func pubmedSource() (source.Lister, error) {
	client, err := source.NewPubMedClient(cfg.PubMedConfig(), logger)
	if err != nil {
		return nil, err
	}
	return withEnrichment(client), nil
}

func feedSource() (source.Lister, error) {
	if len(cfg.Sources.Feeds) == 0 {
		return nil, fmt.Errorf("no feeds configured under sources.feeds")
	}
	return withEnrichment(source.NewFeedSource(cfg.Sources.Feeds, nil, logger)), nil
}

func withEnrichment(l source.Lister) source.Lister {
	if !cfg.Sources.EnrichMissingAbstracts {
		return l
	}
	return source.NewEnricher(0, logger).Source(l)
}
