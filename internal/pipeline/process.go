package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/filter"
	"github.com/TobiSchelling/meddash/internal/llm"
	"github.com/TobiSchelling/meddash/internal/rationale"
	"github.com/TobiSchelling/meddash/internal/retry"
	"github.com/TobiSchelling/meddash/internal/scoring"
)

const timestampLayout = "2006-01-02 15:04:05"

// job is one article to process plus how to treat it.
type job struct {
	raw   article.Raw
	opts  ProcessOptions
	extra []string
	// reclassify recomputes even when the stored input hash matches.
	reclassify bool
}

// Process runs one article through the state machine and persists the result.
func (c *Coordinator) Process(ctx context.Context, raw article.Raw, opts ProcessOptions) (Outcome, error) {
	extra, err := c.db.ActiveTopicKeywords()
	if err != nil {
		c.logger.Warn("loading topic keywords", zap.Error(err))
	}
	return c.process(ctx, job{raw: raw, opts: opts, extra: extra})
}

// Reclassify re-runs classification of a stored article on its stored input.
func (c *Coordinator) Reclassify(ctx context.Context, externalID string) (Outcome, error) {
	rec, err := c.db.GetByExternalID(externalID)
	if err != nil {
		return Outcome{ExternalID: externalID}, err
	}
	extra, err := c.db.ActiveTopicKeywords()
	if err != nil {
		c.logger.Warn("loading topic keywords", zap.Error(err))
	}
	return c.process(ctx, c.reclassifyJob(rec, extra))
}

func (c *Coordinator) reclassifyJob(rec *article.Record, extra []string) job {
	return job{
		raw:        rec.Raw(),
		opts:       ProcessOptions{ForceRelevant: rec.RelevanceReason == ManualReason},
		extra:      extra,
		reclassify: true,
	}
}

func (c *Coordinator) process(ctx context.Context, j job) (Outcome, error) {
	rec := article.NewRecord(j.raw)
	out := Outcome{ExternalID: rec.ExternalID, State: StateFetched}
	if rec.ExternalID == "" {
		return out, &ArticleError{Stage: StageInput, Err: article.ErrInvalidExternalID}
	}
	log := c.logger.With(zap.String("external_id", rec.ExternalID))

	unlock := c.locks.Lock(rec.ExternalID)
	defer unlock()

	existing, err := c.db.GetByExternalID(rec.ExternalID)
	if errors.Is(err, database.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return out, c.fail(rec.ExternalID, StageStore, err)
	}
	rec.InputHash = rec.ContentHash()
	if existing != nil {
		rec.ID = existing.ID
		rec.IsKeyStudy = existing.IsKeyStudy
		rec.Hidden = existing.Hidden
		rec.CreatedAt = existing.CreatedAt
		if !j.reclassify && settled(existing) && existing.InputHash == rec.InputHash &&
			(!j.opts.ForceRelevant || existing.Relevance == article.RelevanceRelevant) {
			log.Debug("input unchanged, skipping")
			c.metrics.Article("unchanged")
			return Outcome{ExternalID: rec.ExternalID, State: terminalState(existing), Unchanged: true, Record: existing}, nil
		}
	}

	// Filtering
	out.State = StateFiltering
	var decision filter.Decision
	if j.opts.ForceRelevant {
		decision = filter.Decision{Relevant: true, Reason: ManualReason}
	} else {
		in := filter.InputFromRecord(rec, j.extra)
		err = c.attempt(ctx, StageFilter, func(ctx context.Context) error {
			var ferr error
			decision, ferr = c.filter.Evaluate(ctx, in)
			return ferr
		})
		if err != nil {
			return c.pending(ctx, rec, existing, StageFilter, err, log)
		}
	}

	if !decision.Relevant {
		out.State = StateRejected
		rec.Relevance = article.RelevanceRejected
		rec.RelevanceReason = decision.Reason
		rec.Status = article.StatusRejected
		rec.ClassifiedAt = c.timestamp()
		out.Record = rec
		if existing == nil && !c.opts.PersistRejected {
			log.Info("rejected", zap.String("reason", decision.Reason))
			c.metrics.Article("rejected")
			return out, nil
		}
		return c.persist(rec, existing, out, log)
	}
	rec.Relevance = article.RelevanceRelevant
	rec.RelevanceReason = decision.Reason

	// Scoring
	out.State = StateScoring
	in := scoring.InputFromRecord(rec)
	var res scoring.Result
	err = c.attempt(ctx, StageScore, func(ctx context.Context) error {
		var serr error
		res, serr = c.scorer.Score(ctx, in)
		return serr
	})
	if err != nil {
		return c.pending(ctx, rec, existing, StageScore, err, log)
	}
	out.State = StateScored
	score := res.Score
	rec.RankingScore = &score
	rec.MedicalCategory = res.Category
	rec.ArticleType = res.ArticleType
	rec.JournalTier = res.JournalTier
	breakdown := res.Breakdown
	rec.Breakdown = &breakdown

	// Summarizing
	out.State = StateSummarizing
	rin := rationale.Input{Title: rec.Title, Abstract: rec.Abstract, Journal: rec.Journal, Result: res}
	summary, err := c.summarize(ctx, rin)
	if err != nil {
		log.Warn("summary failed, leaving bottom line empty", zap.Error(err))
	}
	rec.ClinicalBottomLine = summary.BottomLine
	rec.Tags = summary.Tags

	rec.Status = article.StatusScored
	rec.RetryCount = 0
	rec.LastError = ""
	rec.ClassifiedAt = c.timestamp()
	c.metrics.Score(score)
	return c.persist(rec, existing, out, log)
}

// persist writes rec unless the stored record already carries the same
// classification.
func (c *Coordinator) persist(rec, existing *article.Record, out Outcome, log *zap.Logger) (Outcome, error) {
	final := StatePersisted
	if rec.Relevance == article.RelevanceRejected {
		final = StateRejected
	}
	if existing != nil && existing.InputHash == rec.InputHash && sameClassification(existing, rec) {
		log.Debug("classification unchanged, skipping write")
		c.metrics.Article("unchanged")
		return Outcome{ExternalID: rec.ExternalID, State: final, Unchanged: true, Record: existing}, nil
	}
	start := time.Now()
	id, err := c.db.Upsert(rec)
	c.metrics.Stage(StageStore, time.Since(start), err)
	if err != nil {
		return out, c.fail(rec.ExternalID, StageStore, err)
	}
	rec.ID = id
	out.State = final
	out.Record = rec
	if final == StateRejected {
		log.Info("rejected", zap.String("reason", rec.RelevanceReason))
		c.metrics.Article("rejected")
	} else {
		log.Info("scored",
			zap.Int("score", *rec.RankingScore),
			zap.String("category", string(rec.MedicalCategory)),
			zap.String("type", string(rec.ArticleType)),
		)
		c.metrics.Article("scored")
	}
	return out, nil
}

// pending records a dependency failure. A previously scored record keeps its
// classification; a first-time record is stored without a score so it stays
// out of ranked listings until retried.
func (c *Coordinator) pending(ctx context.Context, rec, existing *article.Record, stage string, cause error, log *zap.Logger) (Outcome, error) {
	log.Warn("classification failed, queued for retry", zap.String("stage", stage), zap.Error(cause))
	c.metrics.Article("pending_retry")
	out := Outcome{ExternalID: rec.ExternalID, State: StatePendingRetry}
	aerr := &ArticleError{ExternalID: rec.ExternalID, Stage: stage, Err: cause}
	if ctx.Err() != nil {
		// The caller gave up; leave the store as it was.
		return out, aerr
	}

	if existing != nil && existing.Ranked() {
		kept := *existing
		kept.Title, kept.Abstract, kept.Journal = rec.Title, rec.Abstract, rec.Journal
		kept.Authors, kept.PublicationDate, kept.DOI, kept.URL = rec.Authors, rec.PublicationDate, rec.DOI, rec.URL
		kept.PublicationTypes, kept.Keywords, kept.MeshTerms, kept.Source = rec.PublicationTypes, rec.Keywords, rec.MeshTerms, rec.Source
		rec = &kept
	} else {
		if stage == StageFilter {
			rec.Relevance = article.RelevanceUnknown
			rec.RelevanceReason = ""
		}
		rec.RankingScore = nil
		rec.Breakdown = nil
		rec.ClassifiedAt = ""
	}
	rec.Status = article.StatusPendingRetry
	rec.LastError = stage + ": " + cause.Error()
	rec.RetryCount = 1
	if existing != nil {
		rec.RetryCount = existing.RetryCount + 1
	}
	if _, err := c.db.Upsert(rec); err != nil {
		return out, errors.Join(aerr, c.fail(rec.ExternalID, StageStore, err))
	}
	out.Record = rec
	return out, aerr
}

// attempt runs op with a per-attempt timeout under the retry policy.
func (c *Coordinator) attempt(ctx context.Context, stage string, op func(context.Context) error) error {
	return retry.Do(ctx, c.opts.Retry, func(ctx context.Context, _ int) error {
		actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
		start := time.Now()
		err := op(actx)
		c.metrics.Stage(stage, time.Since(start), err)
		if errors.Is(err, llm.ErrNotConfigured) {
			return retry.Permanent(err)
		}
		return err
	})
}

// summarize runs the generator once. On failure tags still come from the
// closed vocabulary.
func (c *Coordinator) summarize(ctx context.Context, in rationale.Input) (rationale.Summary, error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	start := time.Now()
	summary, err := c.summarizer.Generate(sctx, in)
	c.metrics.Stage(StageSummary, time.Since(start), err)
	if err != nil {
		summary.BottomLine = ""
	}
	if len(summary.Tags) == 0 {
		summary.Tags = rationale.Tags(in.Result, in.Abstract)
	}
	return summary, err
}

func (c *Coordinator) fail(externalID, stage string, err error) error {
	c.metrics.Article("failed")
	return &ArticleError{ExternalID: externalID, Stage: stage, Err: err}
}

func (c *Coordinator) timestamp() string {
	return c.now().UTC().Format(timestampLayout)
}

// settled reports whether a stored record needs no further work.
func settled(r *article.Record) bool {
	return r.Status == article.StatusScored || r.Status == article.StatusRejected
}

func terminalState(r *article.Record) State {
	if r.Relevance == article.RelevanceRejected {
		return StateRejected
	}
	return StatePersisted
}

func sameClassification(a, b *article.Record) bool {
	scoreEqual := (a.RankingScore == nil) == (b.RankingScore == nil) &&
		(a.RankingScore == nil || *a.RankingScore == *b.RankingScore)
	return scoreEqual &&
		a.Relevance == b.Relevance &&
		a.RelevanceReason == b.RelevanceReason &&
		a.Status == b.Status &&
		a.MedicalCategory == b.MedicalCategory &&
		a.ArticleType == b.ArticleType &&
		a.JournalTier == b.JournalTier &&
		a.ClinicalBottomLine == b.ClinicalBottomLine &&
		slices.Equal(a.Tags, b.Tags) &&
		a.Source == b.Source
}
