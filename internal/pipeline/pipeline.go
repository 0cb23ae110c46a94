// Package pipeline coordinates filtering, scoring, summarizing and
// persistence of articles.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/filter"
	"github.com/TobiSchelling/meddash/internal/metrics"
	"github.com/TobiSchelling/meddash/internal/rationale"
	"github.com/TobiSchelling/meddash/internal/retry"
	"github.com/TobiSchelling/meddash/internal/rubric"
	"github.com/TobiSchelling/meddash/internal/scoring"
	"github.com/TobiSchelling/meddash/internal/source"
)

// ErrSourceUnavailable is returned when a batch could not read a single
// record from its source.
var ErrSourceUnavailable = errors.New("literature source unavailable")

// Stage names used in errors, logs and metrics.
const (
	StageInput   = "input"
	StageFilter  = "filter"
	StageScore   = "score"
	StageSummary = "summary"
	StageStore   = "store"
)

// ManualReason is the relevance reason of articles an operator added explicitly.
const ManualReason = "added by operator"

// ArticleError records which stage failed for which article.
type ArticleError struct {
	ExternalID string
	Stage      string
	Err        error
}

func (e *ArticleError) Error() string {
	return fmt.Sprintf("article %s: %s: %v", e.ExternalID, e.Stage, e.Err)
}

func (e *ArticleError) Unwrap() error { return e.Err }

// State is the position of an article in the classification state machine.
type State string

const (
	StateFetched      State = "fetched"
	StateFiltering    State = "filtering"
	StateRejected     State = "rejected"
	StateScoring      State = "scoring"
	StateScored       State = "scored"
	StateSummarizing  State = "summarizing"
	StatePersisted    State = "persisted"
	StatePendingRetry State = "pending_retry"
)

// Outcome is the terminal result of processing one article.
type Outcome struct {
	ExternalID string
	State      State
	// Unchanged is set when the stored record already matched and nothing was written.
	Unchanged bool
	Record    *article.Record
}

// Source is a lazy, finite sequence of raw records.
type Source interface {
	Articles(ctx context.Context, q source.Query) iter.Seq2[article.Raw, error]
}

// Options tunes the coordinator.
type Options struct {
	Workers         int
	Timeout         time.Duration
	Retry           retry.Policy
	PersistRejected bool
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// ProcessOptions tunes a single Process call.
type ProcessOptions struct {
	// ForceRelevant skips the relevance filter, for explicit operator adds.
	ForceRelevant bool
}

// Coordinator is the only writer of classification and curation fields.
type Coordinator struct {
	db         *database.DB
	filter     filter.Filter
	scorer     scoring.Scorer
	summarizer rationale.Generator
	opts       Options
	locks      *keyedMutex
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

const (
	minWorkers     = 1
	maxWorkers     = 8
	defaultWorkers = 4
	defaultTimeout = 60 * time.Second
)

// New creates a coordinator. Workers are clamped to 1..8.
func New(db *database.DB, f filter.Filter, s scoring.Scorer, g rationale.Generator, opts Options) *Coordinator {
	if opts.Workers == 0 {
		opts.Workers = defaultWorkers
	}
	opts.Workers = min(max(opts.Workers, minWorkers), maxWorkers)
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	if g == nil {
		g = rationale.NewRuleGenerator()
	}
	return &Coordinator{
		db:         db,
		filter:     f,
		scorer:     s,
		summarizer: g,
		opts:       opts,
		locks:      newKeyedMutex(),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
}

// Workers returns the effective worker pool size.
func (c *Coordinator) Workers() int { return c.opts.Workers }

// SetFlag sets a curation flag under the article's lock.
func (c *Coordinator) SetFlag(ctx context.Context, externalID string, flag article.Flag, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := c.locks.Lock(externalID)
	defer unlock()
	if err := c.db.SetFlag(externalID, flag, value); err != nil {
		return err
	}
	c.logger.Info("flag set",
		zap.String("external_id", externalID),
		zap.String("flag", string(flag)),
		zap.Bool("value", value),
	)
	return nil
}

// SubmitStudy scores an operator-submitted study and stores it.
func (c *Coordinator) SubmitStudy(ctx context.Context, s *article.Study) (*article.Study, error) {
	if s.Title == "" {
		return nil, &ArticleError{ExternalID: "study", Stage: StageInput, Err: errors.New("title is required")}
	}
	res, err := c.scorer.Score(ctx, scoring.Input{Title: s.Title, Abstract: s.Abstract, Journal: s.Journal})
	if err != nil {
		return nil, &ArticleError{ExternalID: "study", Stage: StageScore, Err: err}
	}
	score := res.Score
	s.RankingScore = &score
	s.JournalTier = res.JournalTier
	s.IsMajorJournal = res.JournalTier >= rubric.TierMajor
	if s.SpecialtyName == "" {
		s.SpecialtyName = res.Category
	}
	id, err := c.db.InsertStudy(s)
	if err != nil {
		return nil, &ArticleError{ExternalID: "study", Stage: StageStore, Err: err}
	}
	return c.db.GetStudy(id)
}
