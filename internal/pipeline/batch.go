package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/source"
)

// BatchReport summarizes one ingestion run. Succeeded counts every article
// that reached a terminal state without error, rejected and unchanged ones
// included.
type BatchReport struct {
	RunID     string   `json:"run_id"`
	Query     string   `json:"query"`
	Status    string   `json:"status"`
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Rejected  int      `json:"rejected"`
	Scored    int      `json:"scored"`
	Unchanged int      `json:"unchanged"`
	FailedIDs []string `json:"failed_ids"`
	// SourceError is set when the source failed after yielding records.
	SourceError string `json:"source_error,omitempty"`

	Errors []*ArticleError `json:"-"`
}

func (r *BatchReport) add(out Outcome, err error) {
	r.Total++
	if err != nil {
		r.Failed++
		id := out.ExternalID
		var aerr *ArticleError
		if errors.As(err, &aerr) {
			if aerr.ExternalID == "" {
				aerr.ExternalID = id
			}
			r.Errors = append(r.Errors, aerr)
		}
		r.FailedIDs = append(r.FailedIDs, id)
		return
	}
	r.Succeeded++
	switch {
	case out.Unchanged:
		r.Unchanged++
	case out.State == StateRejected:
		r.Rejected++
	default:
		r.Scored++
	}
}

func (r *BatchReport) run() *database.Run {
	return &database.Run{
		RunID:     r.RunID,
		Query:     r.Query,
		Status:    r.Status,
		Total:     r.Total,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Rejected:  r.Rejected,
		Scored:    r.Scored,
		Unchanged: r.Unchanged,
		FailedIDs: r.FailedIDs,
		Error:     r.SourceError,
	}
}

// IngestBatch reads q from src and processes every record independently.
// Per-article failures are reported, never returned. A source that fails
// before its first record fails the whole batch with ErrSourceUnavailable.
func (c *Coordinator) IngestBatch(ctx context.Context, src Source, q source.Query) (*BatchReport, error) {
	return c.runBatch(ctx, q.String(), func(yield func(job, error) bool) {
		extra := c.topicKeywords()
		for raw, err := range src.Articles(ctx, q) {
			if !yield(job{raw: raw, extra: extra}, err) {
				return
			}
		}
	})
}

// IngestRecords processes records that were already fetched.
func (c *Coordinator) IngestRecords(ctx context.Context, raws []article.Raw) (*BatchReport, error) {
	return c.runBatch(ctx, fmt.Sprintf("records:%d", len(raws)), func(yield func(job, error) bool) {
		extra := c.topicKeywords()
		for _, raw := range raws {
			if !yield(job{raw: raw, extra: extra}, nil) {
				return
			}
		}
	})
}

// RetryPending reprocesses every article waiting for a retry.
func (c *Coordinator) RetryPending(ctx context.Context) (*BatchReport, error) {
	recs, err := c.db.ListByStatus(article.StatusPendingRetry, 0)
	if err != nil {
		return nil, fmt.Errorf("listing pending articles: %w", err)
	}
	return c.reclassifyBatch(ctx, "retry-pending", recs)
}

// ReclassifyAll re-runs classification of every stored article.
func (c *Coordinator) ReclassifyAll(ctx context.Context) (*BatchReport, error) {
	ids, err := c.db.ExternalIDs(false)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	return c.ReclassifyIDs(ctx, ids)
}

// ReclassifyIDs re-runs classification of the given stored articles.
func (c *Coordinator) ReclassifyIDs(ctx context.Context, ids []string) (*BatchReport, error) {
	recs := make([]*article.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := c.db.GetByExternalID(id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return c.reclassifyBatch(ctx, "reclassify", recs)
}

func (c *Coordinator) reclassifyBatch(ctx context.Context, query string, recs []*article.Record) (*BatchReport, error) {
	return c.runBatch(ctx, query, func(yield func(job, error) bool) {
		extra := c.topicKeywords()
		for _, rec := range recs {
			if !yield(c.reclassifyJob(rec, extra), nil) {
				return
			}
		}
	})
}

func (c *Coordinator) topicKeywords() []string {
	extra, err := c.db.ActiveTopicKeywords()
	if err != nil {
		c.logger.Warn("loading topic keywords", zap.Error(err))
	}
	return extra
}

// runBatch fans jobs out to the worker pool. The pool blocks the sequence
// while all workers are busy, so sources are read lazily.
func (c *Coordinator) runBatch(ctx context.Context, query string, jobs iter.Seq2[job, error]) (*BatchReport, error) {
	report := &BatchReport{RunID: uuid.NewString(), Query: query}
	log := c.logger.With(zap.String("run_id", report.RunID))
	if err := c.db.StartRun(report.RunID, query); err != nil {
		return nil, err
	}
	log.Info("batch started", zap.String("query", query), zap.Int("workers", c.opts.Workers))

	var (
		mu        sync.Mutex
		g         errgroup.Group
		sourceErr error
		yielded   int
	)
	g.SetLimit(c.opts.Workers)
	for j, err := range jobs {
		if err != nil {
			sourceErr = err
			break
		}
		if ctx.Err() != nil {
			sourceErr = ctx.Err()
			break
		}
		yielded++
		g.Go(func() error {
			out, perr := c.process(ctx, j)
			if out.ExternalID == "" {
				out.ExternalID = j.raw.ExternalID
			}
			mu.Lock()
			report.add(out, perr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(report.FailedIDs)

	var batchErr error
	switch {
	case sourceErr != nil && yielded == 0:
		report.Status = database.RunFailed
		report.SourceError = sourceErr.Error()
		batchErr = fmt.Errorf("%w: %w", ErrSourceUnavailable, sourceErr)
	case report.Failed > 0 && report.Succeeded == 0:
		report.Status = database.RunFailed
	case report.Failed > 0 || sourceErr != nil:
		report.Status = database.RunPartial
		if sourceErr != nil {
			report.SourceError = sourceErr.Error()
		}
	default:
		report.Status = database.RunCompleted
	}

	if err := c.db.FinishRun(report.run()); err != nil {
		log.Error("recording run", zap.Error(err))
	}
	c.metrics.Batch(report.Status)
	log.Info("batch finished",
		zap.String("status", report.Status),
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("scored", report.Scored),
		zap.Int("rejected", report.Rejected),
		zap.Int("unchanged", report.Unchanged),
		zap.Strings("failed_ids", report.FailedIDs),
	)
	return report, batchErr
}
