package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/pipeline"
	"github.com/TobiSchelling/meddash/internal/source"
)

// --- ingest command ---

var (
	ingestFrom      string
	ingestTo        string
	ingestIDs       []string
	ingestSinceLast bool
	ingestFeeds     bool
	ingestDays      int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch, classify and store articles from PubMed",
	Example: `  meddash ingest --since-last
  meddash ingest --from 2026-01-01 --to 2026-01-31
  meddash ingest --ids 39000001,39000002
  meddash ingest --feeds --days 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		q, err := ingestQuery(a.db)
		if err != nil {
			return err
		}
		var src source.Lister
		if ingestFeeds {
			src, err = feedSource()
		} else {
			src, err = pubmedSource()
		}
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		fmt.Printf("Ingesting %s...\n", q)
		report, err := a.coord.IngestBatch(ctx, src, q)
		if report != nil {
			printReport(report)
		}
		if sc, ok := src.(interface{ Stats() source.FilterStats }); ok {
			printPrescreen(sc.Stats())
		}
		if err != nil {
			return err
		}
		return reportError(report)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFrom, "from", "", "First publication date (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&ingestTo, "to", "", "Last publication date (YYYY-MM-DD), defaults to today")
	ingestCmd.Flags().StringSliceVar(&ingestIDs, "ids", nil, "PubMed IDs or URLs to fetch")
	ingestCmd.Flags().BoolVar(&ingestSinceLast, "since-last", false, "Fetch everything published since the last stored article")
	ingestCmd.Flags().BoolVar(&ingestFeeds, "feeds", false, "Read the configured RSS feeds instead of searching PubMed")
	ingestCmd.Flags().IntVar(&ingestDays, "days", 0, "Fetch the last N days")
	ingestCmd.MarkFlagsMutuallyExclusive("ids", "since-last", "from")
	ingestCmd.MarkFlagsMutuallyExclusive("ids", "since-last", "days")
}

func ingestQuery(db *database.DB) (source.Query, error) {
	now := time.Now()
	today := now.Format("2006-01-02")
	var q source.Query
	switch {
	case len(ingestIDs) > 0:
		for _, raw := range ingestIDs {
			id, err := article.ExtractPMID(raw)
			if err != nil {
				return q, err
			}
			q.IDs = append(q.IDs, id)
		}
	case ingestSinceLast:
		latest, err := db.LatestCreatedAt()
		if err != nil {
			return q, err
		}
		q.From, q.To = database.RangeSinceLastUpdate(latest, now, 7)
	case ingestDays > 0:
		q.From = now.AddDate(0, 0, -ingestDays).Format("2006-01-02")
		q.To = today
	case ingestFrom != "":
		q.From, q.To = ingestFrom, ingestTo
		if q.To == "" {
			q.To = today
		}
	case ingestFeeds:
		q.From, q.To = now.AddDate(0, 0, -7).Format("2006-01-02"), today
	default:
		return q, errors.New("nothing to ingest: pass --ids, --since-last, --days or --from")
	}
	return q, nil
}

// --- add command ---

var addForce bool

var addCmd = &cobra.Command{
	Use:   "add <pmid|url>...",
	Short: "Add single articles by PubMed ID or URL",
	Long:  "Fetches the articles and stores them. Added articles skip the relevance filter unless --force=false.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		q := source.Query{}
		for _, raw := range args {
			id, err := article.ExtractPMID(raw)
			if err != nil {
				return err
			}
			q.IDs = append(q.IDs, id)
		}
		src, err := pubmedSource()
		if err != nil {
			return err
		}

		ctx := context.Background()
		found := map[string]bool{}
		var failed int
		for raw, err := range src.Articles(ctx, q) {
			if err != nil {
				return fmt.Errorf("fetching articles: %w", err)
			}
			found[raw.ExternalID] = true
			out, err := a.coord.Process(ctx, raw, pipeline.ProcessOptions{ForceRelevant: addForce})
			if err != nil {
				failed++
				fmt.Printf("  %s: %v\n", raw.ExternalID, err)
				continue
			}
			printOutcome(out)
		}
		for _, id := range q.IDs {
			if !found[id] {
				fmt.Printf("  %s: not found or excluded by prescreen\n", id)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d article(s) failed", failed)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().BoolVar(&addForce, "force", true, "Mark the articles relevant without running the filter")
}

// --- reclassify command ---

var reclassifyAll bool

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify [external-id...]",
	Short: "Re-run classification on stored articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !reclassifyAll && len(args) == 0 {
			return errors.New("pass article ids or --all")
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var report *pipeline.BatchReport
		if reclassifyAll {
			report, err = a.coord.ReclassifyAll(ctx)
		} else {
			report, err = a.coord.ReclassifyIDs(ctx, args)
		}
		if err != nil {
			return err
		}
		printReport(report)
		return reportError(report)
	},
}

func init() {
	reclassifyCmd.Flags().BoolVar(&reclassifyAll, "all", false, "Reclassify every stored article")
}

// --- retry command ---

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry articles whose classification failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		report, err := a.coord.RetryPending(ctx)
		if err != nil {
			return err
		}
		if report.Total == 0 {
			fmt.Println("Nothing pending.")
			return nil
		}
		printReport(report)
		return reportError(report)
	},
}

func printReport(r *pipeline.BatchReport) {
	fmt.Printf("\nRun %s: %s\n", r.RunID, r.Status)
	fmt.Printf("  Processed: %d\n", r.Total)
	fmt.Printf("  Scored: %d\n", r.Scored)
	fmt.Printf("  Rejected: %d\n", r.Rejected)
	fmt.Printf("  Unchanged: %d\n", r.Unchanged)
	fmt.Printf("  Failed: %d\n", r.Failed)
	for _, e := range r.Errors {
		fmt.Printf("    %s (%s): %v\n", e.ExternalID, e.Stage, e.Err)
	}
	if r.SourceError != "" {
		fmt.Printf("  Source error: %s\n", r.SourceError)
	}
}

func printPrescreen(s source.FilterStats) {
	if s.Total() == 0 {
		return
	}
	fmt.Printf("\nSkipped before classification: %d\n", s.Total())
	fmt.Printf("  Title terms: %d\n", s.TitleTerm)
	fmt.Printf("  Vaccine dosing: %d\n", s.VaccineDose)
	fmt.Printf("  Ahead of print without abstract: %d\n", s.AheadOfPrint)
	fmt.Printf("  Non-research types: %d\n", s.NonResearch)
	fmt.Printf("  No abstract: %d\n", s.NoAbstract)
}

func printOutcome(out pipeline.Outcome) {
	switch {
	case out.Unchanged:
		fmt.Printf("  %s: unchanged\n", out.ExternalID)
	case out.Record != nil && out.Record.RankingScore != nil:
		fmt.Printf("  %s: scored %d/10 %s\n", out.ExternalID, *out.Record.RankingScore, strings.TrimSpace(out.Record.Title))
	default:
		fmt.Printf("  %s: %s\n", out.ExternalID, out.State)
	}
}

func reportError(r *pipeline.BatchReport) error {
	if r.Status == database.RunFailed {
		return fmt.Errorf("run %s failed", r.RunID)
	}
	return nil
}
