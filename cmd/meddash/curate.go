package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/digest"
	"github.com/TobiSchelling/meddash/internal/filter"
	"github.com/TobiSchelling/meddash/internal/rationale"
	"github.com/TobiSchelling/meddash/internal/server"
)

// --- list command ---

var (
	listLimit    int
	listCategory string
	listSearch   string
	listSort     string
	listHidden   bool
	listKey      bool
	listMinScore int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List ranked articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		opts := database.QueryOptions{
			IncludeHidden:  listHidden,
			KeyStudiesOnly: listKey,
			Search:         listSearch,
			MinScore:       listMinScore,
			Sort:           database.ParseSort(listSort),
			Limit:          listLimit,
		}
		if listCategory != "" {
			opts.Category = article.ParseCategory(listCategory)
		}
		recs, err := db.QueryRelevant(opts)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No ranked articles. Ingest some with: meddash ingest --since-last")
			return nil
		}
		for _, r := range recs {
			score, _ := r.Score()
			marks := ""
			if r.IsKeyStudy {
				marks += "*"
			}
			if r.Hidden {
				marks += "h"
			}
			fmt.Printf("%2d %-2s %-10s %s\n", score, marks, r.ExternalID, r.Title)
			fmt.Printf("   %s | %s | %s | %s\n", r.Journal, database.FormatDateDisplay(r.PublicationDate), r.MedicalCategory, r.ArticleType)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of articles")
	listCmd.Flags().StringVar(&listCategory, "category", "", "Only this medical category")
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Search title, journal and abstract")
	listCmd.Flags().StringVar(&listSort, "sort", "rank", "Order: rank, date or created")
	listCmd.Flags().BoolVar(&listHidden, "hidden", false, "Include hidden articles")
	listCmd.Flags().BoolVar(&listKey, "key", false, "Only key studies")
	listCmd.Flags().IntVar(&listMinScore, "min-score", 0, "Minimum ranking score")
}

// --- flag command ---

var flagCmd = &cobra.Command{
	Use:   "flag <external-id> <key|hidden> [on|off]",
	Short: "Set a curation flag on an article",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		flag, err := article.ParseFlag(args[1])
		if err != nil {
			return err
		}
		value := true
		if len(args) == 3 {
			value, err = parseSwitch(args[2])
			if err != nil {
				return err
			}
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.coord.SetFlag(context.Background(), args[0], flag, value); err != nil {
			return err
		}
		fmt.Printf("%s: %s = %t\n", args[0], flag, value)
		return nil
	},
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

// --- topics command ---

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage tracked topics",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tracked topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.GetAllTopics()
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No topics defined. Add one with: meddash topics add")
			return nil
		}

		fmt.Println("Tracked topics:")
		fmt.Println()
		for _, t := range items {
			icon := " "
			if t.IsActive {
				icon = "*"
			}
			fmt.Printf("  [%d] %s %s\n", t.ID, icon, t.Title)
			if len(t.Keywords) > 0 {
				fmt.Printf("        keywords: %s\n", strings.Join(t.Keywords, ", "))
			}
			if t.Description != "" {
				desc := t.Description
				if len(desc) > 60 {
					desc = desc[:60] + "..."
				}
				fmt.Printf("        %s\n", desc)
			}
		}
		return nil
	},
}

var (
	topicDescription string
	topicTitle       string
	topicKeywords    []string
)

var topicsAddCmd = &cobra.Command{
	Use:   "add <title> [keyword...]",
	Short: "Add a tracked topic",
	Long:  "Adds a topic. Keywords of active topics count as tracked keywords in the relevance filter; the title is used when none are given.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		title := args[0]
		keywords := args[1:]
		if len(keywords) == 0 {
			keywords = []string{title}
		}
		id, err := db.InsertTopic(title, topicDescription, keywords)
		if err != nil {
			return err
		}
		fmt.Printf("Added topic [%d]: %s\n", id, title)
		return nil
	},
}

var topicsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a tracked topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		topic, err := lookupTopic(db, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteTopic(topic.ID); err != nil {
			return err
		}
		fmt.Printf("Removed topic [%d]: %s\n", topic.ID, topic.Title)
		return nil
	},
}

var topicsToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Toggle a topic's active state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		topic, err := lookupTopic(db, args[0])
		if err != nil {
			return err
		}
		if err := db.ToggleTopic(topic.ID); err != nil {
			return err
		}
		newState := "disabled"
		if !topic.IsActive {
			newState = "enabled"
		}
		fmt.Printf("Topic [%d] %s: %s\n", topic.ID, topic.Title, newState)
		return nil
	},
}

var topicsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a topic's title, description or keywords",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		topic, err := lookupTopic(db, args[0])
		if err != nil {
			return err
		}
		var title, desc *string
		if cmd.Flags().Changed("title") {
			title = &topicTitle
		}
		if cmd.Flags().Changed("description") {
			desc = &topicDescription
		}
		if title == nil && desc == nil && topicKeywords == nil {
			return fmt.Errorf("nothing to update: pass --title, --description or --keywords")
		}
		if err := db.UpdateTopic(topic.ID, title, desc, topicKeywords); err != nil {
			return err
		}
		fmt.Printf("Updated topic [%d]\n", topic.ID)
		return nil
	},
}

func init() {
	topicsAddCmd.Flags().StringVarP(&topicDescription, "description", "d", "", "Topic description")
	topicsUpdateCmd.Flags().StringVar(&topicTitle, "title", "", "New title")
	topicsUpdateCmd.Flags().StringVarP(&topicDescription, "description", "d", "", "New description")
	topicsUpdateCmd.Flags().StringSliceVarP(&topicKeywords, "keywords", "k", nil, "Replace the keyword list")

	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsAddCmd)
	topicsCmd.AddCommand(topicsRemoveCmd)
	topicsCmd.AddCommand(topicsToggleCmd)
	topicsCmd.AddCommand(topicsUpdateCmd)
}

func lookupTopic(db *database.DB, arg string) (*database.Topic, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid topic ID: %s", arg)
	}
	return db.GetTopic(id)
}

// --- cache command ---

var cacheCmd = &cobra.Command{
	Use:       "clear-cache [relevance|bottom_line]",
	Short:     "Drop cached model answers so the next run asks again",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{filter.CacheStage, rationale.CacheStage},
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stage := ""
		if len(args) == 1 {
			stage = args[0]
			if !slices.Contains(cmd.ValidArgs, stage) {
				return fmt.Errorf("unknown cache stage %q", stage)
			}
		}
		n, err := db.ClearCache(stage)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d cached entries\n", n)
		return nil
	},
}

// --- digest command ---

var (
	digestDays   int
	digestTop    int
	digestHTML   bool
	digestOutput string
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Export the top-ranked articles of the last days",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		opts := digest.Options{TopN: cfg.Digest.TopN, Days: cfg.Digest.Days}
		if digestDays > 0 {
			opts.Days = digestDays
		}
		if digestTop > 0 {
			opts.TopN = digestTop
		}
		d, err := digest.NewBuilder(db).Build(opts)
		if err != nil {
			return err
		}
		out := d.Markdown()
		if digestHTML {
			if out, err = digest.RenderHTML(out); err != nil {
				return err
			}
		}

		if digestOutput == "" {
			fmt.Print(out)
			return nil
		}
		if err := os.WriteFile(digestOutput, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing digest: %w", err)
		}
		fmt.Printf("Wrote %s (%d key studies, %d articles)\n", digestOutput, len(d.KeyStudies), len(d.Top))
		return nil
	},
}

func init() {
	digestCmd.Flags().IntVar(&digestDays, "days", 0, "Window in days (default from config)")
	digestCmd.Flags().IntVar(&digestTop, "top", 0, "Number of articles (default from config)")
	digestCmd.Flags().BoolVar(&digestHTML, "html", false, "Render HTML instead of Markdown")
	digestCmd.Flags().StringVarP(&digestOutput, "output", "o", "", "Write to a file instead of stdout")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		src, err := pubmedSource()
		if err != nil {
			return err
		}
		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}

		srv := server.New(a.db, a.coord, server.Options{
			Source:  src,
			Metrics: a.metrics,
			Digest:  digest.Options{TopN: cfg.Digest.TopN, Days: cfg.Digest.Days},
			Logger:  logger,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.ListenAndServe(ctx, fmt.Sprintf("127.0.0.1:%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}
