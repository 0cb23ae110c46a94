package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/config"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/logging"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "meddash",
	Short:   "Curated internal medicine literature",
	Long:    "meddash fetches PubMed articles, filters them for clinical relevance, scores and ranks them for the dashboard.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(reclassifyCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(flagCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("meddash", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/meddash/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set your NCBI contact email, journals and classification backend.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and classification status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n", db.Path())
		fmt.Printf("Today: %s\n\n", database.FormatDateDisplay(database.GetToday()))
		fmt.Println("Articles:")
		fmt.Printf("  Total stored: %d\n", stats.TotalArticles)
		fmt.Printf("  Relevant: %d (%.1f%%)\n", stats.RelevantArticles, stats.RelevancePercent)
		fmt.Printf("  Rejected: %d\n", stats.RejectedArticles)
		fmt.Printf("  Pending retry: %d\n", stats.PendingRetry)
		fmt.Printf("  Average score: %.1f\n", stats.AverageScore)
		fmt.Printf("  Key studies: %d\n", stats.KeyStudies)
		fmt.Printf("  Hidden: %d\n", stats.Hidden)
		if len(stats.ByCategory) > 0 {
			fmt.Println("\nBy category:")
			for _, c := range stats.ByCategory {
				fmt.Printf("  %s: %d\n", c.Label, c.Count)
			}
		}
		fmt.Println("\nTracked topics:")
		fmt.Printf("  Total: %d\n", stats.TotalTopics)
		fmt.Printf("  Active: %d\n", stats.ActiveTopics)

		runs, err := db.RecentRuns(5)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				fmt.Printf("  %s  %-9s %-28s %d total, %d failed\n", r.StartedAt, r.Status, r.Query, r.Total, r.Failed)
			}
		}
		return nil
	},
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath(), logger)
}
