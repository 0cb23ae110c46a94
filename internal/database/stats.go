package database

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/meddash/internal/article"
)

// Count is one bucket of a grouped count.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ScoreCount is the number of ranked articles with a given score.
type ScoreCount struct {
	Score int `json:"score"`
	Count int `json:"count"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalArticles    int          `json:"total_articles"`
	RelevantArticles int          `json:"relevant_articles"`
	RejectedArticles int          `json:"rejected_articles"`
	PendingRetry     int          `json:"pending_retry"`
	RelevancePercent float64      `json:"relevance_percentage"`
	AverageScore     float64      `json:"average_score"`
	KeyStudies       int          `json:"key_studies"`
	Hidden           int          `json:"hidden"`
	ByCategory       []Count      `json:"by_category"`
	ByScore          []ScoreCount `json:"by_score"`
	TopJournals      []Count      `json:"top_journals"`
	TotalTopics      int          `json:"total_topics"`
	ActiveTopics     int          `json:"active_topics"`
	Studies          int          `json:"studies"`
	CachedDecisions  int          `json:"cached_decisions"`
}

// GetStats returns aggregate counts. Score and category buckets cover ranked
// articles only, hidden ones included.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	singles := []struct {
		dest  *int
		query string
	}{
		{&s.TotalArticles, "SELECT COUNT(*) FROM articles"},
		{&s.RelevantArticles, "SELECT COUNT(*) FROM articles WHERE relevance = 'relevant'"},
		{&s.RejectedArticles, "SELECT COUNT(*) FROM articles WHERE relevance = 'rejected'"},
		{&s.PendingRetry, "SELECT COUNT(*) FROM articles WHERE status = 'pending_retry'"},
		{&s.KeyStudies, "SELECT COUNT(*) FROM articles WHERE is_key_study = 1"},
		{&s.Hidden, "SELECT COUNT(*) FROM articles WHERE hidden_from_dashboard = 1"},
		{&s.TotalTopics, "SELECT COUNT(*) FROM tracked_topics"},
		{&s.ActiveTopics, "SELECT COUNT(*) FROM tracked_topics WHERE is_active = 1"},
		{&s.Studies, "SELECT COUNT(*) FROM studies"},
		{&s.CachedDecisions, "SELECT COUNT(*) FROM classification_cache"},
	}
	for _, q := range singles {
		if err := db.conn.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	if s.TotalArticles > 0 {
		s.RelevancePercent = float64(s.RelevantArticles) / float64(s.TotalArticles) * 100
	}

	ranked := sq.And{
		sq.Eq{"relevance": string(article.RelevanceRelevant)},
		sq.NotEq{"ranking_score": nil},
	}

	var avg sql.NullFloat64
	query, args, err := sq.Select("AVG(ranking_score)").From("articles").Where(ranked).ToSql()
	if err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow(query, args...).Scan(&avg); err != nil {
		return nil, fmt.Errorf("stats average: %w", err)
	}
	s.AverageScore = avg.Float64

	if s.ByCategory, err = db.groupCount(sq.Select("medical_category", "COUNT(*) AS n").From("articles").
		Where(ranked).GroupBy("medical_category").OrderBy("n DESC", "medical_category ASC")); err != nil {
		return nil, err
	}
	if s.TopJournals, err = db.groupCount(sq.Select("journal", "COUNT(*) AS n").From("articles").
		Where(ranked).Where(sq.NotEq{"journal": ""}).GroupBy("journal").OrderBy("n DESC", "journal ASC").Limit(10)); err != nil {
		return nil, err
	}

	query, args, err = sq.Select("ranking_score", "COUNT(*)").From("articles").
		Where(ranked).GroupBy("ranking_score").OrderBy("ranking_score DESC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats by score: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc ScoreCount
		if err := rows.Scan(&sc.Score, &sc.Count); err != nil {
			return nil, err
		}
		s.ByScore = append(s.ByScore, sc)
	}
	return s, rows.Err()
}

func (db *DB) groupCount(b sq.SelectBuilder) ([]Count, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("grouped count: %w", err)
	}
	defer rows.Close()
	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
