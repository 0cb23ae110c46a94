package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/TobiSchelling/meddash/internal/article"
)

const studyColumns = "id, title, authors, journal, year, specialty, abstract, doi, ranking_score, journal_tier, is_major_journal, submitted_by, created_at"

// InsertStudy stores an operator-submitted study.
func (db *DB) InsertStudy(s *article.Study) (int64, error) {
	res, err := db.conn.Exec(`INSERT INTO studies
		(title, authors, journal, year, specialty, abstract, doi, ranking_score, journal_tier, is_major_journal, submitted_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Title, s.Authors, s.Journal, s.Year, string(s.SpecialtyName), s.Abstract, s.DOI,
		s.RankingScore, s.JournalTier, boolInt(s.IsMajorJournal), s.SubmittedBy,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting study: %w", err)
	}
	return res.LastInsertId()
}

// GetStudy returns a study by ID.
func (db *DB) GetStudy(id int64) (*article.Study, error) {
	s, err := scanStudy(db.conn.QueryRow("SELECT "+studyColumns+" FROM studies WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("study %d: %w", id, ErrNotFound)
	}
	return s, err
}

// ListStudies returns all submitted studies in insertion order.
func (db *DB) ListStudies() ([]*article.Study, error) {
	rows, err := db.conn.Query("SELECT " + studyColumns + " FROM studies ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*article.Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStudy(row rowScanner) (*article.Study, error) {
	var s article.Study
	var specialty string
	var score sql.NullInt64
	var major int
	if err := row.Scan(&s.ID, &s.Title, &s.Authors, &s.Journal, &s.Year, &specialty, &s.Abstract, &s.DOI,
		&score, &s.JournalTier, &major, &s.SubmittedBy, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.SpecialtyName = article.Category(specialty)
	s.IsMajorJournal = major != 0
	if score.Valid {
		v := int(score.Int64)
		s.RankingScore = &v
	}
	return &s, nil
}
