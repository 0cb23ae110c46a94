package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/meddash/internal/article"
)

var articleColumns = []string{
	"id", "external_id", "title", "abstract", "journal", "authors", "publication_date",
	"doi", "url", "publication_types", "keywords", "mesh_terms", "source",
	"relevance", "relevance_reason", "medical_category", "article_type", "ranking_score",
	"journal_tier", "clinical_bottom_line", "tags", "score_breakdown", "input_hash",
	"status", "retry_count", "last_error", "is_key_study", "hidden_from_dashboard",
	"created_at", "updated_at", "classified_at",
}

// upsertSQL inserts a record or overwrites its source and classification
// fields. Curation flags and created_at are only written on insert.
const upsertSQL = `INSERT INTO articles (
    external_id, title, abstract, journal, authors, publication_date, pub_sort,
    doi, url, publication_types, keywords, mesh_terms, source,
    relevance, relevance_reason, medical_category, article_type, ranking_score,
    journal_tier, clinical_bottom_line, tags, score_breakdown, input_hash,
    status, retry_count, last_error, is_key_study, hidden_from_dashboard, classified_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
    title = excluded.title,
    abstract = excluded.abstract,
    journal = excluded.journal,
    authors = excluded.authors,
    publication_date = excluded.publication_date,
    pub_sort = excluded.pub_sort,
    doi = excluded.doi,
    url = excluded.url,
    publication_types = excluded.publication_types,
    keywords = excluded.keywords,
    mesh_terms = excluded.mesh_terms,
    source = excluded.source,
    relevance = excluded.relevance,
    relevance_reason = excluded.relevance_reason,
    medical_category = excluded.medical_category,
    article_type = excluded.article_type,
    ranking_score = excluded.ranking_score,
    journal_tier = excluded.journal_tier,
    clinical_bottom_line = excluded.clinical_bottom_line,
    tags = excluded.tags,
    score_breakdown = excluded.score_breakdown,
    input_hash = excluded.input_hash,
    status = excluded.status,
    retry_count = excluded.retry_count,
    last_error = excluded.last_error,
    classified_at = excluded.classified_at,
    updated_at = datetime('now')
RETURNING id`

// Upsert writes r keyed by its external id and returns the row id.
func (db *DB) Upsert(r *article.Record) (int64, error) {
	if strings.TrimSpace(r.ExternalID) == "" {
		return 0, article.ErrInvalidExternalID
	}
	var breakdown *string
	if r.Breakdown != nil {
		data, err := json.Marshal(r.Breakdown)
		if err != nil {
			return 0, fmt.Errorf("encoding breakdown: %w", err)
		}
		s := string(data)
		breakdown = &s
	}
	var classifiedAt *string
	if r.ClassifiedAt != "" {
		classifiedAt = &r.ClassifiedAt
	}

	var id int64
	err := db.conn.QueryRow(upsertSQL,
		r.ExternalID, r.Title, r.Abstract, r.Journal, encodeList(r.Authors),
		r.PublicationDate, article.DateSortKey(r.PublicationDate),
		r.DOI, r.URL, encodeList(r.PublicationTypes), encodeList(r.Keywords), encodeList(r.MeshTerms), r.Source,
		string(r.Relevance), r.RelevanceReason, string(r.MedicalCategory), string(r.ArticleType), r.RankingScore,
		r.JournalTier, r.ClinicalBottomLine, encodeList(r.Tags), breakdown, r.InputHash,
		string(r.Status), r.RetryCount, r.LastError, boolInt(r.IsKeyStudy), boolInt(r.Hidden), classifiedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting article %s: %w", r.ExternalID, err)
	}
	return id, nil
}

// GetByExternalID returns the stored record or ErrNotFound.
func (db *DB) GetByExternalID(externalID string) (*article.Record, error) {
	query, args, err := sq.Select(articleColumns...).From("articles").
		Where(sq.Eq{"external_id": externalID}).ToSql()
	if err != nil {
		return nil, err
	}
	r, err := scanRecord(db.conn.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SetFlag sets one curation flag without touching classification fields.
func (db *DB) SetFlag(externalID string, flag article.Flag, value bool) error {
	var column string
	switch flag {
	case article.FlagKeyStudy:
		column = "is_key_study"
	case article.FlagHidden:
		column = "hidden_from_dashboard"
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	query, args, err := sq.Update("articles").
		Set(column, boolInt(value)).
		Set("updated_at", sq.Expr("datetime('now')")).
		Where(sq.Eq{"external_id": externalID}).ToSql()
	if err != nil {
		return err
	}
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("setting %s on %s: %w", column, externalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %s: %w", externalID, ErrNotFound)
	}
	return nil
}

// Sort selects the ordering of QueryRelevant.
type Sort string

const (
	// SortRank orders by score, publication date, journal tier and insertion.
	SortRank Sort = "rank"
	// SortDate orders by publication date first.
	SortDate Sort = "date"
	// SortCreated orders by ingestion time, newest first.
	SortCreated Sort = "created"
)

// ParseSort maps a query value to a Sort, defaulting to SortRank.
func ParseSort(s string) Sort {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case SortDate:
		return SortDate
	case SortCreated:
		return SortCreated
	}
	return SortRank
}

// QueryOptions filters and pages ranked listings.
type QueryOptions struct {
	IncludeHidden  bool
	KeyStudiesOnly bool
	Category       article.Category
	Search         string
	MinScore       int
	// PublishedSince and CreatedSince are inclusive YYYY-MM-DD bounds.
	PublishedSince string
	CreatedSince   string
	Sort           Sort
	Limit          int
	Offset         int
}

func (o QueryOptions) where(b sq.SelectBuilder) sq.SelectBuilder {
	b = b.Where(sq.Eq{"relevance": string(article.RelevanceRelevant)}).
		Where(sq.NotEq{"ranking_score": nil})
	if !o.IncludeHidden {
		b = b.Where(sq.Eq{"hidden_from_dashboard": 0})
	}
	if o.KeyStudiesOnly {
		b = b.Where(sq.Eq{"is_key_study": 1})
	}
	if o.Category != "" {
		b = b.Where(sq.Eq{"medical_category": string(o.Category)})
	}
	if o.MinScore > 0 {
		b = b.Where(sq.GtOrEq{"ranking_score": o.MinScore})
	}
	if o.PublishedSince != "" {
		b = b.Where(sq.GtOrEq{"pub_sort": article.DateSortKey(o.PublishedSince)})
	}
	if o.CreatedSince != "" {
		b = b.Where(sq.GtOrEq{"created_at": o.CreatedSince})
	}
	if s := strings.TrimSpace(o.Search); s != "" {
		pattern := "%" + likeEscaper.Replace(s) + "%"
		b = b.Where(sq.Or{
			sq.Expr(`title LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`journal LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`abstract LIKE ? ESCAPE '\'`, pattern),
		})
	}
	return b
}

// likeEscaper makes search text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// QueryRelevant lists relevant, scored articles in ranking order.
func (db *DB) QueryRelevant(opts QueryOptions) ([]*article.Record, error) {
	b := opts.where(sq.Select(articleColumns...).From("articles"))
	switch opts.Sort {
	case SortDate:
		b = b.OrderBy("pub_sort DESC", "ranking_score DESC", "id ASC")
	case SortCreated:
		b = b.OrderBy("created_at DESC", "id DESC")
	default:
		b = b.OrderBy("ranking_score DESC", "pub_sort DESC", "journal_tier DESC", "created_at ASC", "id ASC")
	}
	if opts.Limit > 0 {
		b = b.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			b = b.Limit(1 << 62)
		}
		b = b.Offset(uint64(opts.Offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return db.queryRecords(query, args...)
}

// CountRelevant counts what QueryRelevant would return without paging.
func (db *DB) CountRelevant(opts QueryOptions) (int, error) {
	query, args, err := opts.where(sq.Select("COUNT(*)").From("articles")).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting relevant articles: %w", err)
	}
	return n, nil
}

// ListByStatus returns records in a lifecycle status, oldest first.
func (db *DB) ListByStatus(status article.Status, limit int) ([]*article.Record, error) {
	b := sq.Select(articleColumns...).From("articles").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("updated_at ASC", "id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return db.queryRecords(query, args...)
}

// ExternalIDs returns every stored identifier, optionally only relevant ones.
func (db *DB) ExternalIDs(relevantOnly bool) ([]string, error) {
	b := sq.Select("external_id").From("articles").OrderBy("id ASC")
	if relevantOnly {
		b = b.Where(sq.Eq{"relevance": string(article.RelevanceRelevant)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestCreatedAt returns the newest created_at timestamp, or "" when empty.
func (db *DB) LatestCreatedAt() (string, error) {
	var latest sql.NullString
	if err := db.conn.QueryRow("SELECT MAX(created_at) FROM articles").Scan(&latest); err != nil {
		return "", fmt.Errorf("reading latest created_at: %w", err)
	}
	return latest.String, nil
}

func (db *DB) queryRecords(query string, args ...any) ([]*article.Record, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*article.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(row rowScanner) (*article.Record, error) {
	var (
		r                                 article.Record
		authors, pubTypes, keywords, mesh string
		tags                              string
		relevance, category, typ, status  string
		score                             sql.NullInt64
		breakdown, classifiedAt           sql.NullString
		keyStudy, hidden                  int
	)
	err := row.Scan(
		&r.ID, &r.ExternalID, &r.Title, &r.Abstract, &r.Journal, &authors, &r.PublicationDate,
		&r.DOI, &r.URL, &pubTypes, &keywords, &mesh, &r.Source,
		&relevance, &r.RelevanceReason, &category, &typ, &score,
		&r.JournalTier, &r.ClinicalBottomLine, &tags, &breakdown, &r.InputHash,
		&status, &r.RetryCount, &r.LastError, &keyStudy, &hidden,
		&r.CreatedAt, &r.UpdatedAt, &classifiedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Authors = decodeList(authors)
	r.PublicationTypes = decodeList(pubTypes)
	r.Keywords = decodeList(keywords)
	r.MeshTerms = decodeList(mesh)
	r.Tags = decodeList(tags)
	r.Relevance = article.Relevance(relevance)
	r.MedicalCategory = article.Category(category)
	r.ArticleType = article.Type(typ)
	r.Status = article.Status(status)
	r.IsKeyStudy = keyStudy != 0
	r.Hidden = hidden != 0
	r.ClassifiedAt = classifiedAt.String
	if score.Valid {
		s := int(score.Int64)
		r.RankingScore = &s
	}
	if breakdown.Valid && breakdown.String != "" {
		var b article.Breakdown
		if err := json.Unmarshal([]byte(breakdown.String), &b); err == nil {
			r.Breakdown = &b
		}
	}
	return &r, nil
}
