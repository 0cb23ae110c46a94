package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/pipeline"
	"github.com/TobiSchelling/meddash/internal/source"
)

// articleView is the JSON shape of a stored article.
type articleView struct {
	ExternalID         string             `json:"external_id"`
	Title              string             `json:"title"`
	Abstract           string             `json:"abstract,omitempty"`
	Journal            string             `json:"journal"`
	Authors            []string           `json:"authors"`
	PublicationDate    string             `json:"publication_date"`
	PublicationDisplay string             `json:"publication_date_display"`
	DOI                string             `json:"doi,omitempty"`
	URL                string             `json:"url"`
	Source             string             `json:"source,omitempty"`
	Relevance          article.Relevance  `json:"relevance"`
	RelevanceReason    string             `json:"relevance_reason"`
	MedicalCategory    article.Category   `json:"medical_category,omitempty"`
	ArticleType        article.Type       `json:"article_type,omitempty"`
	RankingScore       *int               `json:"ranking_score"`
	JournalTier        int                `json:"journal_tier"`
	ClinicalBottomLine string             `json:"clinical_bottom_line"`
	Tags               []string           `json:"tags"`
	Breakdown          *article.Breakdown `json:"score_breakdown,omitempty"`
	Status             article.Status     `json:"status"`
	LastError          string             `json:"last_error,omitempty"`
	IsKeyStudy         bool               `json:"is_key_study"`
	Hidden             bool               `json:"hidden_from_dashboard"`
	CreatedAt          string             `json:"created_at"`
	ClassifiedAt       string             `json:"classified_at,omitempty"`
}

func viewArticle(r *article.Record, withAbstract bool) articleView {
	v := articleView{
		ExternalID:         r.ExternalID,
		Title:              r.Title,
		Journal:            r.Journal,
		Authors:            nonNil(r.Authors),
		PublicationDate:    r.PublicationDate,
		PublicationDisplay: database.FormatDateDisplay(r.PublicationDate),
		DOI:                r.DOI,
		URL:                r.URL,
		Source:             r.Source,
		Relevance:          r.Relevance,
		RelevanceReason:    r.RelevanceReason,
		MedicalCategory:    r.MedicalCategory,
		ArticleType:        r.ArticleType,
		RankingScore:       r.RankingScore,
		JournalTier:        r.JournalTier,
		ClinicalBottomLine: r.ClinicalBottomLine,
		Tags:               nonNil(r.Tags),
		Breakdown:          r.Breakdown,
		Status:             r.Status,
		LastError:          r.LastError,
		IsKeyStudy:         r.IsKeyStudy,
		Hidden:             r.Hidden,
		CreatedAt:          r.CreatedAt,
		ClassifiedAt:       r.ClassifiedAt,
	}
	if withAbstract {
		v.Abstract = r.Abstract
	}
	return v
}

// feedItem is one entry of the merged article and study listing.
type feedItem struct {
	Kind       article.Kind     `json:"kind"`
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Score      *int             `json:"ranking_score"`
	Specialty  article.Category `json:"specialty,omitempty"`
	State      string           `json:"state"`
	Journal    string           `json:"journal,omitempty"`
	IsKeyStudy bool             `json:"is_key_study,omitempty"`
}

func viewFeedItem(item article.Rankable) feedItem {
	f := feedItem{
		Kind:      item.Kind(),
		Title:     item.DisplayTitle(),
		Specialty: item.Specialty(),
		State:     item.State(),
	}
	if score, ok := item.Score(); ok {
		f.Score = &score
	}
	switch v := item.(type) {
	case *article.Record:
		f.ID = v.ExternalID
		f.Journal = v.Journal
		f.IsKeyStudy = v.IsKeyStudy
	case *article.Study:
		f.ID = "study-" + strconv.FormatInt(v.ID, 10)
		f.Journal = v.Journal
	}
	return f
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := s.db.QueryRelevant(opts)
	if err != nil {
		s.internalError(w, "querying articles", err)
		return
	}
	total, err := s.db.CountRelevant(opts)
	if err != nil {
		s.internalError(w, "counting articles", err)
		return
	}
	views := make([]articleView, len(recs))
	for i, rec := range recs {
		views[i] = viewArticle(rec, false)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"articles": views,
		"total":    total,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	rec, err := s.db.GetByExternalID(r.PathValue("external_id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.internalError(w, "loading article", err)
		return
	}
	writeJSON(w, http.StatusOK, viewArticle(rec, true))
}

type flagRequest struct {
	Flag  string `json:"flag"`
	Value bool   `json:"value"`
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("external_id")
	var req flagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	flag, err := article.ParseFlag(req.Flag)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.coord.SetFlag(r.Context(), id, flag, req.Value)
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, database.ErrUnknownFlag):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.internalError(w, "setting flag", err)
		return
	}
	rec, err := s.db.GetByExternalID(id)
	if err != nil {
		s.internalError(w, "loading article", err)
		return
	}
	writeJSON(w, http.StatusOK, viewArticle(rec, false))
}

type outcomeView struct {
	ExternalID string         `json:"external_id"`
	State      pipeline.State `json:"state"`
	Unchanged  bool           `json:"unchanged"`
	Error      string         `json:"error,omitempty"`
	Article    *articleView   `json:"article,omitempty"`
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	out, err := s.coord.Reclassify(context.WithoutCancel(r.Context()), r.PathValue("external_id"))
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	view := outcomeView{ExternalID: out.ExternalID, State: out.State, Unchanged: out.Unchanged}
	if out.Record != nil {
		a := viewArticle(out.Record, false)
		view.Article = &a
	}
	status := http.StatusOK
	if err != nil {
		view.Error = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, view)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, offset := opts.Limit, opts.Offset
	opts.Limit, opts.Offset = 0, 0

	recs, err := s.db.QueryRelevant(opts)
	if err != nil {
		s.internalError(w, "querying articles", err)
		return
	}
	studies, err := s.db.ListStudies()
	if err != nil {
		s.internalError(w, "listing studies", err)
		return
	}
	items := make([]article.Rankable, 0, len(recs)+len(studies))
	for _, rec := range recs {
		items = append(items, rec)
	}
	for _, st := range studies {
		if opts.Category != "" && st.SpecialtyName != opts.Category {
			continue
		}
		items = append(items, st)
	}
	article.Rank(items)

	total := len(items)
	start := min(offset, total)
	end := min(start+limit, total)
	page := make([]feedItem, 0, end-start)
	for _, item := range items[start:end] {
		page = append(page, viewFeedItem(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  page,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type studyRequest struct {
	Title       string `json:"title"`
	Authors     string `json:"authors"`
	Journal     string `json:"journal"`
	Year        int    `json:"year"`
	Specialty   string `json:"specialty"`
	Abstract    string `json:"abstract"`
	DOI         string `json:"doi"`
	SubmittedBy string `json:"submitted_by"`
}

type studyView struct {
	ID             int64            `json:"id"`
	Title          string           `json:"title"`
	Authors        string           `json:"authors"`
	Journal        string           `json:"journal"`
	Year           int              `json:"year,omitempty"`
	Specialty      article.Category `json:"specialty"`
	DOI            string           `json:"doi,omitempty"`
	RankingScore   *int             `json:"ranking_score"`
	JournalTier    int              `json:"journal_tier"`
	IsMajorJournal bool             `json:"is_major_journal"`
	SubmittedBy    string           `json:"submitted_by,omitempty"`
	CreatedAt      string           `json:"created_at"`
}

func (s *Server) handleSubmitStudy(w http.ResponseWriter, r *http.Request) {
	var req studyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st := &article.Study{
		Title:       strings.TrimSpace(req.Title),
		Authors:     req.Authors,
		Journal:     req.Journal,
		Year:        req.Year,
		Abstract:    req.Abstract,
		DOI:         req.DOI,
		SubmittedBy: req.SubmittedBy,
	}
	if req.Specialty != "" {
		st.SpecialtyName = article.ParseCategory(req.Specialty)
	}
	saved, err := s.coord.SubmitStudy(r.Context(), st)
	var aerr *pipeline.ArticleError
	if errors.As(err, &aerr) && aerr.Stage == pipeline.StageInput {
		writeError(w, http.StatusBadRequest, aerr.Err)
		return
	}
	if err != nil {
		s.internalError(w, "submitting study", err)
		return
	}
	writeJSON(w, http.StatusCreated, studyView{
		ID:             saved.ID,
		Title:          saved.Title,
		Authors:        saved.Authors,
		Journal:        saved.Journal,
		Year:           saved.Year,
		Specialty:      saved.SpecialtyName,
		DOI:            saved.DOI,
		RankingScore:   saved.RankingScore,
		JournalTier:    saved.JournalTier,
		IsMajorJournal: saved.IsMajorJournal,
		SubmittedBy:    saved.SubmittedBy,
		CreatedAt:      saved.CreatedAt,
	})
}

type ingestRequest struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	IDs  []string `json:"ids"`
	// SinceLast derives the window from the newest stored article.
	SinceLast bool `json:"since_last"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.opts.Source == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no literature source configured"))
		return
	}
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := source.Query{From: req.From, To: req.To}
	for _, id := range req.IDs {
		pmid, err := article.ExtractPMID(id)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		q.IDs = append(q.IDs, pmid)
	}
	if req.SinceLast {
		latest, err := s.db.LatestCreatedAt()
		if err != nil {
			s.internalError(w, "finding last update", err)
			return
		}
		q.From, q.To = database.RangeSinceLastUpdate(latest, time.Now(), 7)
	}
	if q.Empty() {
		writeError(w, http.StatusBadRequest, source.ErrEmptyQuery)
		return
	}

	report, err := s.coord.IngestBatch(context.WithoutCancel(r.Context()), s.opts.Source, q)
	if errors.Is(err, pipeline.ErrSourceUnavailable) {
		s.logger.Warn("ingest failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": report})
		return
	}
	if err != nil {
		s.internalError(w, "ingesting", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// queryOptions parses listing filters from the URL.
func queryOptions(r *http.Request) (database.QueryOptions, error) {
	q := r.URL.Query()
	opts := database.QueryOptions{
		Search:         q.Get("q"),
		PublishedSince: q.Get("since"),
		Sort:           database.ParseSort(q.Get("sort")),
	}
	if c := q.Get("category"); c != "" {
		opts.Category = article.ParseCategory(c)
	}
	var err error
	if opts.IncludeHidden, err = boolParam(r, "include_hidden"); err != nil {
		return opts, err
	}
	if opts.KeyStudiesOnly, err = boolParam(r, "key_studies"); err != nil {
		return opts, err
	}
	if opts.MinScore, err = intParam(r, "min_score", 0); err != nil {
		return opts, err
	}
	if opts.Limit, err = intParam(r, "limit", defaultLimit); err != nil {
		return opts, err
	}
	if opts.Offset, err = intParam(r, "offset", 0); err != nil {
		return opts, err
	}
	opts.Limit = min(max(opts.Limit, 1), maxLimit)
	opts.Offset = max(opts.Offset, 0)
	return opts, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
