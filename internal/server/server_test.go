package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/meddash/internal/article"
	"github.com/TobiSchelling/meddash/internal/database"
	"github.com/TobiSchelling/meddash/internal/filter"
	"github.com/TobiSchelling/meddash/internal/metrics"
	"github.com/TobiSchelling/meddash/internal/pipeline"
	"github.com/TobiSchelling/meddash/internal/retry"
	"github.com/TobiSchelling/meddash/internal/rubric"
	"github.com/TobiSchelling/meddash/internal/scoring"
	"github.com/TobiSchelling/meddash/internal/source"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeSource struct {
	raws []article.Raw
	err  error
}

func (f *fakeSource) Articles(_ context.Context, q source.Query) iter.Seq2[article.Raw, error] {
	return func(yield func(article.Raw, error) bool) {
		if f.err != nil {
			yield(article.Raw{}, f.err)
			return
		}
		for _, r := range f.raws {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func heartFailureTrial(id string) article.Raw {
	return article.Raw{
		ExternalID:      id,
		Title:           "Randomized trial of drug D in heart failure",
		Abstract:        "In this randomized controlled trial, 500 patients with chronic heart failure were assigned to drug D or placebo.",
		Journal:         "The Lancet",
		PublicationDate: "2024-03-05",
		URL:             article.PubMedURL(id),
	}
}

type fixture struct {
	db    *database.DB
	coord *pipeline.Coordinator
	srv   *Server
}

func newFixture(t *testing.T, src pipeline.Source) *fixture {
	t.Helper()
	db := openTestDB(t)
	tbl, err := rubric.Compile(rubric.Default())
	require.NoError(t, err)
	m := metrics.New()
	coord := pipeline.New(db, filter.NewRuleFilter(tbl), scoring.New(tbl), nil, pipeline.Options{
		Workers:         2,
		Timeout:         time.Second,
		Retry:           retry.Policy{MaxAttempts: 1},
		PersistRejected: true,
		Logger:          zaptest.NewLogger(t),
		Metrics:         m,
	})
	srv := New(db, coord, Options{Source: src, Metrics: m, Logger: zaptest.NewLogger(t)})
	return &fixture{db: db, coord: coord, srv: srv}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.coord.IngestRecords(context.Background(), []article.Raw{
		heartFailureTrial("X1"),
		{ExternalID: "V1", Title: "Case study of a rare skin condition in veterinary medicine",
			Abstract: "We describe a single animal presenting with an unusual dermal lesion."},
	})
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type listResponse struct {
	Articles []articleView `json:"articles"`
	Total    int           `json:"total"`
	Limit    int           `json:"limit"`
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListArticlesOnlyRanked(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "GET", "/api/articles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[listResponse](t, rec)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, defaultLimit, resp.Limit)
	require.Len(t, resp.Articles, 1)
	a := resp.Articles[0]
	assert.Equal(t, "X1", a.ExternalID)
	assert.Equal(t, article.CategoryCardiology, a.MedicalCategory)
	require.NotNil(t, a.RankingScore)
	assert.GreaterOrEqual(t, *a.RankingScore, 7)
	assert.Equal(t, "Mar 05, 2024", a.PublicationDisplay)
	assert.Empty(t, a.Abstract, "listings omit abstracts")
}

func TestListArticlesBadParams(t *testing.T) {
	f := newFixture(t, nil)
	for _, target := range []string{"/api/articles?limit=abc", "/api/articles?include_hidden=maybe"} {
		rec := f.do(t, "GET", target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetArticle(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "GET", "/api/articles/V1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[articleView](t, rec)
	assert.Equal(t, article.RelevanceRejected, a.Relevance)
	assert.Nil(t, a.RankingScore)
	assert.NotEmpty(t, a.Abstract)

	rec = f.do(t, "GET", "/api/articles/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetFlagHidesArticle(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "POST", "/api/articles/X1/flags", `{"flag":"hidden","value":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[articleView](t, rec).Hidden)

	assert.Equal(t, 0, decode[listResponse](t, f.do(t, "GET", "/api/articles", "")).Total)
	assert.Equal(t, 1, decode[listResponse](t, f.do(t, "GET", "/api/articles?include_hidden=true", "")).Total)

	stored, err := f.db.GetByExternalID("X1")
	require.NoError(t, err)
	assert.NotNil(t, stored.RankingScore, "flags leave classification untouched")
}

func TestSetFlagErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/articles/X1/flags", `{"flag":"pinned","value":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/articles/X1/flags", `{"flag":`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/articles/nope/flags", `{"flag":"key","value":true}`).Code)
}

func TestReclassifyUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "POST", "/api/articles/X1/reclassify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[outcomeView](t, rec)
	assert.True(t, out.Unchanged)
	assert.Equal(t, pipeline.StatePersisted, out.State)

	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/articles/nope/reclassify", "").Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "GET", "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[database.Stats](t, rec)
	assert.Equal(t, 2, stats.TotalArticles)
	assert.Equal(t, 1, stats.RelevantArticles)
	assert.Equal(t, 1, stats.RejectedArticles)
}

func TestIngestAndRun(t *testing.T) {
	f := newFixture(t, &fakeSource{raws: []article.Raw{heartFailureTrial("123")}})

	rec := f.do(t, "POST", "/api/ingest", `{"ids":["https://pubmed.ncbi.nlm.nih.gov/123/"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[pipeline.BatchReport](t, rec)
	assert.Equal(t, "ids:123", report.Query)
	assert.Equal(t, 1, report.Scored)
	assert.Equal(t, database.RunCompleted, report.Status)

	rec = f.do(t, "GET", "/api/runs/"+report.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[database.Run](t, rec)
	assert.Equal(t, database.RunCompleted, run.Status)
	assert.Equal(t, 1, run.Total)

	runs := decode[map[string][]database.Run](t, f.do(t, "GET", "/api/runs", ""))
	assert.Len(t, runs["runs"], 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/runs/unknown", "").Code)
}

func TestIngestErrors(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, "POST", "/api/ingest", `{"ids":["1"]}`).Code)

	f = newFixture(t, &fakeSource{})
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/ingest", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/ingest", `{"ids":["not a pmid"]}`).Code)

	f = newFixture(t, &fakeSource{err: errors.New("eutils down")})
	rec := f.do(t, "POST", "/api/ingest", `{"from":"2024-01-01","to":"2024-01-31"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "eutils down")
}

func TestSubmitStudyAndFeed(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "POST", "/api/studies", `{"title":"Heart failure outcomes registry","journal":"NEJM","year":2025,"submitted_by":"dr. a"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	st := decode[studyView](t, rec)
	assert.True(t, st.IsMajorJournal)
	assert.NotNil(t, st.RankingScore)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/studies", `{"title":"  "}`).Code)

	rec = f.do(t, "GET", "/api/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var feed struct {
		Items []feedItem `json:"items"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	assert.Equal(t, 2, feed.Total)
	kinds := map[article.Kind]bool{}
	for _, it := range feed.Items {
		kinds[it.Kind] = true
	}
	assert.True(t, kinds[article.KindArticle])
	assert.True(t, kinds[article.KindStudy])
}

func TestDigest(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "GET", "/digest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>Literature digest:")
	assert.Contains(t, rec.Body.String(), "Randomized trial of drug D in heart failure")

	rec = f.do(t, "GET", "/digest?format=md&top=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# Literature digest:"))

	assert.Equal(t, http.StatusBadRequest, f.do(t, "GET", "/digest?days=x", "").Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	rec := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "meddash_")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, "DELETE", "/api/articles", "").Code)
}
