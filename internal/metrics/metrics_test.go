package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.Article("scored")
	m.Article("scored")
	m.Article("rejected")
	m.Stage("score", 20*time.Millisecond, nil)
	m.Stage("filter", time.Second, errors.New("timeout"))
	m.Batch("partial")
	m.Score(8)

	body := scrape(t, m)
	assert.Contains(t, body, `meddash_articles_processed_total{outcome="scored"} 2`)
	assert.Contains(t, body, `meddash_articles_processed_total{outcome="rejected"} 1`)
	assert.Contains(t, body, `meddash_stage_failures_total{stage="filter"} 1`)
	assert.Contains(t, body, `meddash_batches_total{status="partial"} 1`)
	assert.Contains(t, body, `meddash_ranking_score_count 1`)
	assert.Contains(t, body, `meddash_stage_duration_seconds_count{stage="score"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Article("scored")
		m.Stage("score", time.Millisecond, nil)
		m.Batch("completed")
		m.Score(3)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
