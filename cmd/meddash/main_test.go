package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/meddash/internal/database"
)

func resetIngestFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		ingestFrom, ingestTo, ingestIDs = "", "", nil
		ingestSinceLast, ingestFeeds, ingestDays = false, false, 0
	})
}

func TestIngestQuery(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	today := time.Now().Format("2006-01-02")

	t.Run("ids", func(t *testing.T) {
		resetIngestFlags(t)
		ingestIDs = []string{"123", "https://pubmed.ncbi.nlm.nih.gov/456/"}
		q, err := ingestQuery(db)
		require.NoError(t, err)
		assert.Equal(t, []string{"123", "456"}, q.IDs)
	})

	t.Run("from defaults to today", func(t *testing.T) {
		resetIngestFlags(t)
		ingestFrom = "2026-01-01"
		q, err := ingestQuery(db)
		require.NoError(t, err)
		assert.Equal(t, "2026-01-01", q.From)
		assert.Equal(t, today, q.To)
	})

	t.Run("since last on empty store", func(t *testing.T) {
		resetIngestFlags(t)
		ingestSinceLast = true
		q, err := ingestQuery(db)
		require.NoError(t, err)
		assert.Equal(t, time.Now().AddDate(0, 0, -7).Format("2006-01-02"), q.From)
		assert.Equal(t, today, q.To)
	})

	t.Run("nothing", func(t *testing.T) {
		resetIngestFlags(t)
		_, err := ingestQuery(db)
		assert.Error(t, err)
	})

	t.Run("bad id", func(t *testing.T) {
		resetIngestFlags(t)
		ingestIDs = []string{"not-a-pmid"}
		_, err := ingestQuery(db)
		assert.Error(t, err)
	})
}

func TestParseSwitch(t *testing.T) {
	for in, want := range map[string]bool{"on": true, "OFF": false, "true": true, "0": false} {
		got, err := parseSwitch(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseSwitch("maybe")
	assert.Error(t, err)
}
