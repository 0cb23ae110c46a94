package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func rawDB(t *testing.T, ddl ...string) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range ddl {
		_, err := conn.Exec(stmt)
		require.NoError(t, err)
	}
	return path, conn
}

func tableNames(t *testing.T, conn *sql.DB) []string {
	t.Helper()
	rows, err := conn.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestMigrateFreshStore(t *testing.T) {
	db := openTestDB(t)

	version, err := getSchemaVersion(db.conn)
	require.NoError(t, err)
	assert.Equal(t, latestVersion(), version)
	assert.Subset(t, tableNames(t, db.conn),
		[]string{"articles", "classification_cache", "ingestion_runs", "studies", "tracked_topics"})
}

func TestMigrateStampsUnversionedStore(t *testing.T) {
	path, raw := rawDB(t, `CREATE TABLE articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL
	)`)
	legacy, err := isLegacyDB(raw)
	require.NoError(t, err)
	assert.True(t, legacy)
	raw.Close()

	db, err := Open(path, nil)
	require.NoError(t, err)
	defer db.Close()

	version, err := getSchemaVersion(db.conn)
	require.NoError(t, err)
	assert.Equal(t, latestVersion(), version)
	// Later migrations still run on a stamped store.
	assert.Contains(t, tableNames(t, db.conn), "classification_cache")
}

func TestReopenKeepsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	for range 2 {
		db, err := Open(path, nil)
		require.NoError(t, err)
		version, err := getSchemaVersion(db.conn)
		require.NoError(t, err)
		assert.Equal(t, latestVersion(), version)
		require.NoError(t, db.Close())
	}
}

func TestEmptyFileIsVersionZero(t *testing.T) {
	_, conn := rawDB(t)
	defer conn.Close()

	version, err := getSchemaVersion(conn)
	require.NoError(t, err)
	assert.Zero(t, version)

	legacy, err := isLegacyDB(conn)
	require.NoError(t, err)
	assert.False(t, legacy)
}

func TestOpenRejectsArticlesTableWithoutExternalID(t *testing.T) {
	path, raw := rawDB(t, `CREATE TABLE articles (id INTEGER PRIMARY KEY, pmid TEXT UNIQUE, title TEXT)`)
	raw.Close()

	_, err := Open(path, nil)
	assert.ErrorContains(t, err, "external_id")
}

func TestHasColumn(t *testing.T) {
	db := openTestDB(t)

	ok, err := hasColumn(db.conn, "articles", "ranking_score")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasColumn(db.conn, "articles", "affiliations")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrationsAreContiguous(t *testing.T) {
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description, "migration %d", m.Version)
		assert.NotNil(t, m.Up, "migration %d", m.Version)
	}
}
