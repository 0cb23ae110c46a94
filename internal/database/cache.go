package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetCached returns a cached generative decision.
func (db *DB) GetCached(stage, key string) (string, bool, error) {
	var payload string
	err := db.conn.QueryRow(
		"SELECT payload FROM classification_cache WHERE stage = ? AND input_hash = ?", stage, key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache: %w", err)
	}
	return payload, true, nil
}

// PutCached stores or replaces a cached decision.
func (db *DB) PutCached(stage, key, payload string) error {
	_, err := db.conn.Exec(`INSERT INTO classification_cache (stage, input_hash, payload) VALUES (?, ?, ?)
		ON CONFLICT(stage, input_hash) DO UPDATE SET payload = excluded.payload, created_at = datetime('now')`,
		stage, key, payload)
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// ClearCache drops cached decisions of one stage, or all when stage is empty.
func (db *DB) ClearCache(stage string) (int64, error) {
	var res sql.Result
	var err error
	if stage == "" {
		res, err = db.conn.Exec("DELETE FROM classification_cache")
	} else {
		res, err = db.conn.Exec("DELETE FROM classification_cache WHERE stage = ?", stage)
	}
	if err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	return res.RowsAffected()
}
