package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// Run is the persisted outcome of one ingestion batch.
type Run struct {
	ID         int64    `json:"-"`
	RunID      string   `json:"run_id"`
	Query      string   `json:"query"`
	Status     string   `json:"status"`
	Total      int      `json:"total"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	Rejected   int      `json:"rejected"`
	Scored     int      `json:"scored"`
	Unchanged  int      `json:"unchanged"`
	FailedIDs  []string `json:"failed_ids"`
	Error      string   `json:"error,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
}

const runColumns = "id, run_id, query, status, total, succeeded, failed, rejected, scored, unchanged, failed_ids, error, started_at, finished_at"

// StartRun records a batch as running.
func (db *DB) StartRun(runID, query string) error {
	_, err := db.conn.Exec(`INSERT INTO ingestion_runs (run_id, query, status) VALUES (?, ?, ?)`,
		runID, query, RunRunning)
	if err != nil {
		return fmt.Errorf("starting run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the final counts of a batch.
func (db *DB) FinishRun(r *Run) error {
	return db.execOne("run "+r.RunID, `UPDATE ingestion_runs SET
		status = ?, total = ?, succeeded = ?, failed = ?, rejected = ?, scored = ?, unchanged = ?,
		failed_ids = ?, error = ?, finished_at = datetime('now')
		WHERE run_id = ?`,
		r.Status, r.Total, r.Succeeded, r.Failed, r.Rejected, r.Scored, r.Unchanged,
		encodeList(r.FailedIDs), r.Error, r.RunID,
	)
}

// GetRun returns a run by its public id.
func (db *DB) GetRun(runID string) (*Run, error) {
	r, err := scanRun(db.conn.QueryRow("SELECT "+runColumns+" FROM ingestion_runs WHERE run_id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// RecentRuns returns the latest runs, newest first.
func (db *DB) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.Query("SELECT "+runColumns+" FROM ingestion_runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var failedIDs string
	var finished sql.NullString
	if err := row.Scan(&r.ID, &r.RunID, &r.Query, &r.Status, &r.Total, &r.Succeeded, &r.Failed,
		&r.Rejected, &r.Scored, &r.Unchanged, &failedIDs, &r.Error, &r.StartedAt, &finished); err != nil {
		return nil, err
	}
	r.FailedIDs = decodeList(failedIDs)
	r.FinishedAt = finished.String
	return &r, nil
}
