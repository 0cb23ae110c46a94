package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Topic is an operator-defined condition or intervention to track. Keywords
// of active topics extend the relevance filter's tracked terms.
type Topic struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords"`
	IsActive    bool     `json:"is_active"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

const topicColumns = "id, title, description, keywords, is_active, created_at, updated_at"

// InsertTopic creates a new tracked topic.
func (db *DB) InsertTopic(title, description string, keywords []string) (int64, error) {
	if strings.TrimSpace(title) == "" {
		return 0, fmt.Errorf("topic title is required")
	}
	result, err := db.conn.Exec(
		`INSERT INTO tracked_topics (title, description, keywords) VALUES (?, ?, ?)`,
		title, description, encodeList(cleanKeywords(keywords)),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetAllTopics returns all topics, newest first.
func (db *DB) GetAllTopics() ([]Topic, error) {
	return db.queryTopics("SELECT " + topicColumns + " FROM tracked_topics ORDER BY created_at DESC, id DESC")
}

// GetActiveTopics returns only active topics.
func (db *DB) GetActiveTopics() ([]Topic, error) {
	return db.queryTopics("SELECT " + topicColumns + " FROM tracked_topics WHERE is_active = 1 ORDER BY created_at DESC, id DESC")
}

// ActiveTopicKeywords returns the deduplicated keywords of all active topics.
func (db *DB) ActiveTopicKeywords() ([]string, error) {
	topics, err := db.GetActiveTopics()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range topics {
		for _, k := range t.Keywords {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out, nil
}

// GetTopic returns a single topic by ID.
func (db *DB) GetTopic(topicID int64) (*Topic, error) {
	row := db.conn.QueryRow("SELECT "+topicColumns+" FROM tracked_topics WHERE id = ?", topicID)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %d: %w", topicID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTopic updates the non-nil fields of a topic.
func (db *DB) UpdateTopic(topicID int64, title, description *string, keywords []string) error {
	var updates []string
	var args []any

	if title != nil {
		updates = append(updates, "title = ?")
		args = append(args, *title)
	}
	if description != nil {
		updates = append(updates, "description = ?")
		args = append(args, *description)
	}
	if keywords != nil {
		updates = append(updates, "keywords = ?")
		args = append(args, encodeList(cleanKeywords(keywords)))
	}
	if len(updates) == 0 {
		return nil
	}

	updates = append(updates, "updated_at = datetime('now')")
	args = append(args, topicID)

	query := fmt.Sprintf("UPDATE tracked_topics SET %s WHERE id = ?", strings.Join(updates, ", "))
	return db.execOne(fmt.Sprintf("topic %d", topicID), query, args...)
}

// ToggleTopic flips the active state of a topic.
func (db *DB) ToggleTopic(topicID int64) error {
	return db.execOne(fmt.Sprintf("topic %d", topicID),
		`UPDATE tracked_topics SET is_active = NOT is_active, updated_at = datetime('now') WHERE id = ?`,
		topicID,
	)
}

// DeleteTopic removes a topic.
func (db *DB) DeleteTopic(topicID int64) error {
	return db.execOne(fmt.Sprintf("topic %d", topicID), "DELETE FROM tracked_topics WHERE id = ?", topicID)
}

func (db *DB) execOne(what, query string, args ...any) error {
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (db *DB) queryTopics(query string, args ...any) ([]Topic, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

func scanTopic(row rowScanner) (*Topic, error) {
	var t Topic
	var keywords string
	var active int
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &keywords, &active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.IsActive = active != 0
	t.Keywords = decodeList(keywords)
	return &t, nil
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}
