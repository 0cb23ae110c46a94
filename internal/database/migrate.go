package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// hasColumn reports whether table exists and has column.
func hasColumn(conn *sql.DB, table, column string) (bool, error) {
	rows, err := conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("reading %s columns: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// isLegacyDB returns true if the database has an articles table but no
// user_version set. Such a table must already be keyed by external_id.
func isLegacyDB(conn *sql.DB) (bool, error) {
	var count int
	err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='articles'",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking for legacy tables: %w", err)
	}
	if count == 0 {
		return false, nil
	}
	ok, err := hasColumn(conn, "articles", "external_id")
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("unversioned articles table without external_id column")
	}
	return true, nil
}

func setSchemaVersion(conn *sql.DB, v int) error {
	// modernc/sqlite ignores user_version set inside a transaction.
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("setting schema version %d: %w", v, err)
	}
	return nil
}

func apply(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// migrate runs every migration newer than the stored user_version.
func migrate(conn *sql.DB, logger *zap.Logger) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}
	if current == 0 {
		switch legacy, err := isLegacyDB(conn); {
		case err != nil:
			return err
		case legacy:
			logger.Info("stamping unversioned store", zap.Int("version", 1))
			if err := setSchemaVersion(conn, 1); err != nil {
				return err
			}
			current = 1
		}
	}

	for _, m := range migrations[min(current, len(migrations)):] {
		logger.Info("migrating store", zap.Int("version", m.Version), zap.String("step", m.Description))
		if err := apply(conn, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := setSchemaVersion(conn, m.Version); err != nil {
			return err
		}
	}
	return nil
}
