package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: sync records and matched items",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS sync_records (
					transaction_id TEXT PRIMARY KEY,
					channel TEXT NOT NULL DEFAULT '',
					receipt_ref TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					amount INTEGER NOT NULL,
					date DATETIME NOT NULL,
					payee TEXT NOT NULL DEFAULT '',
					prev_memo TEXT NOT NULL DEFAULT '',
					prev_category TEXT NOT NULL DEFAULT '',
					suggestion_id TEXT NOT NULL DEFAULT '',
					matched_at DATETIME,
					enriched_at DATETIME,
					resolved_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_sync_records_status ON sync_records(status)`,
				`CREATE INDEX idx_sync_records_channel_date ON sync_records(channel, date)`,

				`CREATE TABLE IF NOT EXISTS matched_items (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					transaction_id TEXT NOT NULL,
					position INTEGER NOT NULL,
					title TEXT NOT NULL,
					price INTEGER NOT NULL,
					category TEXT NOT NULL DEFAULT '',
					confidence REAL NOT NULL DEFAULT 0,
					allocated INTEGER NOT NULL DEFAULT 0,
					provenance TEXT NOT NULL DEFAULT '',
					FOREIGN KEY (transaction_id) REFERENCES sync_records(transaction_id)
				)`,
				`CREATE INDEX idx_matched_items_transaction_id ON matched_items(transaction_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Mapping store with correction history",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS mappings (
					key TEXT PRIMARY KEY,
					category TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					provenance TEXT NOT NULL,
					use_count INTEGER NOT NULL DEFAULT 0,
					last_used DATETIME
				)`,
				`CREATE TABLE IF NOT EXISTS mapping_corrections (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					mapping_key TEXT NOT NULL,
					corrected_at DATETIME NOT NULL,
					from_category TEXT NOT NULL,
					to_category TEXT NOT NULL,
					context TEXT NOT NULL DEFAULT '',
					FOREIGN KEY (mapping_key) REFERENCES mappings(key)
				)`,
				`CREATE INDEX idx_mapping_corrections_key ON mapping_corrections(mapping_key)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Sync config singleton and pending suggestions",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS sync_config (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					autonomous INTEGER NOT NULL DEFAULT 0,
					last_run_at DATETIME,
					total_suggestions INTEGER NOT NULL DEFAULT 0,
					unmodified_accepts INTEGER NOT NULL DEFAULT 0,
					modified_accepts INTEGER NOT NULL DEFAULT 0,
					skips INTEGER NOT NULL DEFAULT 0,
					first_suggestion_at DATETIME,
					graduation_proposed INTEGER NOT NULL DEFAULT 0,
					version INTEGER NOT NULL DEFAULT 0
				)`,
				`INSERT OR IGNORE INTO sync_config (id) VALUES (1)`,

				`CREATE TABLE IF NOT EXISTS pending_suggestions (
					id TEXT PRIMARY KEY,
					message_id TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS pending_entries (
					suggestion_id TEXT NOT NULL,
					ordinal INTEGER NOT NULL,
					transaction_id TEXT NOT NULL,
					manual INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (suggestion_id, ordinal),
					FOREIGN KEY (suggestion_id) REFERENCES pending_suggestions(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Cross-process run lock",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS run_lock (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					owner TEXT NOT NULL DEFAULT '',
					locked_at DATETIME
				)`,
				`INSERT OR IGNORE INTO run_lock (id) VALUES (1)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate runs all pending migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		slog.Info("Applying migration",
			"version", migration.Version,
			"description", migration.Description)

		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := migration.Up(tx); err != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, err)
			}
			if _, err := tx.Exec(
				`INSERT INTO schema_migrations (version) VALUES (?)`, migration.Version,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
