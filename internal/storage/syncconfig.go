package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quillon/receiptwise/internal/model"
)

// GetSyncConfig reads the singleton engine configuration row.
func (s *SQLiteStorage) GetSyncConfig(ctx context.Context) (*model.SyncConfig, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var cfg model.SyncConfig
	var lastRunAt, firstSuggestionAt sql.NullTime
	var autonomous, graduationProposed int

	err := s.db.QueryRowContext(ctx, `
		SELECT autonomous, last_run_at, total_suggestions, unmodified_accepts,
		       modified_accepts, skips, first_suggestion_at, graduation_proposed, version
		FROM sync_config
		WHERE id = 1
	`).Scan(&autonomous, &lastRunAt, &cfg.TotalSuggestions, &cfg.UnmodifiedAccepts,
		&cfg.ModifiedAccepts, &cfg.Skips, &firstSuggestionAt, &graduationProposed, &cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync config: %w", err)
	}

	cfg.Autonomous = autonomous == 1
	cfg.GraduationProposed = graduationProposed == 1
	cfg.LastRunAt = lastRunAt.Time
	cfg.FirstSuggestionAt = firstSuggestionAt.Time

	return &cfg, nil
}

// SaveSyncConfig writes the singleton configuration row. The write is
// version-checked: saving a config read before another writer bumped the
// version fails rather than silently losing counter updates.
func (s *SQLiteStorage) SaveSyncConfig(ctx context.Context, cfg *model.SyncConfig) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%w: cfg", ErrNilParameter)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_config SET
			autonomous = ?,
			last_run_at = ?,
			total_suggestions = ?,
			unmodified_accepts = ?,
			modified_accepts = ?,
			skips = ?,
			first_suggestion_at = ?,
			graduation_proposed = ?,
			version = version + 1
		WHERE id = 1 AND version = ?
	`, boolInt(cfg.Autonomous), nullTime(cfg.LastRunAt),
		cfg.TotalSuggestions, cfg.UnmodifiedAccepts, cfg.ModifiedAccepts, cfg.Skips,
		nullTime(cfg.FirstSuggestionAt), boolInt(cfg.GraduationProposed), cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to save sync config: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check sync config update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sync config version conflict: stale version %d", cfg.Version)
	}

	cfg.Version++

	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
