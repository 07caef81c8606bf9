package storage

import (
	"context"
	"fmt"
	"time"
)

// AcquireRunLock claims the single sync-run slot shared by every process
// pointed at this database. It returns true when the caller now holds the
// lock: the slot was free, the caller already held it, or the previous holder
// went stale (locked longer ago than staleAfter, i.e. it crashed without
// releasing).
func (s *SQLiteStorage) AcquireRunLock(ctx context.Context, owner string, staleAfter time.Duration) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(owner, "owner"); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE run_lock
		SET owner = ?, locked_at = ?
		WHERE id = 1 AND (owner = '' OR owner = ? OR locked_at IS NULL OR locked_at < ?)
	`, owner, now, owner, now.Add(-staleAfter))
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	claimed, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check run lock claim: %w", err)
	}
	return claimed > 0, nil
}

// ReleaseRunLock frees the run slot if the caller still holds it. Releasing a
// lock taken over by another process is a no-op.
func (s *SQLiteStorage) ReleaseRunLock(ctx context.Context, owner string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(owner, "owner"); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE run_lock
		SET owner = '', locked_at = NULL
		WHERE id = 1 AND owner = ?
	`, owner); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
