package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quillon/receiptwise/internal/model"
)

// SavePendingSuggestion persists a consolidated suggestion and its
// ordinal-to-transaction mapping so it survives a process restart.
func (s *SQLiteStorage) SavePendingSuggestion(ctx context.Context, suggestion *model.PendingSuggestion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSuggestion(suggestion); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if suggestion.CreatedAt.IsZero() {
		suggestion.CreatedAt = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_suggestions (id, message_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				message_id = excluded.message_id
		`, suggestion.ID, suggestion.MessageID, suggestion.CreatedAt); err != nil {
			return fmt.Errorf("failed to save pending suggestion: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_entries WHERE suggestion_id = ?`, suggestion.ID,
		); err != nil {
			return fmt.Errorf("failed to clear pending entries: %w", err)
		}

		for _, entry := range suggestion.Entries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pending_entries (suggestion_id, ordinal, transaction_id, manual)
				VALUES (?, ?, ?, ?)
			`, suggestion.ID, entry.Ordinal, entry.TransactionID, boolInt(entry.Manual)); err != nil {
				return fmt.Errorf("failed to save pending entry: %w", err)
			}
		}

		return nil
	})
}

// GetOpenSuggestion returns the most recent unresolved suggestion, or nil when
// nothing is awaiting a reply.
func (s *SQLiteStorage) GetOpenSuggestion(ctx context.Context) (*model.PendingSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	suggestions, err := s.queryPendingSuggestions(ctx, `
		SELECT id, message_id, created_at
		FROM pending_suggestions
		ORDER BY created_at DESC
		LIMIT 1
	`)
	if err != nil {
		return nil, err
	}
	if len(suggestions) == 0 {
		return nil, nil
	}

	return &suggestions[0], nil
}

// GetExpiredSuggestions returns suggestions created before the cutoff, oldest
// first, for the timeout sweep.
func (s *SQLiteStorage) GetExpiredSuggestions(ctx context.Context, before time.Time) ([]model.PendingSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryPendingSuggestions(ctx, `
		SELECT id, message_id, created_at
		FROM pending_suggestions
		WHERE created_at < ?
		ORDER BY created_at ASC
	`, before)
}

// DeletePendingSuggestion removes a resolved suggestion and its entries.
func (s *SQLiteStorage) DeletePendingSuggestion(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_entries WHERE suggestion_id = ?`, id,
		); err != nil {
			return fmt.Errorf("failed to delete pending entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM pending_suggestions WHERE id = ?`, id,
		); err != nil {
			return fmt.Errorf("failed to delete pending suggestion: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) queryPendingSuggestions(ctx context.Context, query string, args ...any) ([]model.PendingSuggestion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []model.PendingSuggestion
	for rows.Next() {
		var suggestion model.PendingSuggestion
		if err := rows.Scan(&suggestion.ID, &suggestion.MessageID, &suggestion.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending suggestion: %w", err)
		}
		suggestions = append(suggestions, suggestion)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range suggestions {
		if err := s.loadPendingEntries(ctx, &suggestions[i]); err != nil {
			return nil, err
		}
	}

	return suggestions, nil
}

func (s *SQLiteStorage) loadPendingEntries(ctx context.Context, suggestion *model.PendingSuggestion) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, transaction_id, manual
		FROM pending_entries
		WHERE suggestion_id = ?
		ORDER BY ordinal ASC
	`, suggestion.ID)
	if err != nil {
		return fmt.Errorf("failed to query pending entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var entry model.SuggestionEntry
		var manual int
		if err := rows.Scan(&entry.Ordinal, &entry.TransactionID, &manual); err != nil {
			return fmt.Errorf("failed to scan pending entry: %w", err)
		}
		entry.Manual = manual == 1
		suggestion.Entries = append(suggestion.Entries, entry)
	}

	return rows.Err()
}
