package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
)

// GetMapping retrieves a mapping entry by its normalized title key.
// Returns common.ErrNotFound when no mapping has been learned for the key.
func (s *SQLiteStorage) GetMapping(ctx context.Context, key string) (*model.MappingEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	var entry model.MappingEntry
	var provenance string
	var lastUsed sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT key, category, confidence, provenance, use_count, last_used
		FROM mappings
		WHERE key = ?
	`, key).Scan(&entry.Key, &entry.Category, &entry.Confidence, &provenance,
		&entry.UseCount, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	entry.Provenance = model.Provenance(provenance)
	entry.LastUsed = lastUsed.Time

	if err := s.loadCorrections(ctx, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// SaveMapping inserts or updates a mapping entry. Correction events carried on
// the entry but not yet persisted are appended to the correction history.
func (s *SQLiteStorage) SaveMapping(ctx context.Context, entry *model.MappingEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMapping(entry); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if entry.LastUsed.IsZero() {
		entry.LastUsed = time.Now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mappings (key, category, confidence, provenance, use_count, last_used)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				category = excluded.category,
				confidence = excluded.confidence,
				provenance = excluded.provenance,
				use_count = excluded.use_count,
				last_used = excluded.last_used
		`, entry.Key, entry.Category, entry.Confidence, string(entry.Provenance),
			entry.UseCount, entry.LastUsed)
		if err != nil {
			return fmt.Errorf("failed to save mapping: %w", err)
		}

		var persisted int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM mapping_corrections WHERE mapping_key = ?`, entry.Key,
		).Scan(&persisted); err != nil {
			return fmt.Errorf("failed to count corrections: %w", err)
		}

		for _, c := range entry.Corrections[min(persisted, len(entry.Corrections)):] {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mapping_corrections (mapping_key, corrected_at, from_category, to_category, context)
				VALUES (?, ?, ?, ?, ?)
			`, entry.Key, c.Timestamp, c.FromCategory, c.ToCategory, c.Context); err != nil {
				return fmt.Errorf("failed to save correction: %w", err)
			}
		}

		return nil
	})
}

// GetAllMappings returns every learned mapping, most recently used first.
func (s *SQLiteStorage) GetAllMappings(ctx context.Context) ([]model.MappingEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryMappings(ctx, `
		SELECT key, category, confidence, provenance, use_count, last_used
		FROM mappings
		ORDER BY last_used DESC
	`)
}

// GetVettedMappings returns mappings a human has approved or corrected. These
// seed the keyword classifier and the oracle's few-shot examples.
func (s *SQLiteStorage) GetVettedMappings(ctx context.Context) ([]model.MappingEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryMappings(ctx, `
		SELECT key, category, confidence, provenance, use_count, last_used
		FROM mappings
		WHERE provenance IN (?, ?)
		ORDER BY last_used DESC
	`, string(model.ProvenanceApproved), string(model.ProvenanceCorrected))
}

func (s *SQLiteStorage) queryMappings(ctx context.Context, query string, args ...any) ([]model.MappingEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.MappingEntry
	for rows.Next() {
		var entry model.MappingEntry
		var provenance string
		var lastUsed sql.NullTime
		if err := rows.Scan(&entry.Key, &entry.Category, &entry.Confidence,
			&provenance, &entry.UseCount, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		entry.Provenance = model.Provenance(provenance)
		entry.LastUsed = lastUsed.Time
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *SQLiteStorage) loadCorrections(ctx context.Context, entry *model.MappingEntry) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT corrected_at, from_category, to_category, context
		FROM mapping_corrections
		WHERE mapping_key = ?
		ORDER BY corrected_at ASC, id ASC
	`, entry.Key)
	if err != nil {
		return fmt.Errorf("failed to query corrections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c model.Correction
		if err := rows.Scan(&c.Timestamp, &c.FromCategory, &c.ToCategory, &c.Context); err != nil {
			return fmt.Errorf("failed to scan correction: %w", err)
		}
		entry.Corrections = append(entry.Corrections, c)
	}

	return rows.Err()
}
