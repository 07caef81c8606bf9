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

// GetSyncRecord retrieves the sync record for a ledger transaction.
// Returns common.ErrNotFound when the transaction has never been processed.
func (s *SQLiteStorage) GetSyncRecord(ctx context.Context, transactionID string) (*model.SyncRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	record, err := s.scanSyncRecord(s.db.QueryRowContext(ctx, `
		SELECT transaction_id, channel, receipt_ref, status, amount, date, payee,
		       prev_memo, prev_category, suggestion_id, matched_at, enriched_at, resolved_at
		FROM sync_records
		WHERE transaction_id = ?
	`, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync record: %w", err)
	}

	if err := s.loadItems(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// SaveSyncRecord inserts or replaces a sync record along with its matched items.
func (s *SQLiteStorage) SaveSyncRecord(ctx context.Context, record *model.SyncRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSyncRecord(record); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_records (
				transaction_id, channel, receipt_ref, status, amount, date, payee,
				prev_memo, prev_category, suggestion_id, matched_at, enriched_at, resolved_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(transaction_id) DO UPDATE SET
				channel = excluded.channel,
				receipt_ref = excluded.receipt_ref,
				status = excluded.status,
				amount = excluded.amount,
				date = excluded.date,
				payee = excluded.payee,
				prev_memo = excluded.prev_memo,
				prev_category = excluded.prev_category,
				suggestion_id = excluded.suggestion_id,
				matched_at = excluded.matched_at,
				enriched_at = excluded.enriched_at,
				resolved_at = excluded.resolved_at,
				updated_at = CURRENT_TIMESTAMP
		`, record.TransactionID, string(record.Channel), record.ReceiptRef, string(record.Status),
			record.Amount, record.Date, record.Payee,
			record.PrevMemo, record.PrevCategory, record.SuggestionID,
			nullTime(record.MatchedAt), nullTime(record.EnrichedAt), nullTime(record.ResolvedAt))
		if err != nil {
			return fmt.Errorf("failed to save sync record: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM matched_items WHERE transaction_id = ?`, record.TransactionID,
		); err != nil {
			return fmt.Errorf("failed to clear matched items: %w", err)
		}

		for i, item := range record.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO matched_items (
					transaction_id, position, title, price, category, confidence, allocated, provenance
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, record.TransactionID, i, item.Title, item.Price, item.Category,
				item.Confidence, item.Allocated, string(item.Provenance)); err != nil {
				return fmt.Errorf("failed to save matched item: %w", err)
			}
		}

		return nil
	})
}

// GetProcessedIDs returns every processed transaction id with its current status.
func (s *SQLiteStorage) GetProcessedIDs(ctx context.Context) (map[string]model.SyncStatus, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT transaction_id, status FROM sync_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]model.SyncStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan processed id: %w", err)
		}
		ids[id] = model.SyncStatus(status)
	}

	return ids, rows.Err()
}

// GetSyncRecordsByStatus returns all records in the given lifecycle state,
// oldest first.
func (s *SQLiteStorage) GetSyncRecordsByStatus(ctx context.Context, status model.SyncStatus) ([]model.SyncRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.querySyncRecords(ctx, `
		SELECT transaction_id, channel, receipt_ref, status, amount, date, payee,
		       prev_memo, prev_category, suggestion_id, matched_at, enriched_at, resolved_at
		FROM sync_records
		WHERE status = ?
		ORDER BY date ASC
	`, string(status))
}

// FindRefundCandidates returns applied records on the given channel dated on
// or after since, newest first, for refund matching.
func (s *SQLiteStorage) FindRefundCandidates(ctx context.Context, channel model.Channel, since time.Time) ([]model.SyncRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.querySyncRecords(ctx, `
		SELECT transaction_id, channel, receipt_ref, status, amount, date, payee,
		       prev_memo, prev_category, suggestion_id, matched_at, enriched_at, resolved_at
		FROM sync_records
		WHERE channel = ? AND date >= ? AND status IN (?, ?)
		ORDER BY date DESC
	`, string(channel), since, string(model.StatusAutoApplied), string(model.StatusApplied))
}

func (s *SQLiteStorage) querySyncRecords(ctx context.Context, query string, args ...any) ([]model.SyncRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Two passes: the pool holds a single connection, so the item query must
	// wait until the record cursor has been fully drained.
	var records []model.SyncRecord
	for rows.Next() {
		record, err := s.scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close sync record cursor: %w", err)
	}

	for i := range records {
		if err := s.loadItems(ctx, &records[i]); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStorage) scanSyncRecord(row rowScanner) (*model.SyncRecord, error) {
	var record model.SyncRecord
	var channel, status string
	var matchedAt, enrichedAt, resolvedAt sql.NullTime

	err := row.Scan(
		&record.TransactionID, &channel, &record.ReceiptRef, &status,
		&record.Amount, &record.Date, &record.Payee,
		&record.PrevMemo, &record.PrevCategory, &record.SuggestionID,
		&matchedAt, &enrichedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Channel = model.Channel(channel)
	record.Status = model.SyncStatus(status)
	record.MatchedAt = matchedAt.Time
	record.EnrichedAt = enrichedAt.Time
	record.ResolvedAt = resolvedAt.Time

	return &record, nil
}

func (s *SQLiteStorage) loadItems(ctx context.Context, record *model.SyncRecord) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, price, category, confidence, allocated, provenance
		FROM matched_items
		WHERE transaction_id = ?
		ORDER BY position ASC
	`, record.TransactionID)
	if err != nil {
		return fmt.Errorf("failed to query matched items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item model.MatchedItem
		var provenance string
		if err := rows.Scan(&item.Title, &item.Price, &item.Category,
			&item.Confidence, &item.Allocated, &provenance); err != nil {
			return fmt.Errorf("failed to scan matched item: %w", err)
		}
		item.Provenance = model.Provenance(provenance)
		record.Items = append(record.Items, item)
	}

	return rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
