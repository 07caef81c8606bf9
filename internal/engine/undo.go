package engine

import (
	"context"
	"fmt"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
)

// Undo reverts a previously applied categorization by deleting and recreating
// the transaction with its pre-enrichment memo and category. The record is
// marked UNDONE, which makes the transaction eligible for reprocessing on the
// next run.
func (e *Engine) Undo(ctx context.Context, transactionID string) error {
	record, err := e.storage.GetSyncRecord(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load sync record: %w", err)
	}

	switch record.Status {
	case model.StatusAutoApplied, model.StatusApplied, model.StatusRefundApplied:
		// These wrote to the ledger and can be unwound.
	case model.StatusUndone:
		return nil
	default:
		return common.NewUserError(
			fmt.Sprintf("transaction %s has no applied categorization to undo", transactionID), nil)
	}

	// Splits cannot be un-split in place; delete-and-recreate restores the
	// original transaction under the same id.
	original := model.Transaction{
		ID:       record.TransactionID,
		Date:     record.Date,
		Payee:    record.Payee,
		Memo:     record.PrevMemo,
		Category: record.PrevCategory,
		Amount:   record.Amount,
	}
	if err := e.ledger.ReplaceTransaction(ctx, original); err != nil {
		return fmt.Errorf("failed to restore transaction: %w", err)
	}

	record.Status = model.StatusUndone
	record.ResolvedAt = e.now()
	if err := e.storage.SaveSyncRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to save undone record: %w", err)
	}

	e.logger.Info("categorization undone", "transaction_id", transactionID)
	return nil
}
