package engine

import (
	"context"
	"fmt"

	"github.com/quillon/receiptwise/internal/model"
)

// processRefund matches a credit against a previously applied purchase within
// the refund lookback window and mirrors that purchase's categorization. A
// credit that matches nothing becomes a manual ask like any unmatched charge.
func (e *Engine) processRefund(ctx context.Context, channel model.Channel, txn model.Transaction, receipts []model.Receipt) (*model.SyncRecord, error) {
	record := &model.SyncRecord{
		TransactionID: txn.ID,
		Date:          txn.Date,
		Channel:       channel,
		Payee:         txn.Payee,
		Amount:        txn.Amount,
		PrevMemo:      txn.Memo,
		PrevCategory:  txn.Category,
	}

	// A refund receipt, when extraction produced one, pins the originating
	// order directly.
	var refundRef string
	if receipt, err := e.matcher.FindReceipt(txn, receipts); err == nil {
		refundRef = receipt.Reference
	}

	since := txn.Date.AddDate(0, 0, -e.cfg.RefundLookbackDays)
	candidates, err := e.storage.FindRefundCandidates(ctx, channel, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load refund candidates: %w", err)
	}

	original, item := e.matchRefund(txn.AbsAmount(), refundRef, candidates)
	if original == nil {
		record.Status = model.StatusUnmatched
		if err := e.ledger.UpdateMemo(ctx, txn.ID, record.EnrichedMemo()); err != nil {
			return nil, fmt.Errorf("failed to tag unmatched memo: %w", err)
		}
		e.logger.Info("refund matched no prior purchase",
			"transaction_id", txn.ID,
			"amount", txn.Amount)
		if err := e.storage.SaveSyncRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to save sync record: %w", err)
		}
		return record, nil
	}

	var category, memo string
	if item != nil {
		// Partial refund of one item.
		category = item.Category
		memo = fmt.Sprintf("refund: %s (receipt %s)", item.Title, original.ReceiptRef)
	} else {
		// Whole-order refund: a single-category order mirrors that category;
		// a split order is refunded as a mirrored split.
		memo = fmt.Sprintf("refund (receipt %s)", original.ReceiptRef)
		if len(original.Items) > 1 && !singleCategory(original.Items) {
			parts := make([]model.SplitPart, len(original.Items))
			for i, origItem := range original.Items {
				parts[i] = model.SplitPart{
					Amount:   -origItem.Allocated,
					Category: origItem.Category,
					Memo:     "refund: " + origItem.Title,
				}
			}
			if err := e.ledger.ApplySplit(ctx, txn.ID, parts); err != nil {
				return nil, fmt.Errorf("failed to apply refund split: %w", err)
			}
			record.ReceiptRef = original.ReceiptRef
			record.Status = model.StatusRefundApplied
			record.ResolvedAt = e.now()
			if err := e.storage.SaveSyncRecord(ctx, record); err != nil {
				return nil, fmt.Errorf("failed to save sync record: %w", err)
			}
			e.logger.Info("refund applied as mirrored split",
				"transaction_id", txn.ID,
				"original", original.TransactionID)
			return record, nil
		}
		if len(original.Items) > 0 {
			category = original.Items[0].Category
		} else {
			category = original.PrevCategory
		}
	}

	if err := e.ledger.UpdateCategory(ctx, txn.ID, category, memo); err != nil {
		return nil, fmt.Errorf("failed to apply refund category: %w", err)
	}

	record.ReceiptRef = original.ReceiptRef
	record.Status = model.StatusRefundApplied
	record.ResolvedAt = e.now()
	if err := e.storage.SaveSyncRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save sync record: %w", err)
	}

	e.logger.Info("refund applied",
		"transaction_id", txn.ID,
		"original", original.TransactionID,
		"category", category)

	return record, nil
}

// matchRefund finds the applied record the refund belongs to: a whole-order
// amount match, or a single item whose allocated share equals the refund.
// Candidates arrive newest first, so the first hit is the closest purchase.
func (e *Engine) matchRefund(amount int64, refundRef string, candidates []model.SyncRecord) (*model.SyncRecord, *model.MatchedItem) {
	for i := range candidates {
		candidate := &candidates[i]
		if refundRef != "" && candidate.ReceiptRef != refundRef {
			continue
		}

		if candidate.Amount == amount {
			return candidate, nil
		}

		var hit *model.MatchedItem
		for j := range candidate.Items {
			if candidate.Items[j].Allocated == amount {
				if hit != nil {
					// Two items with the same allocated share: ambiguous,
					// leave it to the household.
					hit = nil
					break
				}
				hit = &candidate.Items[j]
			}
		}
		if hit != nil {
			return candidate, hit
		}
	}
	return nil, nil
}

func singleCategory(items []model.MatchedItem) bool {
	for _, item := range items[1:] {
		if item.Category != items[0].Category {
			return false
		}
	}
	return true
}
