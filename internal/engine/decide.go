package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillon/receiptwise/internal/approve"
	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
	"github.com/quillon/receiptwise/internal/patterns"
)

// decide applies the decision rules to an enriched record. It either applies
// the categorization immediately (setting AUTO_APPLIED) or leaves the record
// ENRICHED for the approval batch.
//
// The rules, in order:
//  1. A single-item record with a category is applied without asking; the
//     whole charge is that item, so there is nothing to split or argue about.
//  2. In autonomous mode, a record whose every item is backed by a vetted
//     mapping at or above the confidence threshold is applied, with a post-hoc
//     summary instead of a question.
//  3. Everything else waits for approval.
func (e *Engine) decide(ctx context.Context, record *model.SyncRecord, autonomous bool) error {
	if len(record.Items) == 1 && record.Items[0].Category != "" {
		return e.autoApply(ctx, record, false)
	}

	if autonomous && e.allItemsVetted(record) {
		return e.autoApply(ctx, record, true)
	}

	return nil
}

// allItemsVetted reports whether every item rests on a human-vetted mapping
// with confidence at or above the auto-apply threshold. Oracle guesses never
// qualify no matter how confident they claim to be.
func (e *Engine) allItemsVetted(record *model.SyncRecord) bool {
	if len(record.Items) == 0 {
		return false
	}
	for _, item := range record.Items {
		if !item.Provenance.Vetted() || item.Confidence < e.cfg.AutoApplyThreshold || item.Category == "" {
			return false
		}
	}
	return true
}

// autoApply writes the categorization to the ledger and, for autonomous
// applies, tells the household what happened after the fact.
func (e *Engine) autoApply(ctx context.Context, record *model.SyncRecord, summarize bool) error {
	if len(record.Items) == 1 {
		if err := e.ledger.UpdateCategory(ctx, record.TransactionID, record.Items[0].Category, record.EnrichedMemo()); err != nil {
			return fmt.Errorf("failed to apply category: %w", err)
		}
	} else {
		parts := make([]model.SplitPart, len(record.Items))
		for i, item := range record.Items {
			parts[i] = model.SplitPart{
				Amount:   item.Allocated,
				Category: item.Category,
				Memo:     item.Title,
			}
		}
		if err := e.ledger.ApplySplit(ctx, record.TransactionID, parts); err != nil {
			return fmt.Errorf("failed to apply split: %w", err)
		}
	}

	record.Status = model.StatusAutoApplied
	record.ResolvedAt = e.now()

	if summarize {
		if _, err := e.messenger.Send(ctx, approve.FormatAutoSummary(record)); err != nil {
			e.logger.Warn("failed to send auto-apply summary",
				"transaction_id", record.TransactionID, "error", err)
		}
	}

	e.logger.Info("auto-applied categorization",
		"transaction_id", record.TransactionID,
		"items", len(record.Items),
		"autonomous", summarize)

	return nil
}

// handleUnmatched routes a transaction without a usable receipt match. Only a
// clean no-match may fall back to the known charge patterns; an ambiguous tie
// is never silently resolved and goes straight to the manual ask, as does
// anything no pattern covers.
func (e *Engine) handleUnmatched(ctx context.Context, record *model.SyncRecord, txn model.Transaction, matchErr error) (*model.SyncRecord, error) {
	var pattern *patterns.Match
	if errors.Is(matchErr, common.ErrNoMatch) {
		pattern = e.patterns.Match(txn.Payee, txn.Memo)
	}

	if pattern != nil {
		// The memo is left alone: a subscription charge's own description is
		// better than an "unmatched" tag.
		if err := e.ledger.UpdateCategory(ctx, txn.ID, pattern.Category, txn.Memo); err != nil {
			return nil, fmt.Errorf("failed to apply pattern category: %w", err)
		}
		record.Status = model.StatusAutoApplied
		record.ResolvedAt = e.now()

		e.logger.Info("pattern categorization applied",
			"transaction_id", txn.ID,
			"pattern", pattern.PatternName,
			"category", pattern.Category)
	} else {
		record.Status = model.StatusUnmatched
		// Tag the ledger memo when the charge is routed to approval, not at
		// resolution: the household sees the flag next to the question.
		if err := e.ledger.UpdateMemo(ctx, txn.ID, record.EnrichedMemo()); err != nil {
			return nil, fmt.Errorf("failed to tag unmatched memo: %w", err)
		}
		e.logger.Info("no receipt matched",
			"transaction_id", txn.ID,
			"payee", txn.Payee,
			"ambiguous", errors.Is(matchErr, common.ErrAmbiguousMatch))
	}

	if err := e.storage.SaveSyncRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save sync record: %w", err)
	}
	return record, nil
}
