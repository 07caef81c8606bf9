package model

import (
	"strings"
	"time"
)

// SyncStatus tracks the lifecycle of a sync record.
type SyncStatus string

// Sync record lifecycle states.
const (
	StatusMatched         SyncStatus = "MATCHED"
	StatusEnriched        SyncStatus = "ENRICHED"
	StatusAutoApplied     SyncStatus = "AUTO_APPLIED"
	StatusPendingApproval SyncStatus = "PENDING_APPROVAL"
	StatusApplied         SyncStatus = "APPLIED"
	StatusSkipped         SyncStatus = "SKIPPED"
	StatusUnmatched       SyncStatus = "UNMATCHED"
	StatusRefundApplied   SyncStatus = "REFUND_APPLIED"
	StatusUndone          SyncStatus = "UNDONE"
)

// IsResolved reports whether the record has reached a terminal state for the
// current processing cycle. Undone records are deliberately not resolved: they
// become eligible for reprocessing on the next run.
func (s SyncStatus) IsResolved() bool {
	switch s {
	case StatusAutoApplied, StatusApplied, StatusSkipped, StatusUnmatched, StatusRefundApplied:
		return true
	default:
		return false
	}
}

// MatchedItem is one receipt line item after allocation and classification.
// Price is the item's receipt subtotal; Allocated is its share of the full
// transaction amount including distributed tax/shipping.
type MatchedItem struct {
	Title      string
	Category   string
	Provenance Provenance
	Price      int64
	Allocated  int64
	Confidence float64
}

// SyncRecord is the durable per-transaction processing record. Its primary key
// is the ledger transaction id, which enforces at-most-once processing.
type SyncRecord struct {
	Date          time.Time
	MatchedAt     time.Time
	EnrichedAt    time.Time
	ResolvedAt    time.Time
	TransactionID string
	Channel       Channel
	ReceiptRef    string
	Status        SyncStatus
	Payee         string
	// PrevMemo and PrevCategory capture the transaction's pre-mutation state
	// at enrichment time so an undo can restore it exactly.
	PrevMemo     string
	PrevCategory string
	SuggestionID string
	Items        []MatchedItem
	Amount       int64
}

// EnrichedMemo builds the memo written to the ledger at enrichment time.
// Unmatched charges keep their own memo with a tag appended instead of an
// item summary.
func (r *SyncRecord) EnrichedMemo() string {
	if len(r.Items) == 0 {
		if r.ReceiptRef == "" {
			if r.PrevMemo != "" {
				return r.PrevMemo + " (unmatched charge)"
			}
			return "unmatched charge"
		}
		return "receipt " + r.ReceiptRef
	}

	titles := make([]string, len(r.Items))
	for i, item := range r.Items {
		titles[i] = item.Title
	}
	memo := strings.Join(titles, ", ")
	if r.ReceiptRef != "" {
		memo += " (receipt " + r.ReceiptRef + ")"
	}
	return memo
}

// AllocatedTotal sums the allocated amounts over all matched items.
func (r *SyncRecord) AllocatedTotal() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.Allocated
	}
	return total
}
