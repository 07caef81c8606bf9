package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
)

func TestSyncRecord_RoundTrip(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	record := &model.SyncRecord{
		TransactionID: "txn-100",
		Channel:       model.ChannelMarketplace,
		ReceiptRef:    "order-555",
		Status:        model.StatusEnriched,
		Amount:        8742,
		Date:          time.Date(2025, 2, 23, 0, 0, 0, 0, time.UTC),
		Payee:         "Amazon.com",
		PrevMemo:      "old memo",
		PrevCategory:  "Uncategorized",
		MatchedAt:     time.Date(2025, 2, 24, 8, 0, 0, 0, time.UTC),
		EnrichedAt:    time.Date(2025, 2, 24, 8, 0, 1, 0, time.UTC),
		Items: []model.MatchedItem{
			{Title: "usb cable", Price: 2499, Category: "Electronics", Confidence: 0.92, Allocated: 2499, Provenance: model.ProvenanceApproved},
			{Title: "coffee beans", Price: 4243, Category: "Groceries", Confidence: 0.85, Allocated: 4243, Provenance: model.ProvenanceOracle},
			{Title: "socks", Price: 1299, Category: "Clothing", Confidence: 0.7, Allocated: 2000, Provenance: model.ProvenanceOracle},
		},
	}

	if err := store.SaveSyncRecord(ctx, record); err != nil {
		t.Fatalf("Failed to save sync record: %v", err)
	}

	got, err := store.GetSyncRecord(ctx, "txn-100")
	if err != nil {
		t.Fatalf("Failed to get sync record: %v", err)
	}

	if got.Status != model.StatusEnriched {
		t.Errorf("Status = %s, want %s", got.Status, model.StatusEnriched)
	}
	if got.Amount != 8742 {
		t.Errorf("Amount = %d, want 8742", got.Amount)
	}
	if got.PrevMemo != "old memo" || got.PrevCategory != "Uncategorized" {
		t.Errorf("Pre-mutation capture lost: memo=%q category=%q", got.PrevMemo, got.PrevCategory)
	}
	if len(got.Items) != 3 {
		t.Fatalf("Items = %d, want 3", len(got.Items))
	}
	if got.Items[0].Title != "usb cable" || got.Items[2].Title != "socks" {
		t.Errorf("Item order not preserved: %v", got.Items)
	}
	if got.Items[1].Provenance != model.ProvenanceOracle {
		t.Errorf("Item provenance = %s, want %s", got.Items[1].Provenance, model.ProvenanceOracle)
	}
	if got.ResolvedAt != (time.Time{}) {
		t.Errorf("ResolvedAt should be zero, got %v", got.ResolvedAt)
	}
}

func TestSyncRecord_NotFound(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.GetSyncRecord(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSyncRecord_UpsertReplacesItems(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	record := &model.SyncRecord{
		TransactionID: "txn-200",
		Status:        model.StatusMatched,
		Amount:        500,
		Date:          time.Now().UTC(),
		Items:         []model.MatchedItem{{Title: "a", Price: 500, Allocated: 500}},
	}
	if err := store.SaveSyncRecord(ctx, record); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	record.Status = model.StatusApplied
	record.Items = []model.MatchedItem{
		{Title: "b", Price: 300, Allocated: 300},
		{Title: "c", Price: 200, Allocated: 200},
	}
	if err := store.SaveSyncRecord(ctx, record); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	got, err := store.GetSyncRecord(ctx, "txn-200")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Status != model.StatusApplied {
		t.Errorf("Status = %s, want APPLIED", got.Status)
	}
	if len(got.Items) != 2 || got.Items[0].Title != "b" {
		t.Errorf("Items not replaced: %v", got.Items)
	}
}

func TestFindRefundCandidates(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	records := []*model.SyncRecord{
		{TransactionID: "old", Channel: model.ChannelMarketplace, Status: model.StatusApplied, Amount: 2499, Date: base.AddDate(0, 0, -40)},
		{TransactionID: "recent", Channel: model.ChannelMarketplace, Status: model.StatusAutoApplied, Amount: 2499, Date: base.AddDate(0, 0, -5),
			Items: []model.MatchedItem{{Title: "usb cable", Price: 2499, Allocated: 2499}}},
		{TransactionID: "pending", Channel: model.ChannelMarketplace, Status: model.StatusPendingApproval, Amount: 2499, Date: base.AddDate(0, 0, -3)},
		{TransactionID: "other-channel", Channel: model.ChannelPeerPayment, Status: model.StatusApplied, Amount: 2499, Date: base.AddDate(0, 0, -2)},
	}
	for _, r := range records {
		if err := store.SaveSyncRecord(ctx, r); err != nil {
			t.Fatalf("Failed to save %s: %v", r.TransactionID, err)
		}
	}

	got, err := store.FindRefundCandidates(ctx, model.ChannelMarketplace, base.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("FindRefundCandidates failed: %v", err)
	}

	if len(got) != 1 || got[0].TransactionID != "recent" {
		t.Errorf("Expected only 'recent', got %v", got)
	}
	if len(got[0].Items) != 1 || got[0].Items[0].Title != "usb cable" {
		t.Errorf("Candidate items not loaded: %v", got[0].Items)
	}
}

func TestGetSyncRecordsByStatus_MultipleRowsWithItems(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// Multiple result rows each needing an item fetch: with a single-connection
	// pool this only works if the record cursor is drained first.
	for i, id := range []string{"p1", "p2", "p3"} {
		record := &model.SyncRecord{
			TransactionID: id,
			Channel:       model.ChannelMarketplace,
			Status:        model.StatusPendingApproval,
			Amount:        1000,
			Date:          base.AddDate(0, 0, i),
			Items: []model.MatchedItem{
				{Title: "item-a-" + id, Price: 600, Allocated: 600},
				{Title: "item-b-" + id, Price: 400, Allocated: 400},
			},
		}
		if err := store.SaveSyncRecord(ctx, record); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	got, err := store.GetSyncRecordsByStatus(ctx, model.StatusPendingApproval)
	if err != nil {
		t.Fatalf("GetSyncRecordsByStatus failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(got))
	}
	for _, record := range got {
		if len(record.Items) != 2 {
			t.Errorf("%s items = %d, want 2", record.TransactionID, len(record.Items))
		}
	}
	if got[0].TransactionID != "p1" {
		t.Errorf("Expected oldest first, got %s", got[0].TransactionID)
	}
}

func TestGetProcessedIDs(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for _, r := range []*model.SyncRecord{
		{TransactionID: "t1", Status: model.StatusApplied, Amount: 100, Date: time.Now().UTC()},
		{TransactionID: "t2", Status: model.StatusUndone, Amount: 200, Date: time.Now().UTC()},
	} {
		if err := store.SaveSyncRecord(ctx, r); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	ids, err := store.GetProcessedIDs(ctx)
	if err != nil {
		t.Fatalf("GetProcessedIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 ids, got %d", len(ids))
	}
	if ids["t2"] != model.StatusUndone {
		t.Errorf("t2 status = %s, want UNDONE", ids["t2"])
	}
}
