package storage

import (
	"context"
	"testing"
	"time"

	"github.com/quillon/receiptwise/internal/model"
)

func TestPendingSuggestion_SurvivesReload(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	suggestion := &model.PendingSuggestion{
		ID:        "sug-1",
		MessageID: "msg-abc",
		CreatedAt: time.Date(2025, 2, 24, 9, 0, 0, 0, time.UTC),
		Entries: []model.SuggestionEntry{
			{Ordinal: 1, TransactionID: "txn-1"},
			{Ordinal: 2, TransactionID: "txn-2", Manual: true},
		},
	}
	if err := store.SavePendingSuggestion(ctx, suggestion); err != nil {
		t.Fatalf("Failed to save suggestion: %v", err)
	}

	got, err := store.GetOpenSuggestion(ctx)
	if err != nil {
		t.Fatalf("Failed to get open suggestion: %v", err)
	}
	if got == nil {
		t.Fatal("Expected open suggestion, got nil")
	}
	if got.MessageID != "msg-abc" || len(got.Entries) != 2 {
		t.Errorf("Suggestion = %+v", got)
	}
	if entry := got.Entry(2); entry == nil || !entry.Manual || entry.TransactionID != "txn-2" {
		t.Errorf("Entry(2) = %+v", entry)
	}
	if got.Entry(3) != nil {
		t.Error("Entry(3) should be nil")
	}
}

func TestPendingSuggestion_NoneOpen(t *testing.T) {
	store := createTestStorage(t)

	got, err := store.GetOpenSuggestion(context.Background())
	if err != nil {
		t.Fatalf("GetOpenSuggestion failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil, got %+v", got)
	}
}

func TestPendingSuggestion_Expiry(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 25, 10, 0, 0, 0, time.UTC)

	stale := &model.PendingSuggestion{
		ID:        "stale",
		CreatedAt: now.Add(-25 * time.Hour),
		Entries:   []model.SuggestionEntry{{Ordinal: 1, TransactionID: "txn-old"}},
	}
	fresh := &model.PendingSuggestion{
		ID:        "fresh",
		CreatedAt: now.Add(-1 * time.Hour),
		Entries:   []model.SuggestionEntry{{Ordinal: 1, TransactionID: "txn-new"}},
	}
	for _, sug := range []*model.PendingSuggestion{stale, fresh} {
		if err := store.SavePendingSuggestion(ctx, sug); err != nil {
			t.Fatalf("Failed to save %s: %v", sug.ID, err)
		}
	}

	expired, err := store.GetExpiredSuggestions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GetExpiredSuggestions failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "stale" {
		t.Errorf("Expected only stale suggestion, got %v", expired)
	}

	if err := store.DeletePendingSuggestion(ctx, "stale"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	expired, err = store.GetExpiredSuggestions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GetExpiredSuggestions after delete failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Expected no expired suggestions after delete, got %v", expired)
	}
}
