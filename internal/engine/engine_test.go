package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
	"github.com/quillon/receiptwise/internal/service"
	"github.com/quillon/receiptwise/internal/testutil"
)

type engineFixture struct {
	engine    *Engine
	storage   service.Storage
	ledger    *mockLedger
	receipts  *mockReceipts
	oracle    *mockOracle
	messenger *mockMessenger
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()

	store := testutil.SetupTestDB(t)
	ledger := newMockLedger("Groceries", "Home", "Electronics", "Pets", "Subscriptions", "Gifts")
	receipts := newMockReceipts()
	oracle := newMockOracle()
	messenger := &mockMessenger{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := New(Deps{
		Storage:   store,
		Ledger:    ledger,
		Receipts:  receipts,
		Oracle:    oracle,
		Messenger: messenger,
		Logger:    logger,
	}, cfg)
	require.NoError(t, err)

	return &engineFixture{
		engine:    eng,
		storage:   store,
		ledger:    ledger,
		receipts:  receipts,
		oracle:    oracle,
		messenger: messenger,
	}
}

func daysAgo(n int) time.Time {
	return time.Now().AddDate(0, 0, -n).Truncate(24 * time.Hour)
}

// The canonical three-item marketplace order: the charge includes $7.01 of
// tax and shipping on top of the listed item prices.
func (f *engineFixture) seedMarketplaceOrder() {
	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-1",
		Date:   daysAgo(2),
		Payee:  "AMZN Mktp US",
		Memo:   "card purchase",
		Amount: 8742,
	})
	f.receipts.add(model.ChannelMarketplace, model.Receipt{
		Date:      daysAgo(3),
		Reference: "112-7766",
		Total:     8742,
		Items: []model.LineItem{
			{Title: "Coffee Maker Deluxe", UnitPrice: 2499, Quantity: 1},
			{Title: "Dog Food 30lb", UnitPrice: 4243, Quantity: 1},
			{Title: "USB Cable", UnitPrice: 1299, Quantity: 1},
		},
	})
	f.oracle.answer("Coffee Maker Deluxe", "Home", 0.82)
	f.oracle.answer("Dog Food 30lb", "Pets", 0.75)
	f.oracle.answer("USB Cable", "Electronics", 0.9)
}

func TestSync_EndToEnd(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	f.seedMarketplaceOrder()

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TransactionsSeen)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.AskedApproval)
	assert.Equal(t, 0, stats.AutoApplied)

	// The memo was enriched as soon as the match landed.
	memo := f.ledger.memoUpdates["txn-1"]
	assert.Contains(t, memo, "Coffee Maker Deluxe")
	assert.Contains(t, memo, "Dog Food 30lb")
	assert.Contains(t, memo, "USB Cable")
	assert.Contains(t, memo, "112-7766")

	// Oracle-sourced suggestions go to approval, never straight to the ledger.
	assert.Empty(t, f.ledger.splits)
	messages := f.messenger.messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "1️⃣")
	assert.Contains(t, messages[0], "$87.42")

	// Item prices survive exactly; allocations absorb the overhead.
	record, err := f.storage.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	require.Len(t, record.Items, 3)
	assert.Equal(t, int64(2499), record.Items[0].Price)
	assert.Equal(t, int64(8742), record.AllocatedTotal())

	// Approving writes the split, which reconciles to the charge exactly.
	_, err = f.engine.HandleReply(ctx, "1 yes")
	require.NoError(t, err)

	parts := f.ledger.splits["txn-1"]
	require.Len(t, parts, 3)
	var total int64
	for _, part := range parts {
		total += part.Amount
	}
	assert.Equal(t, int64(8742), total)

	record, err = f.storage.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApplied, record.Status)
}

func TestSync_SecondRunIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	f.seedMarketplaceOrder()

	_, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	_, err = f.engine.HandleReply(ctx, "1 yes")
	require.NoError(t, err)

	writesBefore := f.ledger.writeCount()
	messagesBefore := len(f.messenger.messages())

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.TransactionsSeen)
	assert.Equal(t, writesBefore, f.ledger.writeCount())
	assert.Len(t, f.messenger.messages(), messagesBefore)
}

func TestSync_SingleItemAutoApplies(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-2",
		Date:   daysAgo(1),
		Payee:  "AMZN Mktp US",
		Amount: 1299,
	})
	f.receipts.add(model.ChannelMarketplace, model.Receipt{
		Date:      daysAgo(1),
		Reference: "112-8899",
		Total:     1299,
		Items:     []model.LineItem{{Title: "USB Cable", UnitPrice: 1299, Quantity: 1}},
	})
	// Low confidence does not matter: the whole charge is this one item.
	f.oracle.answer("USB Cable", "Electronics", 0.3)

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoApplied)
	assert.Equal(t, 0, stats.AskedApproval)

	assert.Equal(t, "Electronics", f.ledger.categoryUpdates["txn-2"])
	assert.Empty(t, f.messenger.messages())

	record, err := f.storage.GetSyncRecord(ctx, "txn-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAutoApplied, record.Status)
}

func TestSync_PatternChargeGetsDefaultCategory(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-3",
		Date:   daysAgo(1),
		Payee:  "APPLE.COM/BILL",
		Memo:   "iCloud 200GB",
		Amount: 299,
	})

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoApplied)

	assert.Equal(t, "Subscriptions", f.ledger.categoryUpdates["txn-3"])
	assert.Empty(t, f.messenger.messages())
}

func TestSync_AmbiguousMatchNeverPatternResolved(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	// A charge the pattern table knows, but with two receipts tied for the
	// match: the tie goes to the household, not to the pattern default.
	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-6",
		Date:   daysAgo(1),
		Payee:  "APPLE.COM/BILL",
		Memo:   "iCloud 200GB",
		Amount: 299,
	})
	f.receipts.add(model.ChannelSubscription, model.Receipt{
		Date: daysAgo(1), Reference: "sub-1", Total: 299,
	})
	f.receipts.add(model.ChannelSubscription, model.Receipt{
		Date: daysAgo(1), Reference: "sub-2", Total: 299,
	})

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.AutoApplied)
	assert.Equal(t, 1, stats.Unmatched)
	assert.Equal(t, 1, stats.AskedApproval)

	assert.Empty(t, f.ledger.categoryUpdates)
	assert.Equal(t, "iCloud 200GB (unmatched charge)", f.ledger.memoUpdates["txn-6"])
}

func TestSync_UnmatchedChargeBecomesManualAsk(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-4",
		Date:   daysAgo(1),
		Payee:  "VENMO PAYMENT JORDAN",
		Memo:   "payment to jordan",
		Amount: 3500,
	})

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unmatched)
	assert.Equal(t, 1, stats.AskedApproval)

	// The ledger memo is flagged as soon as the charge is routed to approval.
	assert.Equal(t, "payment to jordan (unmatched charge)", f.ledger.memoUpdates["txn-4"])

	messages := f.messenger.messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "What category should this be?")

	// The household's answer categorizes the charge and teaches the payee.
	_, err = f.engine.HandleReply(ctx, "1 Groceries")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", f.ledger.categoryUpdates["txn-4"])

	entry, err := f.storage.GetMapping(ctx, "venmo payment jordan")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", entry.Category)
}

func TestSync_AutonomousAppliesVettedSplit(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	f.seedMarketplaceOrder()

	// Every item is backed by a human-vetted mapping above the threshold.
	for key, category := range map[string]string{
		"coffee maker deluxe": "Home",
		"dog food 30lb":       "Pets",
		"usb cable":           "Electronics",
	} {
		require.NoError(t, f.storage.SaveMapping(ctx, &model.MappingEntry{
			Key:        key,
			Category:   category,
			Provenance: model.ProvenanceApproved,
			Confidence: 0.95,
		}))
	}
	cfg, err := f.storage.GetSyncConfig(ctx)
	require.NoError(t, err)
	cfg.Autonomous = true
	cfg.GraduationProposed = true
	require.NoError(t, f.storage.SaveSyncConfig(ctx, cfg))

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoApplied)
	assert.Equal(t, 0, stats.AskedApproval)

	parts := f.ledger.splits["txn-1"]
	require.Len(t, parts, 3)

	// Post-hoc summary, not a question.
	messages := f.messenger.messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "automatically")
	assert.Contains(t, messages[0], "undo txn-1")
	assert.Equal(t, 0, f.oracle.calls)
}

func TestSync_AutonomousNeverTrustsOracleGuesses(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	f.seedMarketplaceOrder()

	// Oracle claims perfect confidence, but nothing is vetted.
	f.oracle.answer("Coffee Maker Deluxe", "Home", 1.0)
	f.oracle.answer("Dog Food 30lb", "Pets", 1.0)
	f.oracle.answer("USB Cable", "Electronics", 1.0)

	cfg, err := f.storage.GetSyncConfig(ctx)
	require.NoError(t, err)
	cfg.Autonomous = true
	cfg.GraduationProposed = true
	require.NoError(t, f.storage.SaveSyncConfig(ctx, cfg))

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.AutoApplied)
	assert.Equal(t, 1, stats.AskedApproval)
	assert.Empty(t, f.ledger.splits)
}

func TestSync_RefundMatchesItemLevel(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	// A previously applied three-way split.
	require.NoError(t, f.storage.SaveSyncRecord(ctx, &model.SyncRecord{
		TransactionID: "txn-orig",
		Date:          daysAgo(10),
		Channel:       model.ChannelMarketplace,
		ReceiptRef:    "112-7766",
		Status:        model.StatusApplied,
		Payee:         "AMZN Mktp US",
		Amount:        8742,
		Items: []model.MatchedItem{
			{Title: "Coffee Maker Deluxe", Category: "Home", Provenance: model.ProvenanceApproved, Price: 2499, Allocated: 2718},
			{Title: "Dog Food 30lb", Category: "Pets", Provenance: model.ProvenanceApproved, Price: 4243, Allocated: 4613},
			{Title: "USB Cable", Category: "Electronics", Provenance: model.ProvenanceApproved, Price: 1299, Allocated: 1411},
		},
	}))

	// The coffee maker comes back: a credit for exactly its allocated share.
	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-refund",
		Date:   daysAgo(2),
		Payee:  "AMZN Mktp US",
		Amount: -2718,
	})

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Refunded)

	assert.Equal(t, "Home", f.ledger.categoryUpdates["txn-refund"])

	record, err := f.storage.GetSyncRecord(ctx, "txn-refund")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefundApplied, record.Status)
	assert.Equal(t, "112-7766", record.ReceiptRef)
}

func TestSync_WholeOrderRefundMirrorsSplit(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.storage.SaveSyncRecord(ctx, &model.SyncRecord{
		TransactionID: "txn-orig",
		Date:          daysAgo(5),
		Channel:       model.ChannelMarketplace,
		ReceiptRef:    "112-7766",
		Status:        model.StatusAutoApplied,
		Payee:         "AMZN Mktp US",
		Amount:        8742,
		Items: []model.MatchedItem{
			{Title: "Coffee Maker Deluxe", Category: "Home", Allocated: 2718},
			{Title: "Dog Food 30lb", Category: "Pets", Allocated: 4613},
			{Title: "USB Cable", Category: "Electronics", Allocated: 1411},
		},
	}))

	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-refund",
		Date:   daysAgo(1),
		Payee:  "AMZN Mktp US",
		Amount: -8742,
	})

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Refunded)

	parts := f.ledger.splits["txn-refund"]
	require.Len(t, parts, 3)
	var total int64
	for _, part := range parts {
		total += part.Amount
	}
	assert.Equal(t, int64(-8742), total)
	assert.Equal(t, "Home", parts[0].Category)
}

func TestSync_UnmatchedRefundBecomesManualAsk(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	f.ledger.transactions = append(f.ledger.transactions, model.Transaction{
		ID:     "txn-refund",
		Date:   daysAgo(1),
		Payee:  "AMZN Mktp US",
		Amount: -999,
	})

	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unmatched)
	assert.Equal(t, 1, stats.AskedApproval)

	record, err := f.storage.GetSyncRecord(ctx, "txn-refund")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingApproval, record.Status)
}

func TestUndo(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	f.seedMarketplaceOrder()

	_, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	_, err = f.engine.HandleReply(ctx, "1 yes")
	require.NoError(t, err)

	response, err := f.engine.HandleReply(ctx, "undo txn-1")
	require.NoError(t, err)
	assert.Contains(t, response, "txn-1")

	// The original transaction came back exactly as it was pre-enrichment.
	restored, ok := f.ledger.replaced["txn-1"]
	require.True(t, ok)
	assert.Equal(t, "card purchase", restored.Memo)
	assert.Equal(t, "", restored.Category)
	assert.Equal(t, int64(8742), restored.Amount)

	record, err := f.storage.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUndone, record.Status)

	// An undone transaction is fair game for the next run.
	stats, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TransactionsSeen)
}

func TestUndo_NothingApplied(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.storage.SaveSyncRecord(ctx, &model.SyncRecord{
		TransactionID: "txn-5",
		Date:          daysAgo(1),
		Channel:       model.ChannelMarketplace,
		Status:        model.StatusSkipped,
		Payee:         "AMZN Mktp US",
		Amount:        1000,
	}))

	err := f.engine.Undo(ctx, "txn-5")
	require.Error(t, err)

	var userErr *common.UserError
	assert.ErrorAs(t, err, &userErr)
	assert.Empty(t, f.ledger.replaced)
}

func TestSync_RunLock(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()

	f.ledger.blockCategories = make(chan struct{})
	f.ledger.enteredCategories = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Sync(ctx)
		done <- err
	}()

	<-f.ledger.enteredCategories
	_, err := f.engine.Sync(ctx)
	assert.ErrorIs(t, err, common.ErrRunInProgress)

	close(f.ledger.blockCategories)
	require.NoError(t, <-done)
}

func TestSync_RunLockSpansProcesses(t *testing.T) {
	f := newEngineFixture(t, Config{})
	ctx := context.Background()
	f.seedMarketplaceOrder()

	f.ledger.blockCategories = make(chan struct{})
	f.ledger.enteredCategories = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Sync(ctx)
		done <- err
	}()
	<-f.ledger.enteredCategories

	// A second engine on the same database with its own collaborators, as
	// when a manual `sync` overlaps the scheduled run in another process.
	otherLedger := newMockLedger("Groceries", "Home", "Electronics", "Pets")
	otherLedger.transactions = f.ledger.transactions
	otherMessenger := &mockMessenger{}
	other, err := New(Deps{
		Storage:   f.storage,
		Ledger:    otherLedger,
		Receipts:  f.receipts,
		Oracle:    f.oracle,
		Messenger: otherMessenger,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{})
	require.NoError(t, err)

	_, err = other.Sync(ctx)
	assert.ErrorIs(t, err, common.ErrRunInProgress)
	assert.Equal(t, 0, otherLedger.writeCount())

	close(f.ledger.blockCategories)
	require.NoError(t, <-done)

	// Only the first run processed the charge, and the lock is free again.
	assert.Len(t, f.messenger.messages(), 1)
	stats, err := other.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TransactionsSeen)
	assert.Empty(t, otherMessenger.messages())
}
