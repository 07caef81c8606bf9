// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/quillon/receiptwise/internal/model"
)

// Storage defines the contract for the engine's persistence layer: sync
// records, the learned mapping store, the sync config singleton, and pending
// suggestions.
type Storage interface {
	// Sync record operations
	GetSyncRecord(ctx context.Context, transactionID string) (*model.SyncRecord, error)
	SaveSyncRecord(ctx context.Context, record *model.SyncRecord) error
	GetProcessedIDs(ctx context.Context) (map[string]model.SyncStatus, error)
	GetSyncRecordsByStatus(ctx context.Context, status model.SyncStatus) ([]model.SyncRecord, error)
	FindRefundCandidates(ctx context.Context, channel model.Channel, since time.Time) ([]model.SyncRecord, error)

	// Mapping store operations
	GetMapping(ctx context.Context, key string) (*model.MappingEntry, error)
	SaveMapping(ctx context.Context, entry *model.MappingEntry) error
	GetAllMappings(ctx context.Context) ([]model.MappingEntry, error)
	GetVettedMappings(ctx context.Context) ([]model.MappingEntry, error)

	// Sync config singleton
	GetSyncConfig(ctx context.Context) (*model.SyncConfig, error)
	SaveSyncConfig(ctx context.Context, cfg *model.SyncConfig) error

	// Pending suggestion operations
	SavePendingSuggestion(ctx context.Context, suggestion *model.PendingSuggestion) error
	GetOpenSuggestion(ctx context.Context) (*model.PendingSuggestion, error)
	GetExpiredSuggestions(ctx context.Context, before time.Time) ([]model.PendingSuggestion, error)
	DeletePendingSuggestion(ctx context.Context, id string) error

	// Run lock: one sync run at a time across every process sharing the
	// database. A lock older than staleAfter is treated as abandoned.
	AcquireRunLock(ctx context.Context, owner string, staleAfter time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, owner string) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// LedgerClient is the adapter to the household's budgeting ledger. All
// operations are keyed by a stable transaction id.
type LedgerClient interface {
	// GetTransactions returns posted transactions whose payee contains the
	// given substring, dated on or after since. The caller filters out ids it
	// has already processed.
	GetTransactions(ctx context.Context, payeeFilter string, since time.Time) ([]model.Transaction, error)
	GetCategories(ctx context.Context) ([]model.Category, error)
	UpdateMemo(ctx context.Context, transactionID, memo string) error
	UpdateCategory(ctx context.Context, transactionID, category, memo string) error
	// ApplySplit replaces the transaction's categorization with an ordered
	// split whose parts must sum to the parent amount.
	ApplySplit(ctx context.Context, transactionID string, parts []model.SplitPart) error
	// ReplaceTransaction deletes and recreates a transaction in one atomic
	// operation. Splits cannot be un-split incrementally, so undo goes
	// through this.
	ReplaceTransaction(ctx context.Context, txn model.Transaction) error
}

// ReceiptSource is the extraction collaborator that turns raw purchase
// notifications into structured receipts. It is opaque and best-effort:
// missing fields are allowed and an unparsable source yields no candidate.
type ReceiptSource interface {
	FetchReceipts(ctx context.Context, channel model.Channel, since time.Time) ([]model.Receipt, error)
}

// OracleRequest carries one line item to the classification oracle along with
// the household's category list and a few recent learned examples.
type OracleRequest struct {
	Title      string
	Categories []model.Category
	Examples   []model.MappingEntry
	Price      int64
}

// OracleResult is the oracle's answer for a single item.
type OracleResult struct {
	Category   string
	Confidence float64
}

// Oracle is the external classification collaborator. It must be called with
// a short timeout and treated as fallible.
type Oracle interface {
	ClassifyItem(ctx context.Context, req OracleRequest) (OracleResult, error)
}

// Messenger sends one outbound text message to the household's primary
// contact. Long content is split by the implementation; the returned id
// identifies the first message sent.
type Messenger interface {
	Send(ctx context.Context, text string) (messageID string, err error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
