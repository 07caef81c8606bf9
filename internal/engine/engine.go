// Package engine orchestrates a reconciliation run: fetch, match, allocate,
// classify, decide, and hand anything uncertain to the approval protocol.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quillon/receiptwise/internal/approve"
	"github.com/quillon/receiptwise/internal/classify"
	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/graduate"
	"github.com/quillon/receiptwise/internal/match"
	"github.com/quillon/receiptwise/internal/model"
	"github.com/quillon/receiptwise/internal/patterns"
	"github.com/quillon/receiptwise/internal/service"
)

// Config holds engine tuning knobs.
type Config struct {
	// LookbackDays bounds how far back a run fetches transactions and receipts.
	LookbackDays int
	// MatchWindowDays is the receipt date window around a transaction date.
	MatchWindowDays int
	// AutoApplyThreshold is the minimum per-item confidence for autonomous
	// application. Only vetted mappings count toward it.
	AutoApplyThreshold float64
	// RefundLookbackDays bounds how far back refunds search for their
	// originating purchase.
	RefundLookbackDays int
	// ApprovalTimeout is how long a pending suggestion waits before the sweep
	// skips it.
	ApprovalTimeout time.Duration
	// RunTimeout bounds a whole sync run. Zero means no limit.
	RunTimeout time.Duration
	// PatternFile optionally points at a YAML file of extra charge patterns.
	PatternFile string
}

func (c *Config) applyDefaults() {
	if c.LookbackDays <= 0 {
		c.LookbackDays = 30
	}
	if c.MatchWindowDays <= 0 {
		c.MatchWindowDays = match.DefaultWindowDays
	}
	if c.AutoApplyThreshold <= 0 {
		c.AutoApplyThreshold = 0.85
	}
	if c.RefundLookbackDays <= 0 {
		c.RefundLookbackDays = 30
	}
}

// channelSpec binds a source channel to the ledger payee filter that finds its
// transactions.
type channelSpec struct {
	channel     model.Channel
	payeeFilter string
}

var channelSpecs = []channelSpec{
	{channel: model.ChannelMarketplace, payeeFilter: "AMZN"},
	{channel: model.ChannelPeerPayment, payeeFilter: "PAYPAL"},
	{channel: model.ChannelSubscription, payeeFilter: "APPLE.COM/BILL"},
	{channel: model.ChannelMultiItem, payeeFilter: "VENMO"},
}

// RunStats summarizes one sync run.
type RunStats struct {
	TransactionsSeen int
	Matched          int
	AutoApplied      int
	AskedApproval    int
	Refunded         int
	Unmatched        int
	Swept            int
	ChannelFailures  int
}

// Engine wires the pipeline together. A single Engine is safe for concurrent
// use, but only one sync run may be in flight at a time.
type Engine struct {
	storage    service.Storage
	ledger     service.LedgerClient
	receipts   service.ReceiptSource
	messenger  service.Messenger
	matcher    *match.Matcher
	classifier *classify.Router
	patterns   *patterns.Table
	protocol   *approve.Protocol
	graduation *graduate.Controller
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
	running    atomic.Bool
	lockOwner  string
}

// Deps are the engine's external collaborators.
type Deps struct {
	Storage   service.Storage
	Ledger    service.LedgerClient
	Receipts  service.ReceiptSource
	Oracle    service.Oracle
	Messenger service.Messenger
	Logger    *slog.Logger
}

// New builds an engine from its collaborators.
func New(deps Deps, cfg Config) (*Engine, error) {
	cfg.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	table, err := patterns.NewTableFromConfig(cfg.PatternFile)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern table: %w", err)
	}

	return &Engine{
		storage:    deps.Storage,
		ledger:     deps.Ledger,
		receipts:   deps.Receipts,
		messenger:  deps.Messenger,
		matcher:    match.NewMatcher(cfg.MatchWindowDays),
		classifier: classify.NewRouter(deps.Storage, deps.Oracle, logger, 0),
		patterns:   table,
		protocol: approve.NewProtocol(deps.Storage, deps.Ledger, deps.Messenger, deps.Oracle, logger,
			approve.Config{Timeout: cfg.ApprovalTimeout}),
		graduation: graduate.NewController(deps.Storage, deps.Messenger, logger),
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		lockOwner:  uuid.NewString(),
	}, nil
}

// Sync runs one full reconciliation pass. Channels are processed concurrently
// with isolated failures; a broken channel never blocks the others.
func (e *Engine) Sync(ctx context.Context) (*RunStats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, common.ErrRunInProgress
	}
	defer e.running.Store(false)

	// The in-process flag only guards this Engine; a scheduled run and a
	// manual CLI invocation are separate processes, so the real guard is the
	// database lock. Release survives run-timeout cancellation.
	held, err := e.storage.AcquireRunLock(ctx, e.lockOwner, e.lockStaleAfter())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !held {
		return nil, common.ErrRunInProgress
	}
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := e.storage.ReleaseRunLock(releaseCtx, e.lockOwner); err != nil {
			e.logger.Warn("failed to release run lock", "error", err)
		}
	}()

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	stats := &RunStats{}

	// Expired approvals are swept before new work so the open-suggestion slot
	// is free for this run's batch.
	swept, err := e.protocol.SweepExpired(ctx)
	if err != nil {
		return nil, err
	}
	stats.Swept = swept

	cfg, err := e.storage.GetSyncConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync config: %w", err)
	}

	processed, err := e.storage.GetProcessedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load processed ids: %w", err)
	}

	categories, err := e.ledger.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	since := e.now().AddDate(0, 0, -e.cfg.LookbackDays)

	var (
		mu      sync.Mutex
		pending []*model.SyncRecord
		wg      sync.WaitGroup
	)

	for _, spec := range channelSpecs {
		wg.Add(1)
		go func(spec channelSpec) {
			defer wg.Done()

			channelPending, channelStats, err := e.syncChannel(ctx, spec, since, processed, categories, cfg.Autonomous)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.ChannelFailures++
				common.LogError(err, "channel sync failed", common.Fields{
					"channel": string(spec.channel),
				})
				return
			}
			pending = append(pending, channelPending...)
			stats.TransactionsSeen += channelStats.TransactionsSeen
			stats.Matched += channelStats.Matched
			stats.AutoApplied += channelStats.AutoApplied
			stats.Refunded += channelStats.Refunded
			stats.Unmatched += channelStats.Unmatched
		}(spec)
	}
	wg.Wait()

	if len(pending) > 0 {
		if err := e.protocol.SendSuggestions(ctx, pending); err != nil {
			return stats, fmt.Errorf("failed to send suggestions: %w", err)
		}
		stats.AskedApproval = len(pending)
	}

	if _, err := e.graduation.MaybePropose(ctx); err != nil {
		e.logger.Warn("graduation check failed", "error", err)
	}

	if err := e.touchLastRun(ctx); err != nil {
		e.logger.Warn("failed to record run time", "error", err)
	}

	e.logger.Info("sync run complete",
		"seen", stats.TransactionsSeen,
		"matched", stats.Matched,
		"auto_applied", stats.AutoApplied,
		"asked", stats.AskedApproval,
		"refunded", stats.Refunded,
		"unmatched", stats.Unmatched,
		"channel_failures", stats.ChannelFailures)

	return stats, nil
}

// syncChannel processes one channel end to end and returns the records that
// need household approval.
func (e *Engine) syncChannel(ctx context.Context, spec channelSpec, since time.Time, processed map[string]model.SyncStatus, categories []model.Category, autonomous bool) ([]*model.SyncRecord, *RunStats, error) {
	stats := &RunStats{}

	// Transient gateway errors get a few retries; auth failures bail out
	// immediately and fail the whole channel.
	var transactions []model.Transaction
	err := common.WithRetry(ctx, func() error {
		var fetchErr error
		transactions, fetchErr = e.ledger.GetTransactions(ctx, spec.payeeFilter, since)
		return fetchErr
	}, service.RetryOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	if len(transactions) == 0 {
		return nil, stats, nil
	}

	var receipts []model.Receipt
	err = common.WithRetry(ctx, func() error {
		var fetchErr error
		receipts, fetchErr = e.receipts.FetchReceipts(ctx, spec.channel, since.AddDate(0, 0, -e.cfg.MatchWindowDays))
		return fetchErr
	}, service.RetryOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch receipts: %w", err)
	}

	var pending []*model.SyncRecord
	for _, txn := range transactions {
		// Undone records are deliberately reprocessable; everything else with
		// a sync record is skipped.
		if status, seen := processed[txn.ID]; seen && status != model.StatusUndone {
			continue
		}
		stats.TransactionsSeen++

		var record *model.SyncRecord
		if txn.IsRefundCandidate() {
			record, err = e.processRefund(ctx, spec.channel, txn, receipts)
		} else {
			record, err = e.processPurchase(ctx, spec.channel, txn, receipts, categories, autonomous)
		}
		if err != nil {
			// One bad transaction must not sink the channel.
			common.LogError(err, "transaction processing failed", common.Fields{
				"transaction_id": txn.ID,
				"channel":        string(spec.channel),
			})
			continue
		}

		switch record.Status {
		case model.StatusAutoApplied:
			stats.AutoApplied++
			stats.Matched++
		case model.StatusRefundApplied:
			stats.Refunded++
		case model.StatusEnriched:
			stats.Matched++
			pending = append(pending, record)
		case model.StatusUnmatched:
			stats.Unmatched++
			pending = append(pending, record)
		}
	}

	return pending, stats, nil
}

// processPurchase takes one unprocessed charge through match, allocate,
// classify, and the decision rules. The returned record has been persisted;
// records left in ENRICHED or UNMATCHED state are the caller's to batch into
// an approval message.
func (e *Engine) processPurchase(ctx context.Context, channel model.Channel, txn model.Transaction, receipts []model.Receipt, categories []model.Category, autonomous bool) (*model.SyncRecord, error) {
	record := &model.SyncRecord{
		TransactionID: txn.ID,
		Date:          txn.Date,
		Channel:       channel,
		Payee:         txn.Payee,
		Amount:        txn.Amount,
		PrevMemo:      txn.Memo,
		PrevCategory:  txn.Category,
	}

	receipt, err := e.matcher.FindReceipt(txn, receipts)
	if err != nil {
		return e.handleUnmatched(ctx, record, txn, err)
	}

	record.ReceiptRef = receipt.Reference
	record.MatchedAt = e.now()
	record.Status = model.StatusMatched

	allocations := match.Allocate(txn.AbsAmount(), receipt.Items)
	for i, item := range receipt.Items {
		result, err := e.classifier.ClassifyItem(ctx, item, categories)
		if err != nil {
			return nil, fmt.Errorf("failed to classify %q: %w", item.Title, err)
		}
		record.Items = append(record.Items, model.MatchedItem{
			Title:      item.Title,
			Category:   result.Category,
			Provenance: result.Provenance,
			Price:      item.Subtotal(),
			Allocated:  allocations[i],
			Confidence: result.Confidence,
		})
	}

	// Enrichment happens for every matched transaction, approved or not. The
	// pre-mutation memo was captured above so undo can restore it.
	if err := e.ledger.UpdateMemo(ctx, txn.ID, record.EnrichedMemo()); err != nil {
		return nil, fmt.Errorf("failed to enrich memo: %w", err)
	}
	record.EnrichedAt = e.now()
	record.Status = model.StatusEnriched

	if err := e.decide(ctx, record, autonomous); err != nil {
		return nil, err
	}

	if err := e.storage.SaveSyncRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save sync record: %w", err)
	}
	return record, nil
}

// lockStaleAfter is how long a held run lock is trusted before a new run
// treats its holder as crashed. A bounded run cannot outlive its own timeout;
// an unbounded one gets a generous fixed window.
func (e *Engine) lockStaleAfter() time.Duration {
	if e.cfg.RunTimeout > 0 {
		return e.cfg.RunTimeout + time.Minute
	}
	return 30 * time.Minute
}

func (e *Engine) touchLastRun(ctx context.Context) error {
	cfg, err := e.storage.GetSyncConfig(ctx)
	if err != nil {
		return err
	}
	cfg.LastRunAt = e.now()
	return e.storage.SaveSyncConfig(ctx, cfg)
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.protocol.SetClock(now)
	e.graduation.SetClock(now)
}
