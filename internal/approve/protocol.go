// Package approve implements the conversational approval protocol: it
// consolidates pending suggestions into one outgoing message, persists the
// ordinal-to-record mapping so a restart mid-approval is harmless, interprets
// free-form replies, and resolves them into ledger writes and mapping updates.
package approve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillon/receiptwise/internal/classify"
	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
	"github.com/quillon/receiptwise/internal/service"
)

// DefaultTimeout is how long a pending suggestion waits for a reply before
// the sweep marks it skipped.
const DefaultTimeout = 24 * time.Hour

// approvedConfidence is the confidence assigned to a mapping once a human has
// vouched for it.
const approvedConfidence = 0.95

// Protocol runs the approval conversation for one household.
type Protocol struct {
	storage   service.Storage
	ledger    service.LedgerClient
	messenger service.Messenger
	oracle    service.Oracle
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
}

// Config holds protocol options.
type Config struct {
	Timeout time.Duration
}

// NewProtocol creates an approval protocol.
func NewProtocol(storage service.Storage, ledger service.LedgerClient, messenger service.Messenger, oracle service.Oracle, logger *slog.Logger, cfg Config) *Protocol {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		storage:   storage,
		ledger:    ledger,
		messenger: messenger,
		oracle:    oracle,
		logger:    logger,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
}

// SendSuggestions consolidates the given records into one outgoing message,
// persists the pending suggestion before sending so the state survives a
// restart, and advances the suggestion counters.
func (p *Protocol) SendSuggestions(ctx context.Context, records []*model.SyncRecord) error {
	if len(records) == 0 {
		return nil
	}

	suggestion := &model.PendingSuggestion{
		ID:        uuid.NewString(),
		CreatedAt: p.now(),
	}
	ordinals := make(map[string]int, len(records))
	for i, record := range records {
		ordinal := i + 1
		ordinals[record.TransactionID] = ordinal
		suggestion.Entries = append(suggestion.Entries, model.SuggestionEntry{
			Ordinal:       ordinal,
			TransactionID: record.TransactionID,
			Manual:        len(record.Items) == 0,
		})
	}

	// Persist before sending: a crash between save and send costs one
	// duplicate message at worst, never lost approval state.
	if err := p.storage.SavePendingSuggestion(ctx, suggestion); err != nil {
		return fmt.Errorf("failed to persist pending suggestion: %w", err)
	}

	for _, record := range records {
		record.Status = model.StatusPendingApproval
		record.SuggestionID = suggestion.ID
		if err := p.storage.SaveSyncRecord(ctx, record); err != nil {
			return fmt.Errorf("failed to mark record pending: %w", err)
		}
	}

	messageID, err := p.messenger.Send(ctx, formatSuggestionMessage(records, ordinals))
	if err != nil {
		return fmt.Errorf("failed to send suggestion message: %w", err)
	}

	suggestion.MessageID = messageID
	if err := p.storage.SavePendingSuggestion(ctx, suggestion); err != nil {
		p.logger.Warn("failed to record message id on suggestion", "error", err)
	}

	cfg, err := p.storage.GetSyncConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync config: %w", err)
	}
	cfg.TotalSuggestions += len(records)
	if cfg.FirstSuggestionAt.IsZero() {
		cfg.FirstSuggestionAt = p.now()
	}
	if err := p.storage.SaveSyncConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update suggestion counters: %w", err)
	}

	p.logger.Info("suggestions sent",
		"count", len(records),
		"suggestion_id", suggestion.ID,
		"message_id", messageID)

	return nil
}

// HandleReply interprets an inbound reply against the open suggestion,
// resolves it, sends a confirmation (or re-prompt) back, and returns the
// response text. Re-delivery of an already-handled reply is a no-op.
func (p *Protocol) HandleReply(ctx context.Context, text string) (string, error) {
	suggestion, err := p.storage.GetOpenSuggestion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load open suggestion: %w", err)
	}
	if suggestion == nil {
		return "", ErrUnparsedReply
	}

	reply, err := ParseReply(text)
	if err != nil {
		// Never guess: re-prompt and leave everything pending.
		return p.respond(ctx, "Sorry, I didn't catch that. Reply \"<n> yes\", \"<n> adjust <category>\", or \"<n> skip\".")
	}

	entry := suggestion.Entry(reply.Ordinal)
	if entry == nil {
		return p.respond(ctx, fmt.Sprintf("There's no pending charge number %d. Reply with one of the numbers from my last message.", reply.Ordinal))
	}

	record, err := p.storage.GetSyncRecord(ctx, entry.TransactionID)
	if err != nil {
		return "", fmt.Errorf("failed to load sync record: %w", err)
	}

	// Idempotency: a re-delivered reply must not double-apply.
	if record.Status != model.StatusPendingApproval {
		return p.respond(ctx, fmt.Sprintf("Already handled %d (%s).", reply.Ordinal, record.Payee))
	}

	var response string
	switch reply.Action {
	case ActionAccept:
		response, err = p.resolveAccept(ctx, record, entry, reply)
	case ActionCorrect:
		response, err = p.resolveCorrect(ctx, record, reply)
	case ActionSkip:
		response, err = p.resolveSkip(ctx, record, reply)
	}
	if err != nil {
		return "", err
	}

	if err := p.maybeCloseSuggestion(ctx, suggestion); err != nil {
		p.logger.Warn("failed to close suggestion", "error", err)
	}

	return p.respond(ctx, response)
}

func (p *Protocol) resolveAccept(ctx context.Context, record *model.SyncRecord, entry *model.SuggestionEntry, reply Reply) (string, error) {
	if entry.Manual {
		return fmt.Sprintf("Charge %d has no suggestion to accept yet — tell me the category, e.g. \"%d Groceries\".", reply.Ordinal, reply.Ordinal), nil
	}

	if err := p.applyRecord(ctx, record); err != nil {
		return "", err
	}

	for i := range record.Items {
		if err := p.upgradeMapping(ctx, &record.Items[i], model.ProvenanceApproved, nil); err != nil {
			p.logger.Warn("failed to upgrade mapping", "title", record.Items[i].Title, "error", err)
		}
	}

	record.Status = model.StatusApplied
	record.ResolvedAt = p.now()
	if err := p.storage.SaveSyncRecord(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save applied record: %w", err)
	}

	if err := p.bumpCounter(ctx, func(cfg *model.SyncConfig) { cfg.UnmodifiedAccepts++ }); err != nil {
		return "", err
	}

	p.logger.Info("suggestion accepted",
		"transaction_id", record.TransactionID,
		"items", len(record.Items))

	return fmt.Sprintf("✅ Applied %d — %s %s.", reply.Ordinal, record.Payee, FormatAmount(record.Amount)), nil
}

func (p *Protocol) resolveCorrect(ctx context.Context, record *model.SyncRecord, reply Reply) (string, error) {
	itemHint, categoryText := splitCorrection(reply.Text)

	category, err := p.resolveCategory(ctx, categoryText)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Sprintf("I don't know a category like %q. Which one did you mean?", categoryText), nil
		}
		return "", err
	}

	if len(record.Items) == 0 {
		// Manual categorization of an unmatched charge.
		if err := p.ledger.UpdateCategory(ctx, record.TransactionID, category, record.EnrichedMemo()); err != nil {
			return "", fmt.Errorf("failed to categorize transaction: %w", err)
		}
		p.learnManualMapping(ctx, record, category, reply.Text)
	} else {
		corrected := 0
		for i := range record.Items {
			item := &record.Items[i]
			if itemHint != "" && !strings.Contains(strings.ToLower(item.Title), strings.ToLower(itemHint)) {
				continue
			}
			if item.Category != category {
				correction := &model.Correction{
					Timestamp:    p.now(),
					FromCategory: item.Category,
					ToCategory:   category,
					Context:      reply.Text,
				}
				item.Category = category
				item.Confidence = approvedConfidence
				item.Provenance = model.ProvenanceCorrected
				if err := p.upgradeMapping(ctx, item, model.ProvenanceCorrected, correction); err != nil {
					p.logger.Warn("failed to record correction", "title", item.Title, "error", err)
				}
			}
			corrected++
		}
		if corrected == 0 {
			return fmt.Sprintf("None of the items on %d look like %q — which item did you mean?", reply.Ordinal, itemHint), nil
		}

		if err := p.applyRecord(ctx, record); err != nil {
			return "", err
		}
	}

	record.Status = model.StatusApplied
	record.ResolvedAt = p.now()
	if err := p.storage.SaveSyncRecord(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save corrected record: %w", err)
	}

	if err := p.bumpCounter(ctx, func(cfg *model.SyncConfig) { cfg.ModifiedAccepts++ }); err != nil {
		return "", err
	}

	p.logger.Info("suggestion corrected",
		"transaction_id", record.TransactionID,
		"category", category)

	return fmt.Sprintf("✏️ Got it — applied %d with %s.", reply.Ordinal, category), nil
}

func (p *Protocol) resolveSkip(ctx context.Context, record *model.SyncRecord, reply Reply) (string, error) {
	// The memo enrichment stays; the categorization does not happen.
	record.Status = model.StatusSkipped
	record.ResolvedAt = p.now()
	if err := p.storage.SaveSyncRecord(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save skipped record: %w", err)
	}

	if err := p.bumpCounter(ctx, func(cfg *model.SyncConfig) { cfg.Skips++ }); err != nil {
		return "", err
	}

	return fmt.Sprintf("⏭️ Skipped %d.", reply.Ordinal), nil
}

// SweepExpired marks every entry of suggestions older than the approval
// timeout as skipped and retires the suggestions. It returns how many records
// were swept.
func (p *Protocol) SweepExpired(ctx context.Context) (int, error) {
	expired, err := p.storage.GetExpiredSuggestions(ctx, p.now().Add(-p.timeout))
	if err != nil {
		return 0, fmt.Errorf("failed to load expired suggestions: %w", err)
	}

	swept := 0
	for i := range expired {
		suggestion := &expired[i]
		for _, entry := range suggestion.Entries {
			record, err := p.storage.GetSyncRecord(ctx, entry.TransactionID)
			if err != nil {
				p.logger.Warn("failed to load record during sweep",
					"transaction_id", entry.TransactionID, "error", err)
				continue
			}
			if record.Status != model.StatusPendingApproval {
				continue
			}

			record.Status = model.StatusSkipped
			record.ResolvedAt = p.now()
			if err := p.storage.SaveSyncRecord(ctx, record); err != nil {
				p.logger.Warn("failed to sweep record",
					"transaction_id", entry.TransactionID, "error", err)
				continue
			}
			if err := p.bumpCounter(ctx, func(cfg *model.SyncConfig) { cfg.Skips++ }); err != nil {
				return swept, err
			}
			swept++
		}

		if err := p.storage.DeletePendingSuggestion(ctx, suggestion.ID); err != nil {
			p.logger.Warn("failed to delete expired suggestion",
				"suggestion_id", suggestion.ID, "error", err)
		}
	}

	if swept > 0 {
		p.logger.Info("swept expired suggestions", "records", swept)
	}

	return swept, nil
}

// applyRecord writes the categorization through to the ledger: a category
// update for single-item records, a full split otherwise.
func (p *Protocol) applyRecord(ctx context.Context, record *model.SyncRecord) error {
	if len(record.Items) == 1 {
		if err := p.ledger.UpdateCategory(ctx, record.TransactionID, record.Items[0].Category, record.EnrichedMemo()); err != nil {
			return fmt.Errorf("failed to apply category: %w", err)
		}
		return nil
	}

	parts := make([]model.SplitPart, len(record.Items))
	for i, item := range record.Items {
		parts[i] = model.SplitPart{
			Amount:   item.Allocated,
			Category: item.Category,
			Memo:     item.Title,
		}
	}
	if err := p.ledger.ApplySplit(ctx, record.TransactionID, parts); err != nil {
		return fmt.Errorf("failed to apply split: %w", err)
	}
	return nil
}

// upgradeMapping promotes the mapping entry behind a matched item after a
// human vouched for it.
func (p *Protocol) upgradeMapping(ctx context.Context, item *model.MatchedItem, provenance model.Provenance, correction *model.Correction) error {
	key := classify.NormalizeTitle(item.Title)
	if key == "" {
		return nil
	}

	entry, err := p.storage.GetMapping(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		entry = &model.MappingEntry{Key: key}
	} else if err != nil {
		return err
	}

	entry.Category = item.Category
	if entry.Confidence < approvedConfidence {
		entry.Confidence = approvedConfidence
	}
	// A correction always wins; an approval never downgrades one.
	if provenance == model.ProvenanceCorrected || entry.Provenance != model.ProvenanceCorrected {
		entry.Provenance = provenance
	}
	entry.UseCount++
	entry.LastUsed = p.now()
	if correction != nil {
		entry.Corrections = append(entry.Corrections, *correction)
	}

	return p.storage.SaveMapping(ctx, entry)
}

// learnManualMapping remembers a manual categorization of an unmatched charge
// keyed by the payee, so the same charge classifies itself next month.
func (p *Protocol) learnManualMapping(ctx context.Context, record *model.SyncRecord, category, context string) {
	key := classify.NormalizeTitle(record.Payee)
	if key == "" {
		return
	}

	entry, err := p.storage.GetMapping(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		entry = &model.MappingEntry{Key: key}
	} else if err != nil {
		p.logger.Warn("failed to load manual mapping", "key", key, "error", err)
		return
	}

	if entry.Category != "" && entry.Category != category {
		entry.Corrections = append(entry.Corrections, model.Correction{
			Timestamp:    p.now(),
			FromCategory: entry.Category,
			ToCategory:   category,
			Context:      context,
		})
	}
	entry.Category = category
	entry.Confidence = approvedConfidence
	entry.Provenance = model.ProvenanceCorrected
	entry.UseCount++
	entry.LastUsed = p.now()

	if err := p.storage.SaveMapping(ctx, entry); err != nil {
		p.logger.Warn("failed to save manual mapping", "key", key, "error", err)
	}
}

// resolveCategory maps correction text to an existing ledger category,
// falling back to the oracle to disambiguate shorthand.
func (p *Protocol) resolveCategory(ctx context.Context, text string) (string, error) {
	categories, err := p.ledger.GetCategories(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load categories: %w", err)
	}

	for _, cat := range categories {
		if strings.EqualFold(cat.Name, text) {
			return cat.Name, nil
		}
	}

	// Prefix/substring shorthand ("grocer" for "Groceries") before paying
	// for an oracle call.
	var partial string
	for _, cat := range categories {
		if strings.Contains(strings.ToLower(cat.Name), strings.ToLower(text)) {
			if partial != "" {
				partial = ""
				break
			}
			partial = cat.Name
		}
	}
	if partial != "" {
		return partial, nil
	}

	result, err := p.oracle.ClassifyItem(ctx, service.OracleRequest{
		Title:      text,
		Categories: categories,
	})
	if err == nil && result.Category != "" {
		for _, cat := range categories {
			if strings.EqualFold(cat.Name, result.Category) {
				return cat.Name, nil
			}
		}
	}

	return "", common.ErrNotFound
}

// maybeCloseSuggestion deletes the suggestion once every entry is resolved.
func (p *Protocol) maybeCloseSuggestion(ctx context.Context, suggestion *model.PendingSuggestion) error {
	for _, entry := range suggestion.Entries {
		record, err := p.storage.GetSyncRecord(ctx, entry.TransactionID)
		if err != nil {
			return err
		}
		if record.Status == model.StatusPendingApproval {
			return nil
		}
	}
	return p.storage.DeletePendingSuggestion(ctx, suggestion.ID)
}

func (p *Protocol) bumpCounter(ctx context.Context, update func(*model.SyncConfig)) error {
	cfg, err := p.storage.GetSyncConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync config: %w", err)
	}
	update(cfg)
	if err := p.storage.SaveSyncConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save sync config: %w", err)
	}
	return nil
}

func (p *Protocol) respond(ctx context.Context, text string) (string, error) {
	if _, err := p.messenger.Send(ctx, text); err != nil {
		p.logger.Warn("failed to send response", "error", err)
	}
	return text, nil
}

// SetClock overrides the protocol's time source. Tests only.
func (p *Protocol) SetClock(now func() time.Time) {
	p.now = now
}
