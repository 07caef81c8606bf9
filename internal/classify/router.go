// Package classify routes line items to categories: learned mappings first,
// then a keyword-level match over existing entries, then the external
// classification oracle.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jbrukh/bayesian"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
	"github.com/quillon/receiptwise/internal/service"
)

// keywordConfidenceCap bounds the confidence of keyword-level matches. A
// keyword hit is weaker evidence than an exact mapping, so it can never reach
// the autonomous-apply threshold on its own.
const keywordConfidenceCap = 0.65

// maxOracleExamples is how many recent vetted mappings ride along as few-shot
// examples on oracle calls.
const maxOracleExamples = 5

// Result is a classification for a single line item. It is attached to the
// matched item but not written to the mapping store until a human approves or
// corrects it.
type Result struct {
	Category   string
	Provenance model.Provenance
	Confidence float64
}

// Router implements the classification lookup chain.
type Router struct {
	storage       service.Storage
	oracle        service.Oracle
	logger        *slog.Logger
	oracleTimeout time.Duration
}

// NewRouter creates a classifier router.
func NewRouter(storage service.Storage, oracle service.Oracle, logger *slog.Logger, oracleTimeout time.Duration) *Router {
	if oracleTimeout <= 0 {
		oracleTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		storage:       storage,
		oracle:        oracle,
		logger:        logger,
		oracleTimeout: oracleTimeout,
	}
}

// NormalizeTitle produces the mapping store key for an item title: lowercase,
// trimmed, inner whitespace collapsed.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// ClassifyItem classifies one line item. Storage failures are returned as
// errors; an oracle failure degrades to confidence 0 so the decision router
// falls back to asking the household.
func (r *Router) ClassifyItem(ctx context.Context, item model.LineItem, categories []model.Category) (Result, error) {
	key := NormalizeTitle(item.Title)
	if key == "" {
		return Result{Provenance: model.ProvenanceOracle}, nil
	}

	// Exact learned mapping wins outright.
	entry, err := r.storage.GetMapping(ctx, key)
	if err == nil {
		entry.UseCount++
		entry.LastUsed = time.Now()
		if saveErr := r.storage.SaveMapping(ctx, entry); saveErr != nil {
			r.logger.Warn("failed to update mapping usage", "key", key, "error", saveErr)
		}
		return Result{
			Category:   entry.Category,
			Confidence: entry.Confidence,
			Provenance: entry.Provenance,
		}, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return Result{}, fmt.Errorf("failed to look up mapping: %w", err)
	}

	// Keyword-level match against existing entries.
	if result, ok, err := r.keywordMatch(ctx, key); err != nil {
		return Result{}, err
	} else if ok {
		return result, nil
	}

	// Fall back to the oracle.
	return r.askOracle(ctx, item, categories), nil
}

// keywordMatch trains a naive Bayes classifier over the learned mapping keys
// and accepts its answer only when the winning category's entries actually
// share a token with the item title.
func (r *Router) keywordMatch(ctx context.Context, key string) (Result, bool, error) {
	entries, err := r.storage.GetAllMappings(ctx)
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to load mappings: %w", err)
	}

	byCategory := make(map[string][]model.MappingEntry)
	for _, entry := range entries {
		byCategory[entry.Category] = append(byCategory[entry.Category], entry)
	}
	if len(byCategory) < 2 {
		// Bayesian classification needs at least two classes; with fewer
		// learned categories the oracle is the better judge anyway.
		return Result{}, false, nil
	}

	classes := make([]bayesian.Class, 0, len(byCategory))
	for category := range byCategory {
		classes = append(classes, bayesian.Class(category))
	}

	classifier := bayesian.NewClassifier(classes...)
	for category, categoryEntries := range byCategory {
		var tokens []string
		for _, entry := range categoryEntries {
			tokens = append(tokens, strings.Fields(entry.Key)...)
		}
		classifier.Learn(tokens, bayesian.Class(category))
	}

	tokens := strings.Fields(key)
	_, best, _ := classifier.LogScores(tokens)
	winner := string(classes[best])

	// Guard against the classifier inventing a relationship: require a shared
	// token between the item and some entry in the winning category.
	if !sharesToken(tokens, byCategory[winner]) {
		return Result{}, false, nil
	}

	source := strongestEntry(byCategory[winner])
	confidence := source.Confidence
	if confidence > keywordConfidenceCap {
		confidence = keywordConfidenceCap
	}

	r.logger.Debug("keyword match",
		"key", key,
		"category", winner,
		"confidence", confidence)

	return Result{
		Category:   winner,
		Confidence: confidence,
		Provenance: source.Provenance,
	}, true, nil
}

func (r *Router) askOracle(ctx context.Context, item model.LineItem, categories []model.Category) Result {
	examples, err := r.storage.GetVettedMappings(ctx)
	if err != nil {
		r.logger.Warn("failed to load oracle examples", "error", err)
		examples = nil
	}
	if len(examples) > maxOracleExamples {
		examples = examples[:maxOracleExamples]
	}

	oracleCtx, cancel := context.WithTimeout(ctx, r.oracleTimeout)
	defer cancel()

	result, err := r.oracle.ClassifyItem(oracleCtx, service.OracleRequest{
		Title:      item.Title,
		Price:      item.Subtotal(),
		Categories: categories,
		Examples:   examples,
	})
	if err != nil {
		// Oracle failure forces the approval path rather than a guess.
		r.logger.Warn("oracle classification failed",
			"title", item.Title,
			"error", err)
		return Result{Provenance: model.ProvenanceOracle}
	}

	return Result{
		Category:   result.Category,
		Confidence: result.Confidence,
		Provenance: model.ProvenanceOracle,
	}
}

func sharesToken(tokens []string, entries []model.MappingEntry) bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	for _, entry := range entries {
		for _, t := range strings.Fields(entry.Key) {
			if set[t] {
				return true
			}
		}
	}
	return false
}

func strongestEntry(entries []model.MappingEntry) model.MappingEntry {
	best := entries[0]
	for _, entry := range entries[1:] {
		if entry.Provenance.Vetted() && !best.Provenance.Vetted() {
			best = entry
			continue
		}
		if entry.Provenance.Vetted() == best.Provenance.Vetted() && entry.Confidence > best.Confidence {
			best = entry
		}
	}
	return best
}
