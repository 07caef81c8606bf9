package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/service"
)

// Config holds configuration for the classification oracle.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Oracle implements service.Oracle on top of an LLM provider client.
type Oracle struct {
	client    Client
	cache     *responseCache
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

// New creates a classification oracle for the configured provider.
func New(cfg Config, logger *slog.Logger) (*Oracle, error) {
	var client Client
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		client, err = newOpenAIClient(cfg)
	case "anthropic":
		client, err = newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle client: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 2
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Oracle{
		client:    client,
		cache:     newResponseCache(cfg.CacheTTL),
		logger:    logger,
		retryOpts: retryOpts,
	}, nil
}

// ClassifyItem asks the oracle to pick a category for one line item.
func (o *Oracle) ClassifyItem(ctx context.Context, req service.OracleRequest) (service.OracleResult, error) {
	cacheKey := strings.ToLower(strings.TrimSpace(req.Title))
	if cached, found := o.cache.get(cacheKey); found {
		o.logger.Debug("oracle cache hit", "title", req.Title)
		return service.OracleResult{Category: cached.Category, Confidence: cached.Confidence}, nil
	}

	prompt := buildPrompt(req)

	var response ClassificationResponse
	err := common.WithRetry(ctx, func() error {
		var classifyErr error
		response, classifyErr = o.client.Classify(ctx, prompt)
		return classifyErr
	}, o.retryOpts)
	if err != nil {
		return service.OracleResult{}, fmt.Errorf("%w: %v", common.ErrOracleUnavailable, err)
	}

	// The oracle occasionally invents category names. Snap to the household's
	// list when the answer is close; otherwise keep it but flag low trust.
	if len(req.Categories) > 0 && !categoryKnown(response.Category, req) {
		o.logger.Warn("oracle returned unknown category",
			"title", req.Title,
			"category", response.Category)
		response.Confidence = 0
	}

	o.cache.set(cacheKey, response)

	o.logger.Info("item classified by oracle",
		"title", req.Title,
		"category", response.Category,
		"confidence", response.Confidence)

	return service.OracleResult{Category: response.Category, Confidence: response.Confidence}, nil
}

func buildPrompt(req service.OracleRequest) string {
	var sb strings.Builder

	sb.WriteString("Classify this purchased item into exactly one of the household's budget categories.\n\n")
	fmt.Fprintf(&sb, "Item: %s\n", req.Title)
	fmt.Fprintf(&sb, "Price: $%.2f\n\n", float64(req.Price)/100)

	sb.WriteString("Categories:\n")
	for _, cat := range req.Categories {
		if cat.Description != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", cat.Name, cat.Description)
		} else {
			fmt.Fprintf(&sb, "- %s\n", cat.Name)
		}
	}

	if len(req.Examples) > 0 {
		sb.WriteString("\nRecent examples the household has confirmed:\n")
		for _, example := range req.Examples {
			fmt.Fprintf(&sb, "- %q -> %s\n", example.Key, example.Category)
		}
	}

	sb.WriteString("\nRespond in exactly this format:\nCategory: <name>\nConfidence: <0.0-1.0>\n")

	return sb.String()
}

func categoryKnown(name string, req service.OracleRequest) bool {
	for _, cat := range req.Categories {
		if strings.EqualFold(cat.Name, name) {
			return true
		}
	}
	return false
}
