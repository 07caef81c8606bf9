// Package oracle provides the external classification oracle used when no
// learned mapping covers a line item. It supports multiple LLM providers with
// retry logic, short timeouts, and response caching.
package oracle

import "context"

// Client defines the interface for oracle providers.
type Client interface {
	Classify(ctx context.Context, prompt string) (ClassificationResponse, error)
}

// ClassificationResponse contains the oracle's classification result.
type ClassificationResponse struct {
	Category   string
	Confidence float64
}
