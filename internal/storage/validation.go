package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quillon/receiptwise/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrInvalidRecord     = errors.New("invalid sync record")
	ErrInvalidMapping    = errors.New("invalid mapping entry")
	ErrInvalidSuggestion = errors.New("invalid pending suggestion")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateSyncRecord validates a sync record before persisting it.
func validateSyncRecord(record *model.SyncRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if record.TransactionID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidRecord)
	}
	if record.Status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidRecord)
	}
	if record.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidRecord)
	}
	return nil
}

// validateMapping validates a mapping entry before persisting it.
func validateMapping(entry *model.MappingEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if entry.Key == "" {
		return fmt.Errorf("%w: missing key", ErrInvalidMapping)
	}
	if entry.Category == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidMapping)
	}
	if entry.Confidence < 0 || entry.Confidence > 1 {
		return fmt.Errorf("%w: confidence out of range", ErrInvalidMapping)
	}
	return nil
}

// validateSuggestion validates a pending suggestion before persisting it.
func validateSuggestion(suggestion *model.PendingSuggestion) error {
	if suggestion == nil {
		return fmt.Errorf("%w: suggestion", ErrNilParameter)
	}
	if suggestion.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSuggestion)
	}
	if len(suggestion.Entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidSuggestion)
	}
	return nil
}
