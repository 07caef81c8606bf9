// Package messenger sends outbound text messages to the household's primary
// contact through the messaging gateway.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillon/receiptwise/internal/common"
)

// defaultMaxLength is the gateway's per-message size limit. Longer content is
// split on newline boundaries so item lists never break mid-line.
const defaultMaxLength = 1600

// Messenger posts messages to the gateway's send endpoint.
type Messenger struct {
	baseURL    string
	token      string
	recipient  string
	maxLength  int
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds messaging gateway settings.
type Config struct {
	BaseURL   string
	Token     string
	Recipient string
	// MaxLength overrides the per-message size limit when the gateway's
	// differs from the default.
	MaxLength int
	Timeout   time.Duration
}

// New creates a messenger.
func New(cfg Config, logger *slog.Logger) (*Messenger, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: messenger base URL is required", common.ErrMissingConfig)
	}
	if cfg.Recipient == "" {
		return nil, fmt.Errorf("%w: messenger recipient is required", common.ErrMissingConfig)
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultMaxLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Messenger{
		baseURL:   cfg.BaseURL,
		token:     cfg.Token,
		recipient: cfg.Recipient,
		maxLength: cfg.MaxLength,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

type sendRequest struct {
	MessageID string `json:"message_id"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// Send delivers one logical message, splitting it into parts when it exceeds
// the gateway limit. The returned id identifies the first part.
func (m *Messenger) Send(ctx context.Context, text string) (string, error) {
	parts := splitMessage(text, m.maxLength)

	var firstID string
	for i, part := range parts {
		id := uuid.NewString()
		if i == 0 {
			firstID = id
		}
		if err := m.sendPart(ctx, id, part); err != nil {
			return "", fmt.Errorf("failed to send message part %d/%d: %w", i+1, len(parts), err)
		}
	}

	m.logger.Debug("message sent", "message_id", firstID, "parts", len(parts))
	return firstID, nil
}

func (m *Messenger) sendPart(ctx context.Context, id, text string) error {
	payload, err := json.Marshal(sendRequest{
		MessageID: id,
		Recipient: m.recipient,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return common.NewRetryableError(fmt.Errorf("messenger request failed: %w", err), true)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: messaging gateway rejected token", common.ErrAuthFailed)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("messaging gateway rate limited: %w", common.ErrRateLimit)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messenger API error: %d - %s", resp.StatusCode, string(body))
	}

	return nil
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// newline boundaries. A single line longer than the limit is hard-split.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var current strings.Builder

	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			parts = append(parts, line[:limit])
			line = line[limit:]
		}

		needed := len(line)
		if current.Len() > 0 {
			needed++
		}
		if current.Len()+needed > limit {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
