// Package receipts implements the HTTP adapter to the receipt extraction
// collaborator. Extraction is best-effort: receipts arrive with whatever
// fields the source text yielded, and the engine treats missing fields as
// absent rather than wrong.
package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
)

// Source fetches structured receipts from the extraction service.
type Source struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds extraction service connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewSource creates a receipt source.
func NewSource(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: extraction base URL is required", common.ErrMissingConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// Extraction service wire types. Every field is optional; the parser emits
// whatever it could recover from the source text.
type wireReceipt struct {
	Date              string     `json:"date"`
	Reference         string     `json:"reference"`
	Items             []wireItem `json:"items"`
	ShipmentSubtotals []string   `json:"shipment_subtotals"`
	Total             string     `json:"total"`
	Refund            bool       `json:"refund"`
}

type wireItem struct {
	Title     string `json:"title"`
	Seller    string `json:"seller"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// FetchReceipts returns the structured receipts extracted for one channel
// since the given time. Receipts the service could not price are dropped with
// a log line rather than failing the whole fetch.
func (s *Source) FetchReceipts(ctx context.Context, channel model.Channel, since time.Time) ([]model.Receipt, error) {
	q := url.Values{}
	q.Set("channel", string(channel))
	q.Set("since", since.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/receipts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, common.NewRetryableError(fmt.Errorf("extraction request failed: %w", err), true)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: extraction service rejected token", common.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extraction API error: %d - %s", resp.StatusCode, string(body))
	}

	var wire []wireReceipt
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	receipts := make([]model.Receipt, 0, len(wire))
	for _, raw := range wire {
		receipt, ok := s.convert(raw, channel)
		if !ok {
			continue
		}
		receipts = append(receipts, receipt)
	}

	return receipts, nil
}

// convert builds a model receipt from a wire receipt, tolerating missing
// fields. A receipt without a parsable total is useless for matching and is
// dropped.
func (s *Source) convert(raw wireReceipt, channel model.Channel) (model.Receipt, bool) {
	total, err := parseAmount(raw.Total)
	if err != nil {
		s.logger.Warn("dropping receipt with unparsable total",
			"reference", raw.Reference,
			"total", raw.Total)
		return model.Receipt{}, false
	}

	date, err := time.Parse("2006-01-02", raw.Date)
	if err != nil {
		s.logger.Warn("dropping receipt with unparsable date",
			"reference", raw.Reference,
			"date", raw.Date)
		return model.Receipt{}, false
	}

	receipt := model.Receipt{
		Date:      date,
		Reference: raw.Reference,
		Channel:   channel,
		Total:     total,
		Refund:    raw.Refund,
	}

	for _, item := range raw.Items {
		price, err := parseAmount(item.UnitPrice)
		if err != nil {
			// An unpriced item degrades the receipt to whole-amount
			// matching instead of dropping it.
			s.logger.Warn("skipping unpriced line item",
				"reference", raw.Reference,
				"title", item.Title)
			receipt.Items = nil
			break
		}
		receipt.Items = append(receipt.Items, model.LineItem{
			Title:     item.Title,
			Seller:    item.Seller,
			UnitPrice: price,
			Quantity:  item.Quantity,
		})
	}

	for _, sub := range raw.ShipmentSubtotals {
		amount, err := parseAmount(sub)
		if err != nil {
			receipt.ShipmentSubtotals = nil
			break
		}
		receipt.ShipmentSubtotals = append(receipt.ShipmentSubtotals, amount)
	}

	return receipt, true
}

func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	return cents.IntPart(), nil
}
