// Package ledger implements the HTTP adapter to the household budgeting
// ledger. Amounts cross the wire as decimal strings and are converted to
// integer minor units at the boundary; nothing past this package touches
// floating point money.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
)

// Client talks to the ledger's REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config holds ledger connection settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient creates a ledger client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: ledger base URL is required", common.ErrMissingConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: ledger API token is required", common.ErrMissingConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Ledger API wire types.
type wireTransaction struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Payee    string `json:"payee"`
	Memo     string `json:"memo"`
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

type wireCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type wireSplitPart struct {
	Category string `json:"category"`
	Memo     string `json:"memo"`
	Amount   string `json:"amount"`
}

// GetTransactions fetches posted transactions whose payee contains the given
// substring, dated on or after since.
func (c *Client) GetTransactions(ctx context.Context, payeeFilter string, since time.Time) ([]model.Transaction, error) {
	q := url.Values{}
	if payeeFilter != "" {
		q.Set("payee", payeeFilter)
	}
	q.Set("since", since.Format("2006-01-02"))

	var wire []wireTransaction
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions?"+q.Encode(), nil, &wire); err != nil {
		return nil, err
	}

	transactions := make([]model.Transaction, 0, len(wire))
	for _, tx := range wire {
		date, err := time.Parse("2006-01-02", tx.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction date %q: %w", tx.Date, err)
		}
		amount, err := parseAmount(tx.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount for transaction %s: %w", tx.ID, err)
		}
		transactions = append(transactions, model.Transaction{
			ID:       tx.ID,
			Date:     date,
			Payee:    tx.Payee,
			Memo:     tx.Memo,
			Category: tx.Category,
			Amount:   amount,
		})
	}

	return transactions, nil
}

// GetCategories fetches the household's category list.
func (c *Client) GetCategories(ctx context.Context) ([]model.Category, error) {
	var wire []wireCategory
	if err := c.do(ctx, http.MethodGet, "/api/v1/categories", nil, &wire); err != nil {
		return nil, err
	}

	categories := make([]model.Category, len(wire))
	for i, cat := range wire {
		categories[i] = model.Category{Name: cat.Name, Description: cat.Description}
	}
	return categories, nil
}

// UpdateMemo rewrites a transaction's memo.
func (c *Client) UpdateMemo(ctx context.Context, transactionID, memo string) error {
	body := map[string]string{"memo": memo}
	return c.do(ctx, http.MethodPatch, "/api/v1/transactions/"+url.PathEscape(transactionID), body, nil)
}

// UpdateCategory rewrites a transaction's category and memo together.
func (c *Client) UpdateCategory(ctx context.Context, transactionID, category, memo string) error {
	body := map[string]string{"category": category, "memo": memo}
	return c.do(ctx, http.MethodPatch, "/api/v1/transactions/"+url.PathEscape(transactionID), body, nil)
}

// ApplySplit replaces the transaction's categorization with an ordered split.
// The ledger rejects splits whose parts do not sum to the parent amount.
func (c *Client) ApplySplit(ctx context.Context, transactionID string, parts []model.SplitPart) error {
	wire := make([]wireSplitPart, len(parts))
	for i, part := range parts {
		wire[i] = wireSplitPart{
			Category: part.Category,
			Memo:     part.Memo,
			Amount:   formatAmount(part.Amount),
		}
	}
	body := map[string]any{"parts": wire}
	return c.do(ctx, http.MethodPost, "/api/v1/transactions/"+url.PathEscape(transactionID)+"/split", body, nil)
}

// ReplaceTransaction deletes and recreates a transaction atomically under the
// same id. Splits cannot be unwound in place, so undo goes through this.
func (c *Client) ReplaceTransaction(ctx context.Context, txn model.Transaction) error {
	body := wireTransaction{
		ID:       txn.ID,
		Date:     txn.Date.Format("2006-01-02"),
		Payee:    txn.Payee,
		Memo:     txn.Memo,
		Category: txn.Category,
		Amount:   formatAmount(txn.Amount),
	}
	return c.do(ctx, http.MethodPost, "/api/v1/transactions/"+url.PathEscape(txn.ID)+"/replace", body, nil)
}

// do runs one API call, decoding the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.NewRetryableError(fmt.Errorf("ledger request failed: %w", err), true)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: ledger rejected token", common.ErrAuthFailed)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("ledger rate limited: %w", common.ErrRateLimit)
	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(resp.Body)
		return common.NewRetryableError(fmt.Errorf("ledger API error: %d - %s", resp.StatusCode, string(respBody)), true)
	case resp.StatusCode >= 400:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger API error: %d - %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseAmount converts a decimal dollar string to integer minor units.
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

// formatAmount renders minor units as the decimal dollar string the API wants.
func formatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
