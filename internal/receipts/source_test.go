package receipts

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/receiptwise/internal/model"
)

func newTestSource(t *testing.T, payload string) *Source {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, string(model.ChannelMarketplace), r.URL.Query().Get("channel"))
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	source, err := NewSource(Config{BaseURL: server.URL}, logger)
	require.NoError(t, err)
	return source
}

func TestFetchReceipts(t *testing.T) {
	source := newTestSource(t, `[
		{
			"date": "2026-03-14",
			"reference": "112-7766",
			"total": "87.42",
			"shipment_subtotals": ["55.19", "32.23"],
			"items": [
				{"title": "Coffee Maker Deluxe", "unit_price": "24.99", "quantity": 1},
				{"title": "Dog Food 30lb", "unit_price": "42.43", "quantity": 1},
				{"title": "USB Cable", "unit_price": "12.99", "quantity": 1}
			]
		}
	]`)

	receipts, err := source.FetchReceipts(context.Background(), model.ChannelMarketplace, time.Now().AddDate(0, -1, 0))
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	receipt := receipts[0]
	assert.Equal(t, "112-7766", receipt.Reference)
	assert.Equal(t, int64(8742), receipt.Total)
	assert.Equal(t, []int64{5519, 3223}, receipt.ShipmentSubtotals)
	require.Len(t, receipt.Items, 3)
	assert.Equal(t, int64(2499), receipt.Items[0].UnitPrice)
	assert.Equal(t, model.ChannelMarketplace, receipt.Channel)
}

func TestFetchReceipts_PartialExtraction(t *testing.T) {
	source := newTestSource(t, `[
		{
			"date": "2026-03-14",
			"reference": "good",
			"total": "20.00",
			"items": [{"title": "Mystery Item", "unit_price": ""}]
		},
		{
			"date": "2026-03-15",
			"reference": "no-total",
			"total": ""
		},
		{
			"date": "not a date",
			"reference": "bad-date",
			"total": "5.00"
		}
	]`)

	receipts, err := source.FetchReceipts(context.Background(), model.ChannelMarketplace, time.Now().AddDate(0, -1, 0))
	require.NoError(t, err)

	// The unpriced item degrades the first receipt to whole-amount matching;
	// the receipts missing a total or date are dropped entirely.
	require.Len(t, receipts, 1)
	assert.Equal(t, "good", receipts[0].Reference)
	assert.Empty(t, receipts[0].Items)
	assert.Equal(t, int64(2000), receipts[0].Total)
}

func TestFetchReceipts_RefundFlag(t *testing.T) {
	source := newTestSource(t, `[
		{"date": "2026-03-20", "reference": "refund-1", "total": "24.99", "refund": true}
	]`)

	receipts, err := source.FetchReceipts(context.Background(), model.ChannelMarketplace, time.Now().AddDate(0, -1, 0))
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].Refund)
}
