package match

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
)

func day(d int) time.Time {
	return time.Date(2025, 2, d, 0, 0, 0, 0, time.UTC)
}

func TestFindReceipt_ExactAmountAndWindow(t *testing.T) {
	matcher := NewMatcher(3)
	txn := model.Transaction{ID: "t1", Amount: 8742, Date: day(23), Payee: "Amazon.com"}

	tests := []struct {
		name        string
		receiptDate time.Time
		total       int64
		wantMatch   bool
	}{
		{"same day exact amount", day(23), 8742, true},
		{"three days later", day(26), 8742, true},
		{"three days earlier", day(20), 8742, true},
		{"four days later never matches", day(27), 8742, false},
		{"wrong amount off by one cent", day(23), 8741, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipts := []model.Receipt{{Reference: "r1", Date: tt.receiptDate, Total: tt.total}}
			got, err := matcher.FindReceipt(txn, receipts)
			if tt.wantMatch {
				require.NoError(t, err)
				assert.Equal(t, "r1", got.Reference)
			} else {
				assert.ErrorIs(t, err, common.ErrNoMatch)
			}
		})
	}
}

func TestFindReceipt_PrefersClosestDate(t *testing.T) {
	matcher := NewMatcher(3)
	txn := model.Transaction{ID: "t1", Amount: 5000, Date: day(10)}

	receipts := []model.Receipt{
		{Reference: "far", Date: day(13), Total: 5000},
		{Reference: "near", Date: day(11), Total: 5000},
	}

	got, err := matcher.FindReceipt(txn, receipts)
	require.NoError(t, err)
	assert.Equal(t, "near", got.Reference)
}

func TestFindReceipt_TieIsAmbiguous(t *testing.T) {
	matcher := NewMatcher(3)
	txn := model.Transaction{ID: "t1", Amount: 5000, Date: day(10)}

	// Two receipts one day away on either side: never silently guess.
	receipts := []model.Receipt{
		{Reference: "before", Date: day(9), Total: 5000},
		{Reference: "after", Date: day(11), Total: 5000},
	}

	_, err := matcher.FindReceipt(txn, receipts)
	assert.ErrorIs(t, err, common.ErrAmbiguousMatch)
}

func TestFindReceipt_ShipmentSubsetSum(t *testing.T) {
	matcher := NewMatcher(3)
	// The card was charged for two of three packages.
	txn := model.Transaction{ID: "t1", Amount: 3500, Date: day(10)}

	receipts := []model.Receipt{{
		Reference:         "multi",
		Date:              day(10),
		Total:             6000,
		ShipmentSubtotals: []int64{2500, 1500, 2000},
	}}

	got, err := matcher.FindReceipt(txn, receipts)
	require.NoError(t, err)
	assert.Equal(t, "multi", got.Reference)
}

func TestFindReceipt_RefundFlagSeparation(t *testing.T) {
	matcher := NewMatcher(3)

	receipts := []model.Receipt{
		{Reference: "purchase", Date: day(10), Total: 2499},
		{Reference: "refund", Date: day(10), Total: 2499, Refund: true},
	}

	purchase := model.Transaction{ID: "p", Amount: 2499, Date: day(10)}
	got, err := matcher.FindReceipt(purchase, receipts)
	require.NoError(t, err)
	assert.Equal(t, "purchase", got.Reference)

	refund := model.Transaction{ID: "r", Amount: -2499, Date: day(10)}
	got, err = matcher.FindReceipt(refund, receipts)
	require.NoError(t, err)
	assert.Equal(t, "refund", got.Reference)
}

func TestFindReceipt_NoCandidates(t *testing.T) {
	matcher := NewMatcher(3)
	txn := model.Transaction{ID: "t1", Amount: 100, Date: day(1)}

	_, err := matcher.FindReceipt(txn, nil)
	assert.True(t, errors.Is(err, common.ErrNoMatch))
}
