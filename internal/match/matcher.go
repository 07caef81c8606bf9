// Package match pairs unprocessed ledger transactions with candidate receipts
// and allocates transaction totals across receipt line items.
package match

import (
	"time"

	"github.com/quillon/receiptwise/internal/common"
	"github.com/quillon/receiptwise/internal/model"
)

// DefaultWindowDays is how far a receipt date may sit from the transaction
// date and still match.
const DefaultWindowDays = 3

// Matcher pairs transactions with receipts by exact amount and date proximity.
type Matcher struct {
	windowDays int
}

// NewMatcher creates a matcher with the given date window in days. A
// non-positive window falls back to the default.
func NewMatcher(windowDays int) *Matcher {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Matcher{windowDays: windowDays}
}

// FindReceipt returns the receipt matching the transaction, preferring the
// closest date when several are eligible. It returns common.ErrNoMatch when
// nothing matches and common.ErrAmbiguousMatch when two receipts are equally
// close; the engine never guesses between equally valid candidates.
func (m *Matcher) FindReceipt(txn model.Transaction, receipts []model.Receipt) (*model.Receipt, error) {
	amount := txn.AbsAmount()
	wantRefund := txn.Amount < 0

	var best *model.Receipt
	bestDistance := -1
	ambiguous := false

	for i := range receipts {
		receipt := &receipts[i]
		if receipt.Refund != wantRefund {
			continue
		}
		if !m.amountMatches(receipt, amount) {
			continue
		}

		distance := dayDistance(txn.Date, receipt.Date)
		if distance > m.windowDays {
			continue
		}

		switch {
		case best == nil || distance < bestDistance:
			best = receipt
			bestDistance = distance
			ambiguous = false
		case distance == bestDistance:
			ambiguous = true
		}
	}

	if best == nil {
		return nil, common.ErrNoMatch
	}
	if ambiguous {
		return nil, common.ErrAmbiguousMatch
	}

	return best, nil
}

// amountMatches reports whether the receipt total, or the sum of a subset of
// its shipment subtotals, equals the amount exactly. Minor-unit equality, no
// tolerance.
func (m *Matcher) amountMatches(receipt *model.Receipt, amount int64) bool {
	if receipt.Total == amount {
		return true
	}
	return subsetSums(receipt.ShipmentSubtotals, amount)
}

// subsetSums reports whether a non-empty subset of values sums to target.
// Orders ship in a handful of packages at most, so exhaustive enumeration is
// fine; anything larger is capped to avoid pathological input.
func subsetSums(values []int64, target int64) bool {
	const maxShipments = 16
	if len(values) == 0 || len(values) > maxShipments {
		return false
	}

	for mask := 1; mask < 1<<len(values); mask++ {
		var sum int64
		for i, v := range values {
			if mask&(1<<i) != 0 {
				sum += v
			}
		}
		if sum == target {
			return true
		}
	}

	return false
}

// dayDistance returns the whole-day distance between two dates, ignoring the
// time-of-day component.
func dayDistance(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(ad.Sub(bd).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
