// Package model defines the core domain models used throughout the application.
package model

import "time"

// Transaction represents a single ledger transaction as seen through the
// ledger adapter. Amounts are signed integer minor units (cents); negative
// amounts are credits/refunds.
type Transaction struct {
	Date     time.Time
	ID       string
	Payee    string
	Memo     string
	Category string
	Amount   int64
}

// IsRefundCandidate reports whether the transaction looks like a refund.
func (t *Transaction) IsRefundCandidate() bool {
	return t.Amount < 0
}

// AbsAmount returns the magnitude of the transaction amount in minor units.
func (t *Transaction) AbsAmount() int64 {
	if t.Amount < 0 {
		return -t.Amount
	}
	return t.Amount
}

// SplitPart is one leg of a ledger split write. The parts of a split must sum
// to the parent transaction's amount exactly.
type SplitPart struct {
	Category string
	Memo     string
	Amount   int64
}
