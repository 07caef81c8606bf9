package match

import "github.com/quillon/receiptwise/internal/model"

// Allocate distributes a transaction total across receipt line items
// proportionally to each item's subtotal, in minor units. The transaction
// total may include tax and shipping not broken out per item. Rounding
// residual goes to the largest item so the result always sums to total
// exactly.
func Allocate(total int64, items []model.LineItem) []int64 {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return []int64{total}
	}

	subtotals := make([]int64, len(items))
	var sum int64
	largest := 0
	for i, item := range items {
		subtotals[i] = item.Subtotal()
		sum += subtotals[i]
		if subtotals[i] > subtotals[largest] {
			largest = i
		}
	}

	allocated := make([]int64, len(items))
	if sum == 0 {
		// Degenerate receipt with no usable prices: give everything to the
		// first item rather than divide by zero.
		allocated[0] = total
		return allocated
	}

	var allocatedSum int64
	for i, subtotal := range subtotals {
		// Round half up in integer arithmetic.
		allocated[i] = (total*subtotal + sum/2) / sum
		allocatedSum += allocated[i]
	}

	// Rounding correction: the residual may be positive or negative.
	allocated[largest] += total - allocatedSum

	return allocated
}
