package model

import "time"

// Channel identifies the notification source a receipt was extracted from.
type Channel string

const (
	// ChannelMarketplace is an online marketplace order (e.g. Amazon).
	ChannelMarketplace Channel = "marketplace-order"
	// ChannelPeerPayment is a peer-payment service receipt (e.g. PayPal).
	ChannelPeerPayment Channel = "peer-payment"
	// ChannelSubscription is a digital-goods/subscription billing charge.
	ChannelSubscription Channel = "subscription-billing"
	// ChannelMultiItem is a person-to-person payment that may cover several items.
	ChannelMultiItem Channel = "multi-item-payment"
)

// AllChannels lists every supported source channel in processing order.
func AllChannels() []Channel {
	return []Channel{ChannelMarketplace, ChannelPeerPayment, ChannelSubscription, ChannelMultiItem}
}

// LineItem is a single purchased item on a receipt. UnitPrice is in minor units.
type LineItem struct {
	Title     string
	Seller    string
	UnitPrice int64
	Quantity  int
}

// Subtotal returns the item's own total (unit price times quantity).
func (li LineItem) Subtotal() int64 {
	q := li.Quantity
	if q <= 0 {
		q = 1
	}
	return li.UnitPrice * int64(q)
}

// Receipt is a structured purchase record produced by the extraction
// collaborator. It is read-only to the engine; fields may be missing when the
// source text was only partially parsable.
type Receipt struct {
	Date time.Time
	// Reference is the external order/payment id.
	Reference string
	Channel   Channel
	Items     []LineItem
	// ShipmentSubtotals carries per-shipment subtotals for orders charged in
	// multiple packages. A transaction can match the sum of a subset of these.
	ShipmentSubtotals []int64
	Total             int64
	Refund            bool
}
