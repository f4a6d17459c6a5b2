package checkout

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/shared"
)

// Item is the catalog entry a line item refers to
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Price is the unit price in currency minor units
	Price int64 `json:"price"`
}

// LineItem is a quantity of one catalog item in the cart
type LineItem struct {
	ID       string  `json:"id"`
	Item     Item    `json:"item"`
	Quantity int     `json:"quantity"`
	Totals   []Total `json:"totals"`
}

// Total is a typed amount in currency minor units
type Total struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

// Line item total types
const (
	TotalTypeSubtotal = "subtotal"
	TotalTypeTotal    = "total"
)

// Subtotal returns price times quantity
func (li LineItem) Subtotal() int64 {
	return li.Item.Price * int64(li.Quantity)
}

// LineItemDraft is a requested line item with its catalog item already resolved.
// An empty ID asks for a new line item.
type LineItemDraft struct {
	ID       string
	Item     Item
	Quantity int
}

// Product is a merchant catalog entry
type Product struct {
	ID    string
	Title string
	Price int64
}

// AsItem converts the product to a line item's item
func (p Product) AsItem() Item {
	return Item{ID: p.ID, Title: p.Title, Price: p.Price}
}

func newLineItem(d LineItemDraft) (LineItem, error) {
	if d.Quantity <= 0 {
		return LineItem{}, shared.NewDomainError(ErrInvalidQuantity.Code,
			fmt.Sprintf("Quantity for item %s must be positive", d.Item.ID))
	}
	li := LineItem{
		ID:       uuid.NewString(),
		Item:     d.Item,
		Quantity: d.Quantity,
	}
	li.refreshTotals()
	return li, nil
}

func (li *LineItem) refreshTotals() {
	sub := li.Subtotal()
	li.Totals = []Total{
		{Type: TotalTypeSubtotal, Amount: sub},
		{Type: TotalTypeTotal, Amount: sub},
	}
}

// sameLineItems compares ids, items and quantities in order
func sameLineItems(a, b []LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Item.ID != b[i].Item.ID || a[i].Quantity != b[i].Quantity {
			return false
		}
	}
	return true
}

func lineItemIDs(items []LineItem) []string {
	ids := make([]string, 0, len(items))
	for _, li := range items {
		ids = append(ids, li.ID)
	}
	return ids
}
