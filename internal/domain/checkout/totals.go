package checkout

import "time"

// TotalsSnapshot is one computed totals entry. Snapshots are appended, never edited.
type TotalsSnapshot struct {
	Sequence    int       `json:"sequence"`
	Subtotal    int64     `json:"subtotal"`
	Discount    int64     `json:"discount"`
	Fulfillment int64     `json:"fulfillment"`
	Amount      int64     `json:"amount"`
	ComputedAt  time.Time `json:"computed_at"`
}

func itemsSubtotal(items []LineItem) int64 {
	var total int64
	for _, li := range items {
		total += li.Subtotal()
	}
	return total
}
