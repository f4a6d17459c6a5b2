package checkout

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/ucp/merchant/internal/domain/shared/valueobject"
)

// DiscountRule is one entry of the merchant's discount code table
type DiscountRule struct {
	Code    string
	Title   string
	Percent decimal.Decimal
}

// DiscountPolicy resolves discount codes against the authoritative table
type DiscountPolicy interface {
	Lookup(code string) (DiscountRule, bool)
}

// DiscountTable is a DiscountPolicy backed by a map keyed by upper-case code
type DiscountTable map[string]DiscountRule

// NewDiscountTable builds a table from rules
func NewDiscountTable(rules ...DiscountRule) DiscountTable {
	t := make(DiscountTable, len(rules))
	for _, r := range rules {
		r.Code = NormalizeDiscountCode(r.Code)
		t[r.Code] = r
	}
	return t
}

// Lookup implements DiscountPolicy
func (t DiscountTable) Lookup(code string) (DiscountRule, bool) {
	r, ok := t[NormalizeDiscountCode(code)]
	return r, ok
}

// NormalizeDiscountCode trims and upper-cases a code
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AppliedDiscount is a recognized code and the amount it took off
type AppliedDiscount struct {
	Code    string          `json:"code"`
	Title   string          `json:"title,omitempty"`
	Percent decimal.Decimal `json:"percent"`
	Amount  int64           `json:"amount"`
}

// Discounts holds the requested codes and what they resolved to
type Discounts struct {
	Codes   []string          `json:"codes"`
	Applied []AppliedDiscount `json:"applied"`
}

// applyDiscounts resolves codes against policy and computes amounts off subtotal.
// The total taken off never exceeds subtotal. Unknown codes are returned separately.
func applyDiscounts(codes []string, subtotal int64, policy DiscountPolicy) (Discounts, []string) {
	out := Discounts{Codes: []string{}, Applied: []AppliedDiscount{}}
	var unknown []string
	seen := make(map[string]struct{}, len(codes))
	remaining := subtotal

	for _, raw := range codes {
		code := NormalizeDiscountCode(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out.Codes = append(out.Codes, code)

		rule, ok := lookup(policy, code)
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		amount := valueobject.PercentOf(subtotal, rule.Percent)
		if amount > remaining {
			amount = remaining
		}
		if amount < 0 {
			amount = 0
		}
		remaining -= amount
		out.Applied = append(out.Applied, AppliedDiscount{
			Code:    rule.Code,
			Title:   rule.Title,
			Percent: rule.Percent,
			Amount:  amount,
		})
	}
	return out, unknown
}

func lookup(policy DiscountPolicy, code string) (DiscountRule, bool) {
	if policy == nil {
		return DiscountRule{}, false
	}
	return policy.Lookup(code)
}

// TotalAmount sums the applied discount amounts
func (d Discounts) TotalAmount() int64 {
	var total int64
	for _, a := range d.Applied {
		total += a.Amount
	}
	return total
}
