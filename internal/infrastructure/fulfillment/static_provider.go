// Package fulfillment provides the merchant's fulfillment collaborator: a
// static address book keyed by buyer email and a flat shipping rate table.
package fulfillment

import (
	"context"
	"strings"
	"time"

	"github.com/ucp/merchant/internal/domain/checkout"
)

// BuyerAddressID is the destination id of the address the buyer supplied
const BuyerAddressID = "addr_buyer"

// Rate is a shipping option offered for every destination
type Rate struct {
	ID     string
	Title  string
	Amount int64
}

// DefaultRates is the flat rate table, cheapest first
var DefaultRates = []Rate{
	{ID: "std-ship", Title: "Standard Shipping", Amount: 300},
	{ID: "exp-ship", Title: "Express Shipping", Amount: 1500},
}

// DefaultAddressBook returns the known addresses keyed by lower-case email
func DefaultAddressBook() map[string][]checkout.Destination {
	return map[string][]checkout.Destination{
		"john.doe@example.com": {
			{
				ID:       "addr_1",
				FullName: "John Doe",
				Address: checkout.Address{
					StreetAddress:   "123 Main St",
					AddressLocality: "Springfield",
					AddressRegion:   "IL",
					PostalCode:      "62704",
					AddressCountry:  "US",
				},
			},
			{
				ID:       "addr_2",
				FullName: "John Doe",
				Address: checkout.Address{
					StreetAddress:   "456 Oak Ave",
					AddressLocality: "Springfield",
					AddressRegion:   "IL",
					PostalCode:      "62701",
					AddressCountry:  "US",
				},
			},
		},
	}
}

// StaticProvider implements checkout.FulfillmentProvider from fixed tables
type StaticProvider struct {
	book    map[string][]checkout.Destination
	rates   []Rate
	latency time.Duration
}

// Option configures a StaticProvider
type Option func(*StaticProvider)

// WithAddressBook replaces the address book. Keys are matched case-insensitively.
func WithAddressBook(book map[string][]checkout.Destination) Option {
	return func(p *StaticProvider) {
		p.book = make(map[string][]checkout.Destination, len(book))
		for email, dests := range book {
			p.book[strings.ToLower(strings.TrimSpace(email))] = dests
		}
	}
}

// WithRates replaces the rate table
func WithRates(rates ...Rate) Option {
	return func(p *StaticProvider) {
		p.rates = rates
	}
}

// WithLatency delays every lookup, honoring cancellation
func WithLatency(d time.Duration) Option {
	return func(p *StaticProvider) {
		p.latency = d
	}
}

// NewStaticProvider creates a provider with the default tables
func NewStaticProvider(opts ...Option) *StaticProvider {
	p := &StaticProvider{rates: DefaultRates}
	WithAddressBook(DefaultAddressBook())(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Destinations returns the buyer's known addresses followed by the address
// the buyer supplied, if it is not already among them
func (p *StaticProvider) Destinations(ctx context.Context, items []checkout.LineItem, buyer *checkout.Buyer) ([]checkout.Destination, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if buyer == nil {
		return []checkout.Destination{}, nil
	}

	known := p.book[buyer.NormalizedEmail()]
	out := make([]checkout.Destination, 0, len(known)+1)
	out = append(out, known...)

	if buyer.Address != nil && buyer.Address.StreetAddress != "" {
		for _, d := range known {
			if d.Address == *buyer.Address {
				return out, nil
			}
		}
		out = append(out, checkout.Destination{
			ID:       BuyerAddressID,
			FullName: buyer.FullName,
			Address:  *buyer.Address,
		})
	}
	return out, nil
}

// OptionGroups returns one group covering all items with every rate as an option
func (p *StaticProvider) OptionGroups(ctx context.Context, items []checkout.LineItem, destination checkout.Destination) ([]checkout.FulfillmentGroup, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, len(items))
	for i, li := range items {
		ids[i] = li.ID
	}
	options := make([]checkout.FulfillmentOption, len(p.rates))
	for i, r := range p.rates {
		options[i] = checkout.FulfillmentOption{ID: r.ID, Title: r.Title, Amount: r.Amount}
	}
	return []checkout.FulfillmentGroup{{
		ID:          "group_" + destination.ID,
		LineItemIDs: ids,
		Options:     options,
	}}, nil
}

func (p *StaticProvider) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ checkout.FulfillmentProvider = (*StaticProvider)(nil)
