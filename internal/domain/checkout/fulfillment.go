package checkout

import (
	"context"
	"fmt"

	"github.com/ucp/merchant/internal/domain/shared"
)

// FulfillmentTypeShipping is the only fulfillment type the merchant offers
const FulfillmentTypeShipping = "shipping"

// Destination is a candidate place to fulfill to
type Destination struct {
	ID       string `json:"id"`
	FullName string `json:"full_name,omitempty"`
	Address
}

// FulfillmentOption is a priced way of fulfilling a group
type FulfillmentOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Amount is the price in currency minor units
	Amount int64 `json:"amount"`
}

// FulfillmentGroup is a set of line items fulfilled together
type FulfillmentGroup struct {
	ID               string              `json:"id"`
	LineItemIDs      []string            `json:"line_item_ids"`
	Options          []FulfillmentOption `json:"options"`
	SelectedOptionID string              `json:"selected_option_id,omitempty"`
}

// Option returns the option with the given id
func (g *FulfillmentGroup) Option(id string) (*FulfillmentOption, bool) {
	for i := range g.Options {
		if g.Options[i].ID == id {
			return &g.Options[i], true
		}
	}
	return nil, false
}

// SelectOption selects one of the group's options
func (g *FulfillmentGroup) SelectOption(id string) error {
	if _, ok := g.Option(id); !ok {
		return shared.NewDomainError(ErrUnknownOption.Code,
			fmt.Sprintf("Option %s is not offered for group %s", id, g.ID))
	}
	g.SelectedOptionID = id
	return nil
}

// SelectedAmount returns the selected option's price, or 0
func (g *FulfillmentGroup) SelectedAmount() int64 {
	if g.SelectedOptionID == "" {
		return 0
	}
	if opt, ok := g.Option(g.SelectedOptionID); ok {
		return opt.Amount
	}
	return 0
}

// FulfillmentMethod is one requested way of fulfilling the cart
type FulfillmentMethod struct {
	ID                    string             `json:"id"`
	Type                  string             `json:"type"`
	LineItemIDs           []string           `json:"line_item_ids"`
	Destinations          []Destination      `json:"destinations"`
	SelectedDestinationID string             `json:"selected_destination_id,omitempty"`
	Groups                []FulfillmentGroup `json:"groups"`
}

// Destination returns the candidate destination with the given id
func (m *FulfillmentMethod) Destination(id string) (*Destination, bool) {
	for i := range m.Destinations {
		if m.Destinations[i].ID == id {
			return &m.Destinations[i], true
		}
	}
	return nil, false
}

// SelectedDestination returns the selected destination, if any
func (m *FulfillmentMethod) SelectedDestination() (*Destination, bool) {
	if m.SelectedDestinationID == "" {
		return nil, false
	}
	return m.Destination(m.SelectedDestinationID)
}

// SelectDestination selects a candidate destination. Changing the destination
// drops the option groups computed for the previous one. Returns whether the
// selection changed.
func (m *FulfillmentMethod) SelectDestination(id string) (bool, error) {
	if _, ok := m.Destination(id); !ok {
		return false, shared.NewDomainError(ErrUnknownDestination.Code,
			fmt.Sprintf("Destination %s is not a candidate for method %s", id, m.ID))
	}
	if m.SelectedDestinationID == id {
		return false, nil
	}
	m.SelectedDestinationID = id
	m.Groups = []FulfillmentGroup{}
	return true, nil
}

// SetGroups installs freshly computed option groups. Selections are cleared.
func (m *FulfillmentMethod) SetGroups(groups []FulfillmentGroup) error {
	if m.SelectedDestinationID == "" {
		return ErrDestinationRequired
	}
	for i := range groups {
		groups[i].SelectedOptionID = ""
	}
	m.Groups = groups
	return nil
}

// Group returns the group with the given id
func (m *FulfillmentMethod) Group(id string) (*FulfillmentGroup, bool) {
	for i := range m.Groups {
		if m.Groups[i].ID == id {
			return &m.Groups[i], true
		}
	}
	return nil, false
}

// SelectOption selects an option of a group; a destination must be selected first
func (m *FulfillmentMethod) SelectOption(groupID, optionID string) error {
	if m.SelectedDestinationID == "" {
		return ErrDestinationRequired
	}
	g, ok := m.Group(groupID)
	if !ok {
		return shared.NewDomainError(ErrStaleWrite.Code,
			fmt.Sprintf("Fulfillment group %s does not exist", groupID))
	}
	return g.SelectOption(optionID)
}

// ClearOptions drops the computed groups so they are regenerated
func (m *FulfillmentMethod) ClearOptions() {
	m.Groups = []FulfillmentGroup{}
}

// IsComplete reports whether a destination and every group's option are selected
func (m *FulfillmentMethod) IsComplete() bool {
	if m.SelectedDestinationID == "" || len(m.Groups) == 0 {
		return false
	}
	for i := range m.Groups {
		if m.Groups[i].SelectedOptionID == "" {
			return false
		}
	}
	return true
}

// SelectedAmount sums the selected options' prices
func (m *FulfillmentMethod) SelectedAmount() int64 {
	var total int64
	for i := range m.Groups {
		total += m.Groups[i].SelectedAmount()
	}
	return total
}

// Fulfillment holds the requested fulfillment methods
type Fulfillment struct {
	Methods []FulfillmentMethod `json:"methods"`
}

// Method returns the method with the given id
func (f *Fulfillment) Method(id string) (*FulfillmentMethod, bool) {
	for i := range f.Methods {
		if f.Methods[i].ID == id {
			return &f.Methods[i], true
		}
	}
	return nil, false
}

// SelectedAmount sums the selected options across methods
func (f *Fulfillment) SelectedAmount() int64 {
	var total int64
	for i := range f.Methods {
		total += f.Methods[i].SelectedAmount()
	}
	return total
}

// FulfillmentProvider enumerates destinations and priced options. For the
// checkout state machine it is a pure function of its inputs, but calls may be slow.
type FulfillmentProvider interface {
	// Destinations returns candidate destinations for the buyer
	Destinations(ctx context.Context, items []LineItem, buyer *Buyer) ([]Destination, error)
	// OptionGroups returns priced option groups for a destination
	OptionGroups(ctx context.Context, items []LineItem, destination Destination) ([]FulfillmentGroup, error)
}
