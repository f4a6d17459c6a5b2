package checkout

import (
	"context"
	"fmt"

	"github.com/ucp/merchant/internal/domain/shared"
)

// PaymentHandler is a payment method the merchant accepts
type PaymentHandler struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Version string            `json:"version,omitempty"`
	Config  map[string]string `json:"config,omitempty"`
}

// PaymentInstrument is a buyer's instrument for one of the handlers.
// Credentials are never stored on the session.
type PaymentInstrument struct {
	ID          string `json:"id"`
	HandlerID   string `json:"handler_id"`
	HandlerName string `json:"handler_name,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Payment is the payment configuration of a session
type Payment struct {
	Handlers             []PaymentHandler    `json:"handlers"`
	Instruments          []PaymentInstrument `json:"instruments"`
	SelectedInstrumentID string              `json:"selected_instrument_id,omitempty"`
}

// Handler returns the offered handler with the given id
func (p *Payment) Handler(id string) (*PaymentHandler, bool) {
	for i := range p.Handlers {
		if p.Handlers[i].ID == id {
			return &p.Handlers[i], true
		}
	}
	return nil, false
}

// Instrument returns the instrument with the given id
func (p *Payment) Instrument(id string) (*PaymentInstrument, bool) {
	for i := range p.Instruments {
		if p.Instruments[i].ID == id {
			return &p.Instruments[i], true
		}
	}
	return nil, false
}

// SelectedInstrument returns the selected instrument, if any
func (p *Payment) SelectedInstrument() (*PaymentInstrument, bool) {
	if p.SelectedInstrumentID == "" {
		return nil, false
	}
	return p.Instrument(p.SelectedInstrumentID)
}

// ReplaceInstruments installs the buyer's instruments and selection
func (p *Payment) ReplaceInstruments(instruments []PaymentInstrument, selectedID string) error {
	for _, inst := range instruments {
		if _, ok := p.Handler(inst.HandlerID); !ok {
			return shared.NewDomainError(ErrUnknownPaymentHandler.Code,
				fmt.Sprintf("Payment handler %s is not offered by the merchant", inst.HandlerID))
		}
	}
	next := Payment{Handlers: p.Handlers, Instruments: instruments}
	if selectedID != "" {
		if _, ok := next.Instrument(selectedID); !ok {
			return shared.NewDomainError(ErrUnknownInstrument.Code,
				fmt.Sprintf("Instrument %s is not among the payment instruments", selectedID))
		}
		next.SelectedInstrumentID = selectedID
	}
	if next.Instruments == nil {
		next.Instruments = []PaymentInstrument{}
	}
	*p = next
	return nil
}

// SelectInstrument adds or replaces an instrument and selects it
func (p *Payment) SelectInstrument(inst PaymentInstrument) error {
	if _, ok := p.Handler(inst.HandlerID); !ok {
		return shared.NewDomainError(ErrUnknownPaymentHandler.Code,
			fmt.Sprintf("Payment handler %s is not offered by the merchant", inst.HandlerID))
	}
	replaced := false
	for i := range p.Instruments {
		if p.Instruments[i].ID == inst.ID {
			p.Instruments[i] = inst
			replaced = true
		}
	}
	if !replaced {
		p.Instruments = append(p.Instruments, inst)
	}
	p.SelectedInstrumentID = inst.ID
	return nil
}

// Capabilities is what the merchant declares in discovery
type Capabilities struct {
	Handlers         []PaymentHandler
	FulfillmentTypes []string
}

// SupportsFulfillment reports whether the fulfillment type is offered
func (c Capabilities) SupportsFulfillment(kind string) bool {
	for _, t := range c.FulfillmentTypes {
		if t == kind {
			return true
		}
	}
	return false
}

// Discovery provides the merchant's declared capabilities
type Discovery interface {
	Capabilities(ctx context.Context) Capabilities
}

// Catalog resolves items to merchant products
type Catalog interface {
	// Product returns the product, or ErrUnknownItem
	Product(ctx context.Context, itemID string) (Product, error)
}
