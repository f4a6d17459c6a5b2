package checkout

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/ucp/merchant/internal/domain/checkout"
)

// ItemRequest references a catalog item. Title and price sent by clients are ignored.
type ItemRequest struct {
	ID    string `json:"id" binding:"required,max=128"`
	Title string `json:"title,omitempty"`
}

// LineItemRequest is a requested cart line. An empty ID adds a new line item.
type LineItemRequest struct {
	ID       string      `json:"id,omitempty" binding:"max=64"`
	Item     ItemRequest `json:"item" binding:"required"`
	Quantity int         `json:"quantity" binding:"required,min=1,max=10000"`
}

// BuyerRequest is the buyer's contact record
type BuyerRequest struct {
	FullName    string          `json:"full_name,omitempty" binding:"max=200"`
	Email       string          `json:"email,omitempty" binding:"omitempty,email"`
	PhoneNumber string          `json:"phone_number,omitempty" binding:"max=50"`
	Address     *AddressRequest `json:"address,omitempty"`
}

// AddressRequest is a postal address
type AddressRequest struct {
	StreetAddress   string `json:"street_address,omitempty"`
	AddressLocality string `json:"address_locality,omitempty"`
	AddressRegion   string `json:"address_region,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	AddressCountry  string `json:"address_country,omitempty"`
}

// DiscountsRequest carries the requested discount codes
type DiscountsRequest struct {
	Codes []string `json:"codes" binding:"max=10,dive,max=64"`
}

// InstrumentRequest is a buyer payment instrument
type InstrumentRequest struct {
	ID          string `json:"id" binding:"required,max=128"`
	HandlerID   string `json:"handler_id" binding:"required"`
	HandlerName string `json:"handler_name,omitempty"`
	Type        string `json:"type,omitempty"`
}

// PaymentRequest is the client's payment view. Handlers are echoed back by
// clients and ignored; the merchant's discovery handlers are authoritative.
type PaymentRequest struct {
	Handlers             []json.RawMessage   `json:"handlers,omitempty"`
	Instruments          []InstrumentRequest `json:"instruments" binding:"dive"`
	SelectedInstrumentID string              `json:"selected_instrument_id,omitempty"`
}

// GroupRequest selects an option for a fulfillment group
type GroupRequest struct {
	ID               string `json:"id,omitempty"`
	SelectedOptionID string `json:"selected_option_id,omitempty"`
}

// MethodRequest is a requested fulfillment method
type MethodRequest struct {
	ID                    string         `json:"id,omitempty"`
	Type                  string         `json:"type,omitempty" binding:"omitempty,oneof=shipping"`
	LineItemIDs           []string       `json:"line_item_ids,omitempty"`
	SelectedDestinationID string         `json:"selected_destination_id,omitempty"`
	Groups                []GroupRequest `json:"groups,omitempty" binding:"dive"`
}

// FulfillmentRequest lists the requested fulfillment methods
type FulfillmentRequest struct {
	Methods []MethodRequest `json:"methods" binding:"dive"`
}

// CreateSessionRequest creates a checkout session
type CreateSessionRequest struct {
	Currency    string              `json:"currency" binding:"required,iso4217"`
	LineItems   []LineItemRequest   `json:"line_items" binding:"required,min=1,max=100,dive"`
	Buyer       *BuyerRequest       `json:"buyer,omitempty"`
	Payment     *PaymentRequest     `json:"payment,omitempty"`
	Fulfillment *FulfillmentRequest `json:"fulfillment,omitempty"`
}

// UpdateSessionRequest replaces the cart. Line items and payment have put
// semantics; omitted buyer, fulfillment or discounts keep their current value.
type UpdateSessionRequest struct {
	ID          string              `json:"id,omitempty"`
	Currency    string              `json:"currency" binding:"required,iso4217"`
	LineItems   []LineItemRequest   `json:"line_items" binding:"required,min=1,max=100,dive"`
	Buyer       *BuyerRequest       `json:"buyer,omitempty"`
	Payment     *PaymentRequest     `json:"payment" binding:"required"`
	Fulfillment *FulfillmentRequest `json:"fulfillment,omitempty"`
	Discounts   *DiscountsRequest   `json:"discounts,omitempty"`
}

// Credential is the signed ledger transaction, base64 encoded. It is accepted
// as a bare string or as an object with a token field.
type Credential string

// UnmarshalJSON implements json.Unmarshaler
func (c *Credential) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*c = Credential(obj.Token)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("credential must be a string or an object with a token")
	}
	*c = Credential(s)
	return nil
}

// PaymentData is the instrument and credential used to complete
type PaymentData struct {
	ID          string     `json:"id" binding:"required,max=128"`
	HandlerID   string     `json:"handler_id" binding:"required"`
	HandlerName string     `json:"handler_name,omitempty"`
	Type        string     `json:"type,omitempty"`
	Credential  Credential `json:"credential"`
}

// CompleteSessionRequest completes a checkout session with a payment
type CompleteSessionRequest struct {
	PaymentData PaymentData `json:"payment_data" binding:"required"`
	// TimeoutMS bounds the settlement; it is capped by the server limit
	TimeoutMS   int            `json:"timeout_ms,omitempty" binding:"min=0"`
	RiskSignals map[string]any `json:"risk_signals,omitempty"`
}

// ProcessingResponse is shown while a settlement is in flight
type ProcessingResponse struct {
	IdempotencyKey string    `json:"idempotency_key"`
	StartedAt      time.Time `json:"started_at"`
}

// SessionResponse is the client view of a checkout session
type SessionResponse struct {
	ID          string                    `json:"id"`
	Status      string                    `json:"status"`
	Currency    string                    `json:"currency"`
	LineItems   []checkout.LineItem       `json:"line_items"`
	Buyer       *checkout.Buyer           `json:"buyer,omitempty"`
	Discounts   checkout.Discounts        `json:"discounts"`
	Payment     checkout.Payment          `json:"payment"`
	Fulfillment *checkout.Fulfillment     `json:"fulfillment,omitempty"`
	Totals      []checkout.TotalsSnapshot `json:"totals"`
	Messages    []checkout.Message        `json:"messages,omitempty"`
	Order       *checkout.Order           `json:"order,omitempty"`
	Failure     *checkout.Failure         `json:"failure,omitempty"`
	Processing  *ProcessingResponse       `json:"processing,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	ExpiresAt   *time.Time                `json:"expires_at,omitempty"`
}

// ToSessionResponse converts a session to its client view
func ToSessionResponse(s *checkout.Session) *SessionResponse {
	s = s.Clone()
	resp := &SessionResponse{
		ID:          s.ID.String(),
		Status:      s.Status.String(),
		Currency:    s.Currency.String(),
		LineItems:   s.LineItems,
		Buyer:       s.Buyer,
		Discounts:   s.Discounts,
		Payment:     s.Payment,
		Fulfillment: s.Fulfillment,
		Totals:      s.Totals,
		Messages:    s.Messages,
		Order:       s.Order,
		Failure:     s.Failure,
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   s.UpdatedAt.UTC(),
	}
	if resp.LineItems == nil {
		resp.LineItems = []checkout.LineItem{}
	}
	if resp.Totals == nil {
		resp.Totals = []checkout.TotalsSnapshot{}
	}
	if s.Processing != nil {
		resp.Processing = &ProcessingResponse{
			IdempotencyKey: s.Processing.IdempotencyKey,
			StartedAt:      s.Processing.StartedAt,
		}
	}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt.UTC()
		resp.ExpiresAt = &exp
	}
	return resp
}

// Result is the outcome of a checkout call. Body is the JSON rendering of
// Session; replays return the stored Body unchanged.
type Result struct {
	Session *SessionResponse
	Body    json.RawMessage
	// Created is set when a create call made a new session
	Created  bool
	Replayed bool
	// StillProcessing is set when a read returned the last committed snapshot
	// of a session that is being settled or mutated
	StillProcessing bool
}

func newResult(s *checkout.Session) (*Result, error) {
	view := ToSessionResponse(s)
	body, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return &Result{Session: view, Body: body}, nil
}

func (r *BuyerRequest) toDomain() *checkout.Buyer {
	if r == nil {
		return nil
	}
	b := &checkout.Buyer{
		FullName:    r.FullName,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
	}
	if r.Address != nil {
		b.Address = &checkout.Address{
			StreetAddress:   r.Address.StreetAddress,
			AddressLocality: r.Address.AddressLocality,
			AddressRegion:   r.Address.AddressRegion,
			PostalCode:      r.Address.PostalCode,
			AddressCountry:  r.Address.AddressCountry,
		}
	}
	return b
}

func (r *PaymentRequest) instruments() []checkout.PaymentInstrument {
	out := make([]checkout.PaymentInstrument, 0, len(r.Instruments))
	for _, i := range r.Instruments {
		out = append(out, checkout.PaymentInstrument{
			ID:          i.ID,
			HandlerID:   i.HandlerID,
			HandlerName: i.HandlerName,
			Type:        i.Type,
		})
	}
	return out
}

func (r *FulfillmentRequest) toDomain() []checkout.MethodRequest {
	out := make([]checkout.MethodRequest, 0, len(r.Methods))
	for _, m := range r.Methods {
		groups := make([]checkout.GroupRequest, 0, len(m.Groups))
		for _, g := range m.Groups {
			groups = append(groups, checkout.GroupRequest{ID: g.ID, SelectedOptionID: g.SelectedOptionID})
		}
		out = append(out, checkout.MethodRequest{
			ID:                    m.ID,
			Type:                  m.Type,
			LineItemIDs:           m.LineItemIDs,
			SelectedDestinationID: m.SelectedDestinationID,
			Groups:                groups,
		})
	}
	return out
}
