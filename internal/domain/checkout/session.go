package checkout

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/ucp/merchant/internal/domain/shared"
	"github.com/ucp/merchant/internal/domain/shared/valueobject"
)

// Session is the checkout aggregate root: cart, fulfillment and payment
type Session struct {
	shared.BaseAggregateRoot
	Status      Status               `json:"status"`
	Currency    valueobject.Currency `json:"currency"`
	LineItems   []LineItem           `json:"line_items"`
	Buyer       *Buyer               `json:"buyer,omitempty"`
	Discounts   Discounts            `json:"discounts"`
	Payment     Payment              `json:"payment"`
	Fulfillment *Fulfillment         `json:"fulfillment,omitempty"`
	Totals      []TotalsSnapshot     `json:"totals"`
	Messages    []Message            `json:"messages,omitempty"`
	Order       *Order               `json:"order,omitempty"`
	Failure     *Failure             `json:"failure,omitempty"`
	Processing  *Processing          `json:"processing,omitempty"`
	ExpiresAt   time.Time            `json:"expires_at"`

	// notes collected during the current mutation, folded into Messages by Reprice
	notes []Message
}

// MethodRequest is a requested fulfillment method. An empty ID matches the
// existing method at the same position, or creates a new one.
type MethodRequest struct {
	ID                    string
	Type                  string
	LineItemIDs           []string
	SelectedDestinationID string
	Groups                []GroupRequest
}

// GroupRequest selects an option of a fulfillment group. An empty ID matches by position.
type GroupRequest struct {
	ID               string
	SelectedOptionID string
}

// NewSession creates a new OPEN session. Callers apply fulfillment and then
// call Reprice before the session is stored.
func NewSession(currency string, drafts []LineItemDraft, buyer *Buyer, handlers []PaymentHandler, ttl time.Duration) (*Session, error) {
	cur, err := valueobject.ParseCurrency(currency)
	if err != nil {
		return nil, shared.NewDomainError(ErrInvalidCurrency.Code,
			fmt.Sprintf("Currency %q is not an ISO 4217 code", currency))
	}
	if len(drafts) == 0 {
		return nil, ErrEmptyCart
	}

	s := &Session{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Status:            StatusOpen,
		Currency:          cur,
		Discounts:         Discounts{Codes: []string{}, Applied: []AppliedDiscount{}},
		Payment: Payment{
			Handlers:    clonePaymentHandlers(handlers),
			Instruments: []PaymentInstrument{},
		},
		Totals: []TotalsSnapshot{},
	}
	if ttl > 0 {
		s.ExpiresAt = s.CreatedAt.Add(ttl)
	}

	// line item ids are server assigned on creation
	fresh := make([]LineItemDraft, len(drafts))
	for i, d := range drafts {
		d.ID = ""
		fresh[i] = d
	}
	if _, err := s.ReplaceLineItems(fresh); err != nil {
		return nil, err
	}
	s.SetBuyer(buyer)
	return s, nil
}

// Amount returns the authoritative total, the last snapshot's amount
func (s *Session) Amount() int64 {
	if t, ok := s.CurrentTotals(); ok {
		return t.Amount
	}
	return 0
}

// CurrentTotals returns the last totals snapshot
func (s *Session) CurrentTotals() (TotalsSnapshot, bool) {
	if len(s.Totals) == 0 {
		return TotalsSnapshot{}, false
	}
	return s.Totals[len(s.Totals)-1], true
}

// IsExpired reports whether a non-terminal session outlived its TTL
func (s *Session) IsExpired(now time.Time) bool {
	return !s.Status.IsTerminal() && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// IsProcessing reports whether a settlement is in flight
func (s *Session) IsProcessing(now time.Time) bool {
	return s.Processing != nil && !s.Processing.Expired(now)
}

// EnsureMutable returns an error unless updates are accepted
func (s *Session) EnsureMutable(now time.Time) error {
	if !s.Status.IsMutable() {
		return shared.NewDomainError(ErrSessionImmutable.Code,
			fmt.Sprintf("Checkout session is %s and can no longer be modified", s.Status))
	}
	if s.IsProcessing(now) {
		return ErrSettlementInProgress
	}
	if s.IsExpired(now) {
		return ErrSessionExpired
	}
	return nil
}

// RecoverStaleSettlement fails a session whose processing marker outlived its
// deadline without a commit. Returns whether the session changed.
func (s *Session) RecoverStaleSettlement(now time.Time) bool {
	if s.Processing == nil || !s.Processing.Expired(now) || s.Status.IsTerminal() {
		return false
	}
	s.Fail(Failure{
		Kind:   FailureKindTimeout,
		Reason: "settlement did not report an outcome before its deadline",
	}, now)
	return true
}

// ReplaceLineItems installs the full requested line item list. Drafts with an
// ID must refer to existing line items. Returns whether the cart changed.
func (s *Session) ReplaceLineItems(drafts []LineItemDraft) (bool, error) {
	if len(drafts) == 0 {
		return false, ErrEmptyCart
	}

	existing := make(map[string]LineItem, len(s.LineItems))
	for _, li := range s.LineItems {
		existing[li.ID] = li
	}
	seen := make(map[string]struct{}, len(drafts))
	next := make([]LineItem, 0, len(drafts))

	for _, d := range drafts {
		if d.ID == "" {
			li, err := newLineItem(d)
			if err != nil {
				return false, err
			}
			next = append(next, li)
			continue
		}
		if _, dup := seen[d.ID]; dup {
			return false, shared.NewDomainError(ErrDuplicateLineItem.Code,
				fmt.Sprintf("Line item %s appears more than once", d.ID))
		}
		seen[d.ID] = struct{}{}
		li, ok := existing[d.ID]
		if !ok {
			return false, shared.NewDomainError(ErrStaleWrite.Code,
				fmt.Sprintf("Line item %s does not exist in this session", d.ID))
		}
		if d.Quantity <= 0 {
			return false, shared.NewDomainError(ErrInvalidQuantity.Code,
				fmt.Sprintf("Quantity for line item %s must be positive", d.ID))
		}
		if d.Item.ID != li.Item.ID {
			return false, shared.NewDomainError(ErrStaleWrite.Code,
				fmt.Sprintf("Line item %s refers to item %s, not %s", d.ID, li.Item.ID, d.Item.ID))
		}
		li.Item = d.Item
		li.Quantity = d.Quantity
		li.refreshTotals()
		next = append(next, li)
	}

	changed := !sameLineItems(s.LineItems, next)
	previous := lineItemIDs(s.LineItems)
	s.LineItems = next
	if changed {
		s.retargetMethods(previous)
	}
	return changed, nil
}

// retargetMethods keeps methods pointing at live line items and drops their
// option groups, which were priced for the previous cart
func (s *Session) retargetMethods(previousIDs []string) {
	if s.Fulfillment == nil {
		return
	}
	all := lineItemIDs(s.LineItems)
	for i := range s.Fulfillment.Methods {
		m := &s.Fulfillment.Methods[i]
		if slices.Equal(m.LineItemIDs, previousIDs) {
			m.LineItemIDs = all
		} else {
			kept := make([]string, 0, len(m.LineItemIDs))
			for _, id := range m.LineItemIDs {
				if slices.Contains(all, id) {
					kept = append(kept, id)
				}
			}
			if len(kept) == 0 {
				kept = all
			}
			m.LineItemIDs = kept
		}
		m.ClearOptions()
	}
}

// SetBuyer replaces the buyer. A different email or address invalidates the
// candidate destinations so they are looked up again.
func (s *Session) SetBuyer(b *Buyer) {
	var next *Buyer
	if b != nil {
		cp := *b
		if b.Address != nil {
			addr := *b.Address
			cp.Address = &addr
		}
		next = &cp
	}
	if !sameContact(s.Buyer, next) && s.Fulfillment != nil {
		for i := range s.Fulfillment.Methods {
			s.Fulfillment.Methods[i].Destinations = []Destination{}
		}
	}
	s.Buyer = next
}

func sameContact(a, b *Buyer) bool {
	if a.NormalizedEmail() != b.NormalizedEmail() {
		return false
	}
	var aa, ba Address
	if a != nil && a.Address != nil {
		aa = *a.Address
	}
	if b != nil && b.Address != nil {
		ba = *b.Address
	}
	return aa == ba
}

// SetDiscountCodes replaces the requested discount codes
func (s *Session) SetDiscountCodes(codes []string) {
	s.Discounts.Codes = append([]string{}, codes...)
}

// ReplacePayment installs the buyer's instruments and selection
func (s *Session) ReplacePayment(instruments []PaymentInstrument, selectedID string) error {
	return s.Payment.ReplaceInstruments(instruments, selectedID)
}

// ApplyFulfillment reconciles the requested methods with the current ones.
// A destination change in this request drops the method's groups and the
// option selections sent alongside it.
func (s *Session) ApplyFulfillment(reqs []MethodRequest, caps Capabilities) error {
	var current []FulfillmentMethod
	if s.Fulfillment != nil {
		current = s.Fulfillment.Methods
	}
	used := make(map[string]struct{}, len(current))
	next := make([]FulfillmentMethod, 0, len(reqs))

	for i, r := range reqs {
		m, err := s.matchMethod(current, i, r, used, caps)
		if err != nil {
			return err
		}
		used[m.ID] = struct{}{}
		if err := s.applyMethodRequest(&m, r); err != nil {
			return err
		}
		next = append(next, m)
	}

	if len(next) == 0 {
		s.Fulfillment = nil
		return nil
	}
	s.Fulfillment = &Fulfillment{Methods: next}
	return nil
}

func (s *Session) matchMethod(current []FulfillmentMethod, i int, r MethodRequest, used map[string]struct{}, caps Capabilities) (FulfillmentMethod, error) {
	if r.ID != "" {
		for _, m := range current {
			if m.ID != r.ID {
				continue
			}
			if _, dup := used[m.ID]; dup {
				return FulfillmentMethod{}, shared.NewDomainError(ErrStaleWrite.Code,
					fmt.Sprintf("Fulfillment method %s appears more than once", r.ID))
			}
			if r.Type != "" && r.Type != m.Type {
				return FulfillmentMethod{}, shared.NewDomainError(ErrStaleWrite.Code,
					fmt.Sprintf("Fulfillment method %s has type %s, not %s", m.ID, m.Type, r.Type))
			}
			return m, nil
		}
		return FulfillmentMethod{}, shared.NewDomainError(ErrStaleWrite.Code,
			fmt.Sprintf("Fulfillment method %s does not exist in this session", r.ID))
	}

	if i < len(current) {
		m := current[i]
		if _, dup := used[m.ID]; !dup && (r.Type == "" || r.Type == m.Type) {
			return m, nil
		}
	}

	kind := r.Type
	if kind == "" {
		kind = FulfillmentTypeShipping
	}
	if !caps.SupportsFulfillment(kind) {
		return FulfillmentMethod{}, shared.NewDomainError(ErrUnsupportedFulfillment.Code,
			fmt.Sprintf("Fulfillment type %s is not supported", kind))
	}
	return FulfillmentMethod{
		ID:           uuid.NewString(),
		Type:         kind,
		LineItemIDs:  lineItemIDs(s.LineItems),
		Destinations: []Destination{},
		Groups:       []FulfillmentGroup{},
	}, nil
}

func (s *Session) applyMethodRequest(m *FulfillmentMethod, r MethodRequest) error {
	if r.LineItemIDs != nil {
		ids := lineItemIDs(s.LineItems)
		for _, id := range r.LineItemIDs {
			if !slices.Contains(ids, id) {
				return shared.NewDomainError(ErrStaleWrite.Code,
					fmt.Sprintf("Line item %s does not exist in this session", id))
			}
		}
		if len(r.LineItemIDs) > 0 && !slices.Equal(r.LineItemIDs, m.LineItemIDs) {
			m.LineItemIDs = append([]string{}, r.LineItemIDs...)
			m.ClearOptions()
		}
	}

	if r.SelectedDestinationID != "" {
		changed, err := m.SelectDestination(r.SelectedDestinationID)
		if err != nil {
			return err
		}
		if changed {
			return nil
		}
	}

	// groups are regenerated after this mutation; selections against them are void
	if len(m.Groups) == 0 {
		return nil
	}
	for j, g := range r.Groups {
		if g.SelectedOptionID == "" {
			continue
		}
		groupID := g.ID
		if groupID == "" {
			if j >= len(m.Groups) {
				return shared.NewDomainError(ErrStaleWrite.Code,
					fmt.Sprintf("Fulfillment method %s has no group at position %d", m.ID, j))
			}
			groupID = m.Groups[j].ID
		}
		if err := m.SelectOption(groupID, g.SelectedOptionID); err != nil {
			return err
		}
	}
	return nil
}

// PendingLookups lists methods that need candidate destinations and methods
// that need option groups for their selected destination
func (s *Session) PendingLookups() (destinations, groups []string) {
	if s.Fulfillment == nil {
		return nil, nil
	}
	for _, m := range s.Fulfillment.Methods {
		if len(m.Destinations) == 0 {
			destinations = append(destinations, m.ID)
		}
		if m.SelectedDestinationID != "" && len(m.Groups) == 0 {
			groups = append(groups, m.ID)
		}
	}
	return destinations, groups
}

// MethodItems returns the line items covered by a method
func (s *Session) MethodItems(methodID string) []LineItem {
	if s.Fulfillment == nil {
		return nil
	}
	m, ok := s.Fulfillment.Method(methodID)
	if !ok {
		return nil
	}
	items := make([]LineItem, 0, len(m.LineItemIDs))
	for _, li := range s.LineItems {
		if slices.Contains(m.LineItemIDs, li.ID) {
			items = append(items, li)
		}
	}
	return items
}

// SetDestinations installs looked up candidate destinations. A selected
// destination that is no longer a candidate is cleared.
func (s *Session) SetDestinations(methodID string, destinations []Destination) error {
	m, err := s.method(methodID)
	if err != nil {
		return err
	}
	if destinations == nil {
		destinations = []Destination{}
	}
	m.Destinations = destinations
	if m.SelectedDestinationID != "" {
		if _, ok := m.Destination(m.SelectedDestinationID); !ok {
			s.notes = append(s.notes, Message{
				Type:    MessageTypeWarning,
				Code:    MessageCodeDestinationReset,
				Path:    fmt.Sprintf("fulfillment.methods[%s].selected_destination_id", m.ID),
				Content: fmt.Sprintf("Destination %s is no longer available", m.SelectedDestinationID),
			})
			m.SelectedDestinationID = ""
			m.ClearOptions()
		}
	}
	return nil
}

// SetGroups installs option groups computed for a method's selected destination
func (s *Session) SetGroups(methodID string, groups []FulfillmentGroup) error {
	m, err := s.method(methodID)
	if err != nil {
		return err
	}
	return m.SetGroups(groups)
}

func (s *Session) method(id string) (*FulfillmentMethod, error) {
	if s.Fulfillment != nil {
		if m, ok := s.Fulfillment.Method(id); ok {
			return m, nil
		}
	}
	return nil, shared.NewDomainError(ErrStaleWrite.Code,
		fmt.Sprintf("Fulfillment method %s does not exist in this session", id))
}

// Reprice recomputes discounts, appends a totals snapshot and derives the status.
// Every accepted mutation ends with a call to Reprice.
func (s *Session) Reprice(policy DiscountPolicy, now time.Time) {
	subtotal := itemsSubtotal(s.LineItems)
	discounts, unknown := applyDiscounts(s.Discounts.Codes, subtotal, policy)
	s.Discounts = discounts

	var fulfillment int64
	if s.Fulfillment != nil {
		fulfillment = s.Fulfillment.SelectedAmount()
	}
	discount := discounts.TotalAmount()

	s.Totals = append(s.Totals, TotalsSnapshot{
		Sequence:    len(s.Totals) + 1,
		Subtotal:    subtotal,
		Discount:    discount,
		Fulfillment: fulfillment,
		Amount:      subtotal - discount + fulfillment,
		ComputedAt:  now.UTC(),
	})

	messages := s.notes
	for _, code := range unknown {
		messages = append(messages, Message{
			Type:    MessageTypeWarning,
			Code:    MessageCodeDiscountInvalid,
			Path:    "discounts.codes",
			Content: fmt.Sprintf("Discount code %s is not valid", code),
		})
	}
	s.Messages = messages
	s.notes = nil

	s.Status = s.deriveStatus()
	s.Touch(now.UTC())
}

func (s *Session) deriveStatus() Status {
	if s.Fulfillment == nil || len(s.Fulfillment.Methods) == 0 {
		return StatusOpen
	}
	for i := range s.Fulfillment.Methods {
		if !s.Fulfillment.Methods[i].IsComplete() {
			return StatusFulfillmentPending
		}
	}
	return StatusReady
}

// BeginSettlement selects the instrument and marks the session processing
func (s *Session) BeginSettlement(inst PaymentInstrument, idempotencyKey string, expectedAmount int64, deadline, now time.Time) error {
	if err := s.EnsureMutable(now); err != nil {
		return err
	}
	if err := s.Payment.SelectInstrument(inst); err != nil {
		return err
	}
	s.Processing = &Processing{
		IdempotencyKey: idempotencyKey,
		StartedAt:      now.UTC(),
		ExpectedAmount: expectedAmount,
		Deadline:       deadline.UTC(),
	}
	s.Touch(now.UTC())
	return nil
}

// Complete finalizes a processing session into an order
func (s *Session) Complete(order Order, now time.Time) error {
	if s.Processing == nil || !s.Status.CanTransitionTo(StatusCompleted) {
		return shared.NewDomainError(shared.ErrInvalidState.Code,
			fmt.Sprintf("Cannot complete a session in %s without a settlement in flight", s.Status))
	}
	s.Status = StatusCompleted
	s.Order = &order
	s.Failure = nil
	s.Processing = nil
	s.Touch(now.UTC())
	s.AddDomainEvent(NewSessionCompletedEvent(s))
	return nil
}

// Fail moves the session to FAILED. Totals and line items are left untouched.
func (s *Session) Fail(f Failure, now time.Time) {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = StatusFailed
	s.Failure = &f
	s.Processing = nil
	s.Touch(now.UTC())
	s.AddDomainEvent(NewSessionFailedEvent(s))
}

// Clone returns a deep copy without pending domain events
func (s *Session) Clone() *Session {
	c := *s
	c.ClearDomainEvents()
	c.notes = nil

	c.LineItems = make([]LineItem, len(s.LineItems))
	for i, li := range s.LineItems {
		li.Totals = append([]Total(nil), li.Totals...)
		c.LineItems[i] = li
	}
	if s.Buyer != nil {
		b := *s.Buyer
		if s.Buyer.Address != nil {
			a := *s.Buyer.Address
			b.Address = &a
		}
		c.Buyer = &b
	}
	c.Discounts = Discounts{
		Codes:   append([]string{}, s.Discounts.Codes...),
		Applied: append([]AppliedDiscount{}, s.Discounts.Applied...),
	}
	c.Payment = Payment{
		Handlers:             clonePaymentHandlers(s.Payment.Handlers),
		Instruments:          append([]PaymentInstrument{}, s.Payment.Instruments...),
		SelectedInstrumentID: s.Payment.SelectedInstrumentID,
	}
	if s.Fulfillment != nil {
		methods := make([]FulfillmentMethod, len(s.Fulfillment.Methods))
		for i, m := range s.Fulfillment.Methods {
			m.LineItemIDs = append([]string{}, m.LineItemIDs...)
			m.Destinations = append([]Destination{}, m.Destinations...)
			groups := make([]FulfillmentGroup, len(m.Groups))
			for j, g := range m.Groups {
				g.LineItemIDs = append([]string{}, g.LineItemIDs...)
				g.Options = append([]FulfillmentOption{}, g.Options...)
				groups[j] = g
			}
			m.Groups = groups
			methods[i] = m
		}
		c.Fulfillment = &Fulfillment{Methods: methods}
	}
	c.Totals = append([]TotalsSnapshot{}, s.Totals...)
	c.Messages = append([]Message(nil), s.Messages...)
	if s.Order != nil {
		o := *s.Order
		o.Metadata = make(map[string]string, len(s.Order.Metadata))
		for k, v := range s.Order.Metadata {
			o.Metadata[k] = v
		}
		c.Order = &o
	}
	if s.Failure != nil {
		f := *s.Failure
		c.Failure = &f
	}
	if s.Processing != nil {
		p := *s.Processing
		c.Processing = &p
	}
	return &c
}

func clonePaymentHandlers(in []PaymentHandler) []PaymentHandler {
	out := make([]PaymentHandler, len(in))
	for i, h := range in {
		if h.Config != nil {
			cfg := make(map[string]string, len(h.Config))
			for k, v := range h.Config {
				cfg[k] = v
			}
			h.Config = cfg
		}
		out[i] = h
	}
	return out
}
