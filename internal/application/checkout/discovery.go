package checkout

import (
	"context"
	"strings"

	"github.com/ucp/merchant/internal/domain/checkout"
	"github.com/ucp/merchant/internal/domain/settlement"
)

// Discovery constants
const (
	ProtocolVersion       = "2026-01-11"
	ShoppingService       = "dev.ucp.shopping"
	CheckoutCapability    = "dev.ucp.shopping.checkout"
	FulfillmentCapability = "dev.ucp.shopping.fulfillment"
	DiscountCapability    = "dev.ucp.shopping.discount"

	LedgerHandlerID      = "hedera_payment"
	LedgerHandlerName    = "com.hedera.hbar"
	LedgerHandlerVersion = "2026-01-11"
)

// Handler config keys advertised for the ledger handler
const (
	HandlerConfigMerchantAccount = "merchant_account_id"
	HandlerConfigNetwork         = "network"
)

// DiscoveryService declares what the merchant supports. It implements
// checkout.Discovery and renders the well-known profile.
type DiscoveryService struct {
	baseURL  string
	handlers []checkout.PaymentHandler
}

// NewDiscoveryService creates the discovery service for a merchant account on network
func NewDiscoveryService(baseURL string, merchant settlement.AccountID, network settlement.Network) *DiscoveryService {
	return &DiscoveryService{
		baseURL: strings.TrimRight(baseURL, "/"),
		handlers: []checkout.PaymentHandler{{
			ID:      LedgerHandlerID,
			Name:    LedgerHandlerName,
			Version: LedgerHandlerVersion,
			Config: map[string]string{
				HandlerConfigMerchantAccount: merchant.String(),
				HandlerConfigNetwork:         network.String(),
			},
		}},
	}
}

// Capabilities implements checkout.Discovery
func (d *DiscoveryService) Capabilities(ctx context.Context) checkout.Capabilities {
	handlers := make([]checkout.PaymentHandler, len(d.handlers))
	for i, h := range d.handlers {
		cfg := make(map[string]string, len(h.Config))
		for k, v := range h.Config {
			cfg[k] = v
		}
		h.Config = cfg
		handlers[i] = h
	}
	return checkout.Capabilities{
		Handlers:         handlers,
		FulfillmentTypes: []string{checkout.FulfillmentTypeShipping},
	}
}

// Profile is the /.well-known/ucp document
type Profile struct {
	UCP     ProfileUCP     `json:"ucp"`
	Payment ProfilePayment `json:"payment"`
}

// ProfileUCP lists the protocol version, services and capabilities
type ProfileUCP struct {
	Version      string                    `json:"version"`
	Services     map[string]ProfileService `json:"services"`
	Capabilities []ProfileCapability       `json:"capabilities"`
}

// ProfileService is a service binding
type ProfileService struct {
	Version string      `json:"version"`
	REST    ProfileREST `json:"rest"`
}

// ProfileREST is the REST transport of a service
type ProfileREST struct {
	Endpoint string `json:"endpoint"`
}

// ProfileCapability is one declared capability
type ProfileCapability struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Extends string `json:"extends,omitempty"`
}

// ProfilePayment lists the accepted payment handlers
type ProfilePayment struct {
	Handlers []checkout.PaymentHandler `json:"handlers"`
}

// Profile renders the discovery document
func (d *DiscoveryService) Profile(ctx context.Context) Profile {
	caps := d.Capabilities(ctx)
	return Profile{
		UCP: ProfileUCP{
			Version: ProtocolVersion,
			Services: map[string]ProfileService{
				ShoppingService: {
					Version: ProtocolVersion,
					REST:    ProfileREST{Endpoint: d.baseURL},
				},
			},
			Capabilities: []ProfileCapability{
				{Name: CheckoutCapability, Version: ProtocolVersion},
				{Name: FulfillmentCapability, Version: ProtocolVersion, Extends: CheckoutCapability},
				{Name: DiscountCapability, Version: ProtocolVersion, Extends: CheckoutCapability},
			},
		},
		Payment: ProfilePayment{Handlers: caps.Handlers},
	}
}

var _ checkout.Discovery = (*DiscoveryService)(nil)
