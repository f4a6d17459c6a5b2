package checkout

import "strings"

// Buyer is the optional contact record used for destination lookup
type Buyer struct {
	FullName    string   `json:"full_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	Address     *Address `json:"address,omitempty"`
}

// NormalizedEmail returns the lower-cased, trimmed email
func (b *Buyer) NormalizedEmail() string {
	if b == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(b.Email))
}

// Address is a postal address
type Address struct {
	StreetAddress   string `json:"street_address,omitempty"`
	AddressLocality string `json:"address_locality,omitempty"`
	AddressRegion   string `json:"address_region,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	AddressCountry  string `json:"address_country,omitempty"`
}
