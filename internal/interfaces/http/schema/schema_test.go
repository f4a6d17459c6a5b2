package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestValidate_CreateSession(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"minimal", `{"currency":"USD","line_items":[{"item":{"id":"roses"},"quantity":1}]}`, true},
		{"with sections", `{"currency":"USD","line_items":[{"item":{"id":"roses"},"quantity":2}],
			"buyer":{"email":"a@example.com"},"payment":{"instruments":[]},
			"fulfillment":{"methods":[{"type":"shipping"}]}}`, true},
		{"missing currency", `{"line_items":[{"item":{"id":"roses"},"quantity":1}]}`, false},
		{"empty cart", `{"currency":"USD","line_items":[]}`, false},
		{"zero quantity", `{"currency":"USD","line_items":[{"item":{"id":"roses"},"quantity":0}]}`, false},
		{"missing item id", `{"currency":"USD","line_items":[{"item":{},"quantity":1}]}`, false},
		{"bad currency", `{"currency":"DOLLARS","line_items":[{"item":{"id":"roses"},"quantity":1}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(CreateSession, []byte(tt.body))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Violations)
		})
	}
}

func TestValidate_UpdateSession(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		name  string
		body  string
		valid bool
	}{
		{"full view", `{"id":"s1","currency":"USD","line_items":[{"id":"li_1","item":{"id":"roses"},"quantity":1}],
			"payment":{"handlers":[],"instruments":[]},"discounts":{"codes":["10OFF"]}}`, true},
		{"missing payment", `{"id":"s1","currency":"USD","line_items":[{"id":"li_1","item":{"id":"roses"},"quantity":1}]}`, false},
		{"too many codes", `{"currency":"USD","line_items":[{"item":{"id":"r"},"quantity":1}],"payment":{"instruments":[]},
			"discounts":{"codes":["a","b","c","d","e","f","g","h","i","j","k"]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(UpdateSession, []byte(tt.body))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Violations)
		})
	}
}

func TestValidate_CompleteSession(t *testing.T) {
	r := newRegistry(t)

	assert.NoError(t, r.Validate(CompleteSession,
		[]byte(`{"payment_data":{"id":"instr_1","handler_id":"hedera_payment","credential":"AAEC"}}`)))
	assert.NoError(t, r.Validate(CompleteSession,
		[]byte(`{"payment_data":{"id":"instr_1","handler_id":"hedera_payment","credential":{"type":"token","token":"AAEC"}}}`)))

	err := r.Validate(CompleteSession, []byte(`{"payment_data":{"id":"instr_1","handler_id":"hedera_payment"}}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "credential")

	err = r.Validate(CompleteSession, []byte(`{"payment_data":{"id":"i","handler_id":"h","credential":42}}`))
	assert.ErrorAs(t, err, &verr)
}

func TestValidate_InvalidJSON(t *testing.T) {
	r := newRegistry(t)
	err := r.Validate(UpdateSession, []byte(`{"currency":`))
	assert.True(t, errors.Is(err, ErrInvalidJSON))
}

func TestValidate_UnknownSchema(t *testing.T) {
	r := newRegistry(t)
	err := r.Validate("refund", []byte(`{}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidJSON))
}
