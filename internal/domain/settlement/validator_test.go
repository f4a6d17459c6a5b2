package settlement

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	merchant = MustParseAccountID("0.0.5005")
	customer = MustParseAccountID("0.0.1001")
	stranger = MustParseAccountID("0.0.7777")
)

func transferOf(amount int64, to AccountID) *TransferRecord {
	return &TransferRecord{
		Kind: KindCryptoTransfer,
		Transfers: []Transfer{
			{Account: customer, Amount: -amount},
			{Account: to, Amount: amount},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		record   *TransferRecord
		expected int64
		wantErr  error
	}{
		{"exact amount", transferOf(2100, merchant), 2100, nil},
		{"overpayment accepted", transferOf(5000, merchant), 2100, nil},
		{"one unit short", transferOf(2099, merchant), 2100, ErrAmountTooLow},
		{"zero amount", transferOf(0, merchant), 2100, ErrAmountTooLow},
		{"wrong recipient", transferOf(2100, stranger), 2100, ErrRecipientMismatch},
		{"no legs", &TransferRecord{Kind: KindCryptoTransfer}, 1, ErrRecipientMismatch},
		{"nil record", nil, 1, ErrMalformedCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.record, merchant, tt.expected)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_MerchantDebitedIsTooLow(t *testing.T) {
	record := &TransferRecord{
		Kind: KindCryptoTransfer,
		Transfers: []Transfer{
			{Account: merchant, Amount: -100},
			{Account: customer, Amount: 100},
		},
	}

	err := Validate(record, merchant, 1)
	assert.ErrorIs(t, err, ErrAmountTooLow)
}

func TestValidate_SplitLegsAreSummed(t *testing.T) {
	record := &TransferRecord{
		Kind: KindCryptoTransfer,
		Transfers: []Transfer{
			{Account: customer, Amount: -2100},
			{Account: merchant, Amount: 1000},
			{Account: merchant, Amount: 1100},
		},
	}

	assert.NoError(t, Validate(record, merchant, 2100))
}

func TestValidate_RejectsMalformedLegs(t *testing.T) {
	tests := []struct {
		name      string
		transfers []Transfer
	}{
		{"overflow wraps to balanced", []Transfer{
			{Account: merchant, Amount: math.MaxInt64},
			{Account: customer, Amount: math.MaxInt64},
			{Account: MustParseAccountID("0.0.9"), Amount: 2},
		}},
		{"merchant legs overflow", []Transfer{
			{Account: merchant, Amount: math.MaxInt64},
			{Account: merchant, Amount: 1},
			{Account: customer, Amount: math.MinInt64},
		}},
		{"unbalanced", []Transfer{{Account: merchant, Amount: 2100}}},
		{"two senders", []Transfer{
			{Account: merchant, Amount: 2100},
			{Account: customer, Amount: -1000},
			{Account: stranger, Amount: -1100},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := &TransferRecord{Kind: KindCryptoTransfer, Transfers: tt.transfers}
			assert.ErrorIs(t, Validate(record, merchant, 2100), ErrMalformedCredential)
		})
	}
}

func TestAddAmount(t *testing.T) {
	sum, ok := AddAmount(math.MaxInt64-1, 1)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), sum)

	_, ok = AddAmount(math.MaxInt64, 1)
	assert.False(t, ok)
	_, ok = AddAmount(math.MinInt64, -1)
	assert.False(t, ok)

	sum, ok = AddAmount(-5, 3)
	assert.True(t, ok)
	assert.Equal(t, int64(-2), sum)
}

func TestValidate_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		expected := rng.Int63n(1_000_000_000) + 1
		actual := rng.Int63n(2_000_000_000)

		err := Validate(transferOf(actual, merchant), merchant, expected)
		switch {
		case actual < expected:
			require.True(t, errors.Is(err, ErrAmountTooLow), "actual=%d expected=%d", actual, expected)
		default:
			require.NoError(t, err, "actual=%d expected=%d", actual, expected)
		}

		// same inputs, same answer
		again := Validate(transferOf(actual, merchant), merchant, expected)
		require.Equal(t, err == nil, again == nil)
	}
}
