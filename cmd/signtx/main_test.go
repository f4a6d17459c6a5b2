package main

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/infrastructure/ledger"
)

const testSeed = "0101010101010101010101010101010101010101010101010101010101010101"

func decode(t *testing.T, credential string) *settlement.TransferRecord {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(credential)
	require.NoError(t, err)
	rec, err := ledger.NewProtoCodec().Decode(raw)
	require.NoError(t, err)
	return rec
}

func TestBuild_SignsTransferToMerchant(t *testing.T) {
	credential, err := build(buildArgs{
		payer:    "0.0.1001",
		merchant: "0.0.5005",
		amount:   2100,
		key:      testSeed,
		memo:     "session-1",
		node:     "0.0.3",
		fee:      ledger.DefaultTransactionFee,
	})
	require.NoError(t, err)

	rec := decode(t, credential)
	got, ok := rec.AmountTo(settlement.MustParseAccountID("0.0.5005"))
	require.True(t, ok)
	assert.Equal(t, int64(2100), got)
	sender, ok := rec.Sender()
	require.True(t, ok)
	assert.Equal(t, "0.0.1001", sender.String())
	assert.Equal(t, "session-1", rec.Memo)
	require.NoError(t, ledger.NewVerifier().VerifyAll(rec.BodyBytes, rec.Signatures))
}

func TestBuild_ConvertsMinorUnits(t *testing.T) {
	credential, err := build(buildArgs{
		payer:    "0.0.1001",
		merchant: "0.0.5005",
		minor:    2100,
		rate:     "1000",
		key:      "ed25519:" + testSeed,
		node:     "0.0.3",
		fee:      ledger.DefaultTransactionFee,
	})
	require.NoError(t, err)

	got, ok := decode(t, credential).AmountTo(settlement.MustParseAccountID("0.0.5005"))
	require.True(t, ok)
	assert.Equal(t, int64(2_100_000), got)
}

func TestBuild_Errors(t *testing.T) {
	valid := buildArgs{payer: "0.0.1001", merchant: "0.0.5005", amount: 10, key: testSeed, node: "0.0.3"}

	tests := []struct {
		name   string
		mutate func(a *buildArgs)
		want   string
	}{
		{"bad payer", func(a *buildArgs) { a.payer = "alice" }, "-payer"},
		{"bad merchant", func(a *buildArgs) { a.merchant = "" }, "-merchant"},
		{"missing key", func(a *buildArgs) { a.key = "" }, "signing key"},
		{"bad key", func(a *buildArgs) { a.key = "zz" }, "ed25519"},
		{"zero amount", func(a *buildArgs) { a.amount = 0 }, "amount must be positive"},
		{"bad valid start", func(a *buildArgs) { a.validFrom = "yesterday" }, "-valid-start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			_, err := build(a)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
