// Command signtx builds and signs a ledger transfer and prints it as the
// base64 credential accepted by the complete checkout call.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ucp/merchant/internal/domain/settlement"
	"github.com/ucp/merchant/internal/domain/shared/valueobject"
	"github.com/ucp/merchant/internal/infrastructure/ledger"
)

// keyEnv is read when -key is not given
const keyEnv = "UCP_SIGNTX_KEY"

func main() {
	var (
		payer     string
		merchant  string
		amount    int64
		minor     int64
		rate      string
		key       string
		memo      string
		node      string
		fee       uint64
		validFrom string
	)

	flag.StringVar(&payer, "payer", "", "Payer account id (shard.realm.num)")
	flag.StringVar(&merchant, "merchant", "", "Merchant account id (shard.realm.num)")
	flag.Int64Var(&amount, "amount", 0, "Amount in ledger base units")
	flag.Int64Var(&minor, "minor", 0, "Amount in currency minor units, converted with -rate (overrides -amount)")
	flag.StringVar(&rate, "rate", "1", "Ledger base units per currency minor unit")
	flag.StringVar(&key, "key", "", "Hex private key, optionally prefixed with ed25519: or ecdsa: (default: $"+keyEnv+")")
	flag.StringVar(&memo, "memo", "", "Transaction memo, usually the checkout session id")
	flag.StringVar(&node, "node", ledger.DefaultNodeAccount.String(), "Node account id")
	flag.Uint64Var(&fee, "fee", ledger.DefaultTransactionFee, "Maximum transaction fee in base units")
	flag.StringVar(&validFrom, "valid-start", "", "Valid start time (RFC3339, default: now)")
	flag.Parse()

	if key == "" {
		key = os.Getenv(keyEnv)
	}
	credential, err := build(buildArgs{
		payer: payer, merchant: merchant, amount: amount, minor: minor, rate: rate,
		key: key, memo: memo, node: node, fee: fee, validFrom: validFrom,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "signtx: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(credential)
}

type buildArgs struct {
	payer, merchant string
	amount, minor   int64
	rate            string
	key, memo, node string
	fee             uint64
	validFrom       string
}

func build(a buildArgs) (string, error) {
	payerID, err := settlement.ParseAccountID(a.payer)
	if err != nil {
		return "", fmt.Errorf("invalid -payer: %w", err)
	}
	merchantID, err := settlement.ParseAccountID(a.merchant)
	if err != nil {
		return "", fmt.Errorf("invalid -merchant: %w", err)
	}
	nodeID, err := settlement.ParseAccountID(a.node)
	if err != nil {
		return "", fmt.Errorf("invalid -node: %w", err)
	}
	if a.key == "" {
		return "", fmt.Errorf("a signing key is required (-key or $%s)", keyEnv)
	}
	signer, err := ledger.ParseSigner(a.key)
	if err != nil {
		return "", err
	}

	amount := a.amount
	if a.minor > 0 {
		perMinor, err := decimal.NewFromString(a.rate)
		if err != nil {
			return "", fmt.Errorf("invalid -rate: %w", err)
		}
		if amount, err = valueobject.ConvertMinorUnits(a.minor, perMinor); err != nil {
			return "", err
		}
	}

	b := ledger.NewTransferBuilder(payerID).
		Node(nodeID).
		Fee(a.fee).
		Memo(a.memo).
		Pay(merchantID, amount)
	if a.validFrom != "" {
		start, err := time.Parse(time.RFC3339, a.validFrom)
		if err != nil {
			return "", fmt.Errorf("invalid -valid-start: %w", err)
		}
		b.ValidStart(start)
	}

	rec, err := b.Sign(signer)
	if err != nil {
		return "", err
	}
	raw, err := ledger.NewProtoCodec().Encode(rec)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
