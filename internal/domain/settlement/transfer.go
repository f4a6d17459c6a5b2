package settlement

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrAmountOverflow is returned when transfer amounts do not sum within int64
var ErrAmountOverflow = errors.New("transfer amount overflows int64")

// TransactionKind names the body type of a decoded ledger transaction
type TransactionKind string

const (
	KindCryptoTransfer TransactionKind = "CRYPTO_TRANSFER"
	KindTokenTransfer  TransactionKind = "TOKEN_TRANSFER"
	KindUnknown        TransactionKind = "UNKNOWN"
)

// String returns the string representation
func (k TransactionKind) String() string {
	return string(k)
}

// Transfer is one leg of a transfer: positive amounts credit the account
type Transfer struct {
	Account AccountID `json:"account"`
	Amount  int64     `json:"amount"`
}

// Signature is a public key and the signature it produced over the body bytes
type Signature struct {
	Scheme    SignatureScheme `json:"scheme"`
	PublicKey []byte          `json:"public_key"`
	Value     []byte          `json:"value"`
}

// SignatureScheme is the signing algorithm of a Signature
type SignatureScheme string

const (
	SchemeED25519        SignatureScheme = "ED25519"
	SchemeECDSASecp256k1 SignatureScheme = "ECDSA_SECP256K1"
)

// TransactionID is the payer account plus the valid-start timestamp
type TransactionID struct {
	Payer      AccountID `json:"payer"`
	ValidStart time.Time `json:"valid_start"`
}

// String renders the payer@seconds.nanos form used by ledger explorers
func (t TransactionID) String() string {
	if t.Payer.IsZero() && t.ValidStart.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s@%d.%09d", t.Payer, t.ValidStart.Unix(), t.ValidStart.Nanosecond())
}

// TransferRecord is a decoded signed ledger transaction
type TransferRecord struct {
	ID            TransactionID
	Kind          TransactionKind
	NodeAccount   AccountID
	Fee           uint64
	ValidDuration time.Duration
	Memo          string
	Transfers     []Transfer
	// TokenTransfers counts token (non-native asset) transfer lists in the body
	TokenTransfers int
	// BodyBytes are the exact signed body bytes
	BodyBytes  []byte
	Signatures []Signature
}

// Sender returns the account debited by the transfer, if exactly one is
func (r *TransferRecord) Sender() (AccountID, bool) {
	debited := make(map[AccountID]struct{})
	var sender AccountID
	for _, t := range r.Transfers {
		if t.Amount < 0 {
			debited[t.Account] = struct{}{}
			sender = t.Account
		}
	}
	return sender, len(debited) == 1
}

// AmountTo returns the net amount credited to account. found is false when no
// leg names the account or the net amount does not fit in an int64.
func (r *TransferRecord) AmountTo(account AccountID) (int64, bool) {
	var total int64
	found := false
	for _, t := range r.Transfers {
		if t.Account != account {
			continue
		}
		var ok bool
		if total, ok = AddAmount(total, t.Amount); !ok {
			return 0, false
		}
		found = true
	}
	return total, found
}

// Recipients maps every credited account to its net amount
func (r *TransferRecord) Recipients() map[AccountID]int64 {
	out := make(map[AccountID]int64)
	overflowed := make(map[AccountID]struct{})
	for _, t := range r.Transfers {
		sum, ok := AddAmount(out[t.Account], t.Amount)
		if !ok {
			overflowed[t.Account] = struct{}{}
		}
		out[t.Account] = sum
	}
	for acct, amount := range out {
		if _, bad := overflowed[acct]; bad || amount <= 0 {
			delete(out, acct)
		}
	}
	return out
}

// CheckBalance reports whether the legs sum to zero without overflowing,
// in total and per account
func (r *TransferRecord) CheckBalance() error {
	var total int64
	perAccount := make(map[AccountID]int64, len(r.Transfers))
	for _, t := range r.Transfers {
		var ok bool
		if total, ok = AddAmount(total, t.Amount); !ok {
			return fmt.Errorf("%w: transfer amounts overflow", ErrAmountOverflow)
		}
		if perAccount[t.Account], ok = AddAmount(perAccount[t.Account], t.Amount); !ok {
			return fmt.Errorf("%w: net amount of %s overflows", ErrAmountOverflow, t.Account)
		}
	}
	if total != 0 {
		return fmt.Errorf("transfer list does not balance (%d)", total)
	}
	return nil
}

// AddAmount returns a+b and false when the sum overflows int64
func AddAmount(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// IsSingleAssetTransfer reports whether the record moves only the native asset
func (r *TransferRecord) IsSingleAssetTransfer() bool {
	return r.Kind == KindCryptoTransfer && r.TokenTransfers == 0 && len(r.Transfers) > 0
}
