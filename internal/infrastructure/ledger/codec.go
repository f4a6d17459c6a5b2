package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ucp/merchant/internal/domain/settlement"
	"google.golang.org/protobuf/encoding/protowire"
)

// Codec errors. All of them mean the credential is malformed.
var (
	ErrMalformedTransaction = errors.New("malformed ledger transaction")
	ErrUnsigned             = errors.New("ledger transaction is not signed")
	ErrInvalidSignature     = errors.New("ledger transaction signature is invalid")
)

// ProtoCodec implements settlement.Codec for the ledger's protobuf wire format.
// Decode accepts a TransactionList (what ledger SDKs serialize) or a single Transaction.
type ProtoCodec struct {
	verifier *Verifier
}

// NewProtoCodec creates a codec that verifies signatures on decode
func NewProtoCodec() *ProtoCodec {
	return &ProtoCodec{verifier: NewVerifier()}
}

// signedTx is a body with the signatures made over it
type signedTx struct {
	body []byte
	sigs []settlement.Signature
}

// Decode parses signed transaction bytes and verifies every signature over the body
func (c *ProtoCodec) Decode(raw []byte) (*settlement.TransferRecord, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, errTruncated)
	}

	txs, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	var record *settlement.TransferRecord
	for i, tx := range txs {
		rec, err := decodeBody(tx.body)
		if err != nil {
			return nil, err
		}
		if len(tx.sigs) == 0 {
			return nil, ErrUnsigned
		}
		if err := c.verifier.VerifyAll(tx.body, tx.sigs); err != nil {
			return nil, err
		}
		rec.BodyBytes = tx.body
		rec.Signatures = tx.sigs

		if i == 0 {
			record = rec
			continue
		}
		// per-node copies of one transaction differ only in the node account
		if rec.ID.String() != record.ID.String() {
			return nil, fmt.Errorf("%w: transaction list mixes transaction ids", ErrMalformedTransaction)
		}
	}
	return record, nil
}

// Encode serializes a signed record as a single entry TransactionList
func (c *ProtoCodec) Encode(tx *settlement.TransferRecord) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrMalformedTransaction)
	}
	body := tx.BodyBytes
	if len(body) == 0 {
		body = EncodeBody(tx)
	}
	if len(tx.Signatures) == 0 {
		return nil, ErrUnsigned
	}

	var sigMap []byte
	for _, s := range tx.Signatures {
		pair, err := encodeSignaturePair(s)
		if err != nil {
			return nil, err
		}
		sigMap = appendBytesField(sigMap, fieldSigMapPair, pair)
	}

	var signed []byte
	signed = appendBytesField(signed, fieldSignedBodyBytes, body)
	signed = appendBytesField(signed, fieldSignedSigMap, sigMap)

	var transaction []byte
	transaction = appendBytesField(transaction, fieldTxSignedTransaction, signed)

	return appendBytesField(nil, fieldListTransaction, transaction), nil
}

func decodeEnvelope(raw []byte) ([]signedTx, error) {
	fields, err := parseFields(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}

	if isTransaction(fields) {
		tx, err := decodeTransaction(fields)
		if err != nil {
			return nil, err
		}
		return []signedTx{tx}, nil
	}

	var out []signedTx
	for _, f := range fields {
		if f.num != fieldListTransaction || !f.isBytes() {
			return nil, fmt.Errorf("%w: unexpected field %d", ErrMalformedTransaction, f.num)
		}
		inner, err := parseFields(f.bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
		}
		tx, err := decodeTransaction(inner)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty transaction list", ErrMalformedTransaction)
	}
	return out, nil
}

func isTransaction(fields []field) bool {
	for _, f := range fields {
		if f.num == fieldTxSignedTransaction || f.num == fieldTxBodyBytes {
			return true
		}
	}
	return false
}

func decodeTransaction(fields []field) (signedTx, error) {
	var tx signedTx
	var sigMap []byte
	for _, f := range fields {
		switch {
		case f.num == fieldTxSignedTransaction && f.isBytes():
			signed, err := parseFields(f.bytes)
			if err != nil {
				return tx, fmt.Errorf("%w: signed transaction: %w", ErrMalformedTransaction, err)
			}
			for _, sf := range signed {
				switch {
				case sf.num == fieldSignedBodyBytes && sf.isBytes():
					tx.body = sf.bytes
				case sf.num == fieldSignedSigMap && sf.isBytes():
					sigMap = sf.bytes
				}
			}
		case f.num == fieldTxBodyBytes && f.isBytes():
			tx.body = f.bytes
		case f.num == fieldTxSigMap && f.isBytes():
			sigMap = f.bytes
		}
	}
	if len(tx.body) == 0 {
		return tx, fmt.Errorf("%w: missing body bytes", ErrMalformedTransaction)
	}
	sigs, err := decodeSignatureMap(sigMap)
	if err != nil {
		return tx, err
	}
	tx.sigs = sigs
	return tx, nil
}

func decodeSignatureMap(b []byte) ([]settlement.Signature, error) {
	if len(b) == 0 {
		return nil, nil
	}
	fields, err := parseFields(b)
	if err != nil {
		return nil, fmt.Errorf("%w: signature map: %w", ErrMalformedTransaction, err)
	}
	var out []settlement.Signature
	for _, f := range fields {
		if f.num != fieldSigMapPair || !f.isBytes() {
			continue
		}
		pair, err := parseFields(f.bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: signature pair: %w", ErrMalformedTransaction, err)
		}
		var sig settlement.Signature
		for _, pf := range pair {
			if !pf.isBytes() {
				continue
			}
			switch pf.num {
			case fieldPairPubKeyPrefix:
				sig.PublicKey = pf.bytes
			case fieldPairEd25519:
				sig.Scheme = settlement.SchemeED25519
				sig.Value = pf.bytes
			case fieldPairSecp256k1:
				sig.Scheme = settlement.SchemeECDSASecp256k1
				sig.Value = pf.bytes
			case fieldPairContract, fieldPairRSA3072, fieldPairECDSA384:
				return nil, fmt.Errorf("%w: unsupported signature scheme (field %d)", ErrInvalidSignature, pf.num)
			}
		}
		if sig.Scheme == "" {
			return nil, fmt.Errorf("%w: signature pair without signature", ErrMalformedTransaction)
		}
		out = append(out, sig)
	}
	return out, nil
}

func encodeSignaturePair(s settlement.Signature) ([]byte, error) {
	var b []byte
	b = appendBytesField(b, fieldPairPubKeyPrefix, s.PublicKey)
	switch s.Scheme {
	case settlement.SchemeED25519:
		b = appendBytesField(b, fieldPairEd25519, s.Value)
	case settlement.SchemeECDSASecp256k1:
		b = appendBytesField(b, fieldPairSecp256k1, s.Value)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrInvalidSignature, s.Scheme)
	}
	return b, nil
}

// decodeBody parses TransactionBody bytes into a transfer record
func decodeBody(b []byte) (*settlement.TransferRecord, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %w", ErrMalformedTransaction, err)
	}

	rec := &settlement.TransferRecord{Kind: settlement.KindUnknown}
	sawData := false
	for _, f := range fields {
		switch f.num {
		case fieldBodyTransactionID:
			id, err := decodeTransactionID(f.bytes)
			if err != nil {
				return nil, err
			}
			rec.ID = id
		case fieldBodyNodeAccount:
			acct, err := decodeAccountID(f.bytes)
			if err != nil {
				return nil, err
			}
			rec.NodeAccount = acct
		case fieldBodyFee:
			rec.Fee = f.varint
		case fieldBodyValidDuration:
			secs, _, err := decodeSecondsNanos(f.bytes)
			if err != nil {
				return nil, err
			}
			rec.ValidDuration = time.Duration(secs) * time.Second
		case fieldBodyGenRecord, fieldBodyMaxCustomFees:
		case fieldBodyMemo:
			rec.Memo = string(f.bytes)
		case fieldBodyCryptoXfer:
			if !f.isBytes() {
				return nil, fmt.Errorf("%w: crypto transfer body", ErrMalformedTransaction)
			}
			if err := decodeCryptoTransfer(f.bytes, rec); err != nil {
				return nil, err
			}
			sawData = true
		default:
			// any other data field is a transaction type this service does not settle
			rec.Kind = settlement.KindUnknown
			rec.Transfers = nil
			return rec, nil
		}
	}
	if !sawData {
		return nil, fmt.Errorf("%w: body has no transaction data", ErrMalformedTransaction)
	}
	if rec.ID.Payer.IsZero() {
		return nil, fmt.Errorf("%w: missing transaction id", ErrMalformedTransaction)
	}
	return rec, nil
}

func decodeCryptoTransfer(b []byte, rec *settlement.TransferRecord) error {
	fields, err := parseFields(b)
	if err != nil {
		return fmt.Errorf("%w: crypto transfer: %w", ErrMalformedTransaction, err)
	}
	for _, f := range fields {
		switch f.num {
		case fieldXferTransfers:
			transfers, err := decodeTransferList(f.bytes)
			if err != nil {
				return err
			}
			rec.Transfers = append(rec.Transfers, transfers...)
		case fieldXferTokenTransfers:
			rec.TokenTransfers++
		}
	}
	switch {
	case len(rec.Transfers) == 0 && rec.TokenTransfers > 0:
		rec.Kind = settlement.KindTokenTransfer
	default:
		rec.Kind = settlement.KindCryptoTransfer
	}
	return nil
}

func decodeTransferList(b []byte) ([]settlement.Transfer, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, fmt.Errorf("%w: transfer list: %w", ErrMalformedTransaction, err)
	}
	var out []settlement.Transfer
	var sum int64
	for _, f := range fields {
		if f.num != fieldListAccountAmount || !f.isBytes() {
			continue
		}
		aa, err := parseFields(f.bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: account amount: %w", ErrMalformedTransaction, err)
		}
		var t settlement.Transfer
		for _, af := range aa {
			switch af.num {
			case fieldAmountAccount:
				acct, err := decodeAccountID(af.bytes)
				if err != nil {
					return nil, err
				}
				t.Account = acct
			case fieldAmountValue:
				t.Amount = protowire.DecodeZigZag(af.varint)
			}
		}
		var ok bool
		if sum, ok = settlement.AddAmount(sum, t.Amount); !ok {
			return nil, fmt.Errorf("%w: %w", ErrMalformedTransaction, settlement.ErrAmountOverflow)
		}
		out = append(out, t)
	}
	if sum != 0 {
		return nil, fmt.Errorf("%w: transfer list does not balance (%d)", ErrMalformedTransaction, sum)
	}
	return out, nil
}

func decodeTransactionID(b []byte) (settlement.TransactionID, error) {
	var id settlement.TransactionID
	fields, err := parseFields(b)
	if err != nil {
		return id, fmt.Errorf("%w: transaction id: %w", ErrMalformedTransaction, err)
	}
	for _, f := range fields {
		switch f.num {
		case fieldTxIDValidStart:
			secs, nanos, err := decodeSecondsNanos(f.bytes)
			if err != nil {
				return id, err
			}
			id.ValidStart = time.Unix(secs, int64(nanos)).UTC()
		case fieldTxIDAccount:
			acct, err := decodeAccountID(f.bytes)
			if err != nil {
				return id, err
			}
			id.Payer = acct
		case fieldTxIDScheduled, fieldTxIDNonce:
		}
	}
	return id, nil
}

func decodeSecondsNanos(b []byte) (int64, int32, error) {
	fields, err := parseFields(b)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: timestamp: %w", ErrMalformedTransaction, err)
	}
	var secs int64
	var nanos int32
	for _, f := range fields {
		switch f.num {
		case fieldSeconds:
			secs = int64(f.varint)
		case fieldNanos:
			nanos = int32(f.varint)
		}
	}
	return secs, nanos, nil
}

func decodeAccountID(b []byte) (settlement.AccountID, error) {
	var acct settlement.AccountID
	fields, err := parseFields(b)
	if err != nil {
		return acct, fmt.Errorf("%w: account id: %w", ErrMalformedTransaction, err)
	}
	for _, f := range fields {
		switch f.num {
		case fieldAccountShard:
			acct.Shard = int64(f.varint)
		case fieldAccountRealm:
			acct.Realm = int64(f.varint)
		case fieldAccountNum:
			acct.Num = int64(f.varint)
		case fieldAccountAlias:
			return acct, fmt.Errorf("%w: account aliases are not supported", ErrMalformedTransaction)
		}
	}
	return acct, nil
}

// EncodeBody serializes the body fields of a transfer record
func EncodeBody(tx *settlement.TransferRecord) []byte {
	var txID []byte
	txID = appendBytesField(txID, fieldTxIDValidStart, encodeTimestamp(tx.ID.ValidStart))
	txID = appendBytesField(txID, fieldTxIDAccount, encodeAccountID(tx.ID.Payer))

	var b []byte
	b = appendBytesField(b, fieldBodyTransactionID, txID)
	if !tx.NodeAccount.IsZero() {
		b = appendBytesField(b, fieldBodyNodeAccount, encodeAccountID(tx.NodeAccount))
	}
	b = appendVarintField(b, fieldBodyFee, tx.Fee)
	if tx.ValidDuration > 0 {
		var d []byte
		d = appendVarintField(d, fieldSeconds, uint64(tx.ValidDuration/time.Second))
		b = appendBytesField(b, fieldBodyValidDuration, d)
	}
	if tx.Memo != "" {
		b = appendBytesField(b, fieldBodyMemo, []byte(tx.Memo))
	}

	var list []byte
	for _, t := range tx.Transfers {
		var aa []byte
		aa = appendBytesField(aa, fieldAmountAccount, encodeAccountID(t.Account))
		aa = appendSint64Field(aa, fieldAmountValue, t.Amount)
		list = appendBytesField(list, fieldListAccountAmount, aa)
	}
	var xfer []byte
	xfer = appendBytesField(xfer, fieldXferTransfers, list)
	return appendBytesField(b, fieldBodyCryptoXfer, xfer)
}

func encodeTimestamp(t time.Time) []byte {
	var b []byte
	b = appendVarintField(b, fieldSeconds, uint64(t.Unix()))
	return appendVarintField(b, fieldNanos, uint64(t.Nanosecond()))
}

func encodeAccountID(a settlement.AccountID) []byte {
	var b []byte
	b = appendVarintField(b, fieldAccountShard, uint64(a.Shard))
	b = appendVarintField(b, fieldAccountRealm, uint64(a.Realm))
	return appendVarintField(b, fieldAccountNum, uint64(a.Num))
}

var _ settlement.Codec = (*ProtoCodec)(nil)
