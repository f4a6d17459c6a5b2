package ledger

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the ledger's protobuf messages
const (
	// TransactionList
	fieldListTransaction protowire.Number = 1

	// Transaction
	fieldTxSigMap            protowire.Number = 3
	fieldTxBodyBytes         protowire.Number = 4
	fieldTxSignedTransaction protowire.Number = 5

	// SignedTransaction
	fieldSignedBodyBytes protowire.Number = 1
	fieldSignedSigMap    protowire.Number = 2

	// SignatureMap
	fieldSigMapPair protowire.Number = 1

	// SignaturePair
	fieldPairPubKeyPrefix protowire.Number = 1
	fieldPairContract     protowire.Number = 2
	fieldPairEd25519      protowire.Number = 3
	fieldPairRSA3072      protowire.Number = 4
	fieldPairECDSA384     protowire.Number = 5
	fieldPairSecp256k1    protowire.Number = 6

	// TransactionBody
	fieldBodyTransactionID protowire.Number = 1
	fieldBodyNodeAccount   protowire.Number = 2
	fieldBodyFee           protowire.Number = 3
	fieldBodyValidDuration protowire.Number = 4
	fieldBodyGenRecord     protowire.Number = 5
	fieldBodyMemo          protowire.Number = 6
	fieldBodyCryptoXfer    protowire.Number = 14
	fieldBodyMaxCustomFees protowire.Number = 1001

	// TransactionID
	fieldTxIDValidStart protowire.Number = 1
	fieldTxIDAccount    protowire.Number = 2
	fieldTxIDScheduled  protowire.Number = 3
	fieldTxIDNonce      protowire.Number = 4

	// Timestamp / Duration
	fieldSeconds protowire.Number = 1
	fieldNanos   protowire.Number = 2

	// AccountID
	fieldAccountShard protowire.Number = 1
	fieldAccountRealm protowire.Number = 2
	fieldAccountNum   protowire.Number = 3
	fieldAccountAlias protowire.Number = 4

	// CryptoTransferTransactionBody
	fieldXferTransfers      protowire.Number = 1
	fieldXferTokenTransfers protowire.Number = 2

	// TransferList / AccountAmount
	fieldListAccountAmount protowire.Number = 1
	fieldAmountAccount     protowire.Number = 1
	fieldAmountValue       protowire.Number = 2
	fieldAmountApproval    protowire.Number = 3
)

var errTruncated = errors.New("truncated message")

// field is one decoded protobuf field
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// parseFields splits a message into its top level fields
func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			f.varint = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			f.bytes = v
			b = b[n:]
		case protowire.Fixed32Type, protowire.Fixed64Type:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		default:
			return nil, fmt.Errorf("field %d: unsupported wire type %d", num, typ)
		}
		out = append(out, f)
	}
	return out, nil
}

func (f field) isBytes() bool {
	return f.typ == protowire.BytesType
}

func (f field) isVarint() bool {
	return f.typ == protowire.VarintType
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendVarintField omits zero values like proto3 does
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint64Field(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}
