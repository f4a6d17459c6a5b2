package ledger

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ucp/merchant/internal/domain/settlement"
	"golang.org/x/crypto/sha3"
)

// Key sizes accepted as signature pair prefixes. Shorter prefixes cannot be
// verified without a key lookup on the ledger and are rejected.
const (
	ed25519PublicKeySize   = ed25519.PublicKeySize
	secp256k1CompressedLen = 33
	secp256k1SignatureLen  = 64
)

// Verifier checks signature pairs against body bytes
type Verifier struct{}

// NewVerifier creates a new Verifier
func NewVerifier() *Verifier {
	return &Verifier{}
}

// VerifyAll requires every signature to be valid over body
func (v *Verifier) VerifyAll(body []byte, sigs []settlement.Signature) error {
	for i, s := range sigs {
		if err := v.Verify(body, s); err != nil {
			return fmt.Errorf("signature %d: %w", i, err)
		}
	}
	return nil
}

// Verify checks one signature over body
func (v *Verifier) Verify(body []byte, s settlement.Signature) error {
	switch s.Scheme {
	case settlement.SchemeED25519:
		if len(s.PublicKey) != ed25519PublicKeySize {
			return fmt.Errorf("%w: ed25519 key prefix has %d bytes", ErrInvalidSignature, len(s.PublicKey))
		}
		if !ed25519.Verify(ed25519.PublicKey(s.PublicKey), body, s.Value) {
			return ErrInvalidSignature
		}
		return nil
	case settlement.SchemeECDSASecp256k1:
		if len(s.PublicKey) != secp256k1CompressedLen {
			return fmt.Errorf("%w: secp256k1 key prefix has %d bytes", ErrInvalidSignature, len(s.PublicKey))
		}
		if len(s.Value) != secp256k1SignatureLen {
			return fmt.Errorf("%w: secp256k1 signature has %d bytes", ErrInvalidSignature, len(s.Value))
		}
		if !crypto.VerifySignature(s.PublicKey, keccak256(body), s.Value) {
			return ErrInvalidSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown scheme %q", ErrInvalidSignature, s.Scheme)
	}
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Signer signs transaction body bytes
type Signer interface {
	Sign(body []byte) (settlement.Signature, error)
	PublicKey() []byte
}

// Ed25519Signer signs with an ed25519 private key
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer wraps an ed25519 private key
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

// Sign implements Signer
func (s *Ed25519Signer) Sign(body []byte) (settlement.Signature, error) {
	return settlement.Signature{
		Scheme:    settlement.SchemeED25519,
		PublicKey: s.PublicKey(),
		Value:     ed25519.Sign(s.key, body),
	}, nil
}

// PublicKey returns the raw 32 byte public key
func (s *Ed25519Signer) PublicKey() []byte {
	return []byte(s.key.Public().(ed25519.PublicKey))
}

// ECDSASigner signs with a secp256k1 private key over the Keccak-256 digest
type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

// NewECDSASigner wraps a secp256k1 private key
func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key}
}

// Sign implements Signer
func (s *ECDSASigner) Sign(body []byte) (settlement.Signature, error) {
	sig, err := crypto.Sign(keccak256(body), s.key)
	if err != nil {
		return settlement.Signature{}, fmt.Errorf("secp256k1 sign: %w", err)
	}
	return settlement.Signature{
		Scheme:    settlement.SchemeECDSASecp256k1,
		PublicKey: s.PublicKey(),
		// drop the recovery id, the ledger stores r || s
		Value: sig[:secp256k1SignatureLen],
	}, nil
}

// PublicKey returns the 33 byte compressed public key
func (s *ECDSASigner) PublicKey() []byte {
	return crypto.CompressPubkey(&s.key.PublicKey)
}

// ParseSigner parses a hex private key. "ed25519:" and "ecdsa:" prefixes pick the
// scheme; without a prefix a 32 byte key is read as an ed25519 seed.
func ParseSigner(s string) (Signer, error) {
	s = strings.TrimSpace(s)
	scheme := "ed25519"
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		scheme, s = strings.ToLower(prefix), rest
	}
	s = strings.TrimPrefix(s, "0x")

	switch scheme {
	case "ed25519":
		seed, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid ed25519 key: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid ed25519 key: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
		}
		return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
	case "ecdsa", "secp256k1":
		key, err := crypto.HexToECDSA(s)
		if err != nil {
			return nil, fmt.Errorf("invalid secp256k1 key: %w", err)
		}
		return NewECDSASigner(key), nil
	default:
		return nil, fmt.Errorf("unknown key scheme %q", scheme)
	}
}
