// Copyright 2025 Certen Protocol
//
// Hash & Identity (C1): SHA-256 digests and secp256k1 ECDSA keypairs,
// signing, and verification. Signatures are deterministic-k ECDSA over
// SHA-256, delegated to go-ethereum's crypto package rather than a
// hand-rolled curve implementation.

package identity

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Digest is a 32-byte SHA-256 hash.
type Digest [32]byte

// ZeroDigest is the all-zero digest used as the genesis block's prev_hash.
var ZeroDigest Digest

// Hex returns the lowercase hex encoding of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// MarshalJSON renders d as a lowercase hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Hex())
}

// UnmarshalJSON parses d from a lowercase hex string.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("identity: decode digest: %w", err)
	}
	parsed, err := DigestFromHex(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DigestFromHex decodes a hex string into a Digest.
func DigestFromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("identity: decode digest hex: %w", err)
	}
	if len(b) != 32 {
		return Digest{}, fmt.Errorf("identity: digest must be 32 bytes, got %d", len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// SHA256 hashes b and returns the digest.
func SHA256(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// Identity holds a secp256k1 keypair. ParticipantID is the hex-encoded
// uncompressed public key — the sole participant name on the wire.
type Identity struct {
	priv          *ecdsa.PrivateKey
	ParticipantID string
}

// Generate creates a fresh secp256k1 identity.
func Generate() (*Identity, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return FromPrivateKey(priv), nil
}

// FromPrivateKey builds an Identity from an existing secp256k1 private key,
// e.g. loaded from a caller-supplied secret store (§4.8: private keys are
// never part of a persisted snapshot).
func FromPrivateKey(priv *ecdsa.PrivateKey) *Identity {
	pubBytes := crypto.FromECDSAPub(&priv.PublicKey)
	return &Identity{
		priv:          priv,
		ParticipantID: hex.EncodeToString(pubBytes),
	}
}

// FromHexKey loads a private key from a hex-encoded 32-byte scalar, the form
// used by the worked examples in §8 (e.g. `priv_A = 0x01…01`).
func FromHexKey(hexKey string) (*Identity, error) {
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("identity: parse hex key: %w", err)
	}
	return FromPrivateKey(priv), nil
}

// PublicKeyBytes returns the uncompressed public key bytes.
func (id *Identity) PublicKeyBytes() []byte {
	return crypto.FromECDSAPub(&id.priv.PublicKey)
}

// Zeroize overwrites the private scalar in memory. Called on graceful
// shutdown per §5.
func (id *Identity) Zeroize() {
	if id.priv == nil {
		return
	}
	d := id.priv.D
	if d != nil {
		d.SetInt64(0)
	}
	id.priv = nil
}

// Sign signs digest (normally the SHA-256 of a canonical encoding, see
// SignCanonical) with deterministic-k ECDSA over secp256k1.
func (id *Identity) Sign(digest Digest) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], id.priv)
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	// Drop the recovery id byte; verification here is always against a
	// known public key, not key recovery.
	return sig[:64], nil
}

// Verify checks sig against digest for the given hex-encoded uncompressed
// public key (a participant_id). Never panics; cryptographic failure
// surfaces as (false, nil).
func Verify(participantID string, digest Digest, sig []byte) (bool, error) {
	pubBytes, err := hex.DecodeString(participantID)
	if err != nil {
		return false, fmt.Errorf("identity: decode participant id: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("identity: unmarshal public key: %w", err)
	}
	if len(sig) != 64 {
		return false, errors.New("identity: signature must be 64 bytes (r||s)")
	}
	return crypto.VerifySignature(crypto.FromECDSAPub(pub), digest[:], sig), nil
}

// SignCanonical canonicalizes v, hashes it, and signs the hash. v must not
// itself carry a signature field — the signature covers every other field
// by convention (§3 Transaction).
func (id *Identity) SignCanonical(v interface{}) (Digest, []byte, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return Digest{}, nil, err
	}
	digest := SHA256(canon)
	sig, err := id.Sign(digest)
	if err != nil {
		return Digest{}, nil, err
	}
	return digest, sig, nil
}
