// Package sr25519 implements the Substrate half of the attester's dual
// signing scheme. There is no teacher code for Sr25519 — the teacher's
// own Polkadot support (internal/services/address) stops at deriving an
// address from a secp256k1 key and never signs with a real Substrate
// key — so this package is grounded on the rest of the retrieval pack's
// go.mod: github.com/vedhavyas/go-subkey's sr25519 scheme backed by
// github.com/ChainSafe/go-schnorrkel, the same pairing arcSignv2
// vendors for its coin registry.
package sr25519

import (
	"encoding/hex"
	"fmt"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	subkey "github.com/vedhavyas/go-subkey"
	subkeysr25519 "github.com/vedhavyas/go-subkey/sr25519"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
)

// signingContext is the domain-separation label Substrate's runtime
// uses for Sr25519 signature verification.
var signingContext = []byte("substrate")

const sigLen = 64

// Signer holds one attester's Sr25519 key and signs MessageIds
// directly, with no message prefix: the Substrate pallet verifier
// checks the bundle hash as-is.
type Signer struct {
	attesterID uint8
	pair       subkey.KeyPair
	public     [32]byte
}

// NewFromSeedHex builds a Signer from a hex-encoded 32-byte Sr25519
// seed.
func NewFromSeedHex(attesterID uint8, seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(trimHexPrefix(seedHex))
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "sr25519.NewFromSeedHex", fmt.Errorf("decode seed: %w", err))
	}
	if len(seed) != 32 {
		return nil, chainerr.New(chainerr.Configuration, "sr25519.NewFromSeedHex", fmt.Errorf("seed must be 32 bytes, got %d", len(seed)))
	}

	pair, err := subkeysr25519.Scheme{}.FromSeed(seed)
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "sr25519.NewFromSeedHex", fmt.Errorf("derive keypair: %w", err))
	}

	s := &Signer{attesterID: attesterID, pair: pair}
	copy(s.public[:], pair.Public())
	return s, nil
}

// Public returns the attester's Sr25519 public key.
func (s *Signer) Public() [32]byte {
	return s.public
}

// Sign signs id directly and verifies the signature against our own
// public key before returning it.
func (s *Signer) Sign(id message.MessageId, signedAtMs uint64) (identity.PartialSignature, error) {
	sig, err := s.pair.Sign(id[:])
	if err != nil {
		return identity.PartialSignature{}, chainerr.New(chainerr.Signing, "sr25519.Sign", err)
	}
	if len(sig) != sigLen {
		return identity.PartialSignature{}, chainerr.New(chainerr.Signing, "sr25519.Sign",
			fmt.Errorf("unexpected signature length %d", len(sig)))
	}
	if !s.pair.Verify(id[:], sig) {
		return identity.PartialSignature{}, chainerr.New(chainerr.Signing, "sr25519.Sign", fmt.Errorf("self-verify failed"))
	}

	return identity.PartialSignature{
		AttesterID: s.attesterID,
		Signature:  sig,
		SignedAtMs: signedAtMs,
	}, nil
}

// Verify checks sig against the expected public key for id. Used by
// the attester API (through signing.Verify) to validate a partial
// signature from a remote attester, where only the public key is
// available.
func Verify(public [32]byte, id message.MessageId, sigBytes []byte) error {
	if len(sigBytes) != sigLen {
		return fmt.Errorf("signature must be %d bytes, got %d", sigLen, len(sigBytes))
	}
	var sigArr [64]byte
	copy(sigArr[:], sigBytes)
	sig := &schnorrkel.Signature{}
	if err := sig.Decode(sigArr); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	pub := schnorrkel.NewPublicKey(public)
	ctx := schnorrkel.NewSigningContext(signingContext, id[:])
	ok, err := pub.Verify(sig, ctx)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if !ok {
		return fmt.Errorf("signature does not verify against public key %x", public)
	}
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
