// Package ecdsa implements the secp256k1 half of the attester's dual
// signing scheme, grounded on the teacher's crypto/evm ECDSA signer but
// narrowed to a single operation: sign a MessageId the way the
// destination EVM chain's bundle verifier expects it, then verify the
// signature against our own public key before it ever leaves this
// package.
package ecdsa

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
)

// sigLen is the 65-byte (r, s, v) layout go-ethereum produces.
const sigLen = 65

// Signer holds one attester's secp256k1 key and signs MessageIds for
// EVM-family destinations using the Ethereum personal-message prefix,
// matching what the destination chain's verifier recovers against.
type Signer struct {
	attesterID uint8
	priv       *ecdsa.PrivateKey
	address    [20]byte
}

// NewFromHex builds a Signer from a hex-encoded secp256k1 private key,
// the same wire format the teacher's NewECDSASignerFromPrivateKey takes.
func NewFromHex(attesterID uint8, privateKeyHex string) (*Signer, error) {
	raw, err := hex.DecodeString(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "ecdsa.NewFromHex", fmt.Errorf("decode private key: %w", err))
	}
	priv, err := gethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "ecdsa.NewFromHex", fmt.Errorf("parse private key: %w", err))
	}
	addr := gethcrypto.PubkeyToAddress(priv.PublicKey)

	s := &Signer{attesterID: attesterID, priv: priv}
	copy(s.address[:], addr.Bytes())
	return s, nil
}

// Address is the attester's Ethereum-style address derived from its
// public key.
func (s *Signer) Address() [20]byte {
	return s.address
}

// Sign signs id with the Ethereum signed-message prefix and verifies
// the result recovers to our own address before returning it. A
// mismatch here means the key material or the signing library is
// broken and must not produce a partial signature other attesters
// would be asked to trust.
func (s *Signer) Sign(id message.MessageId, signedAtMs uint64) (identity.PartialSignature, error) {
	digest := prefixedHash(id)

	sig, err := gethcrypto.Sign(digest[:], s.priv)
	if err != nil {
		return identity.PartialSignature{}, chainerr.New(chainerr.Signing, "ecdsa.Sign", err)
	}
	if len(sig) != sigLen {
		return identity.PartialSignature{}, chainerr.New(chainerr.Signing, "ecdsa.Sign",
			fmt.Errorf("unexpected signature length %d", len(sig)))
	}
	// go-ethereum's v is 0/1; bump to the 27/28 convention the
	// destination chain's ecrecover precompile expects.
	sig[64] += 27

	if err := verify(s.address, id, sig); err != nil {
		return identity.PartialSignature{}, chainerr.New(chainerr.Signing, "ecdsa.Sign", fmt.Errorf("self-verify failed: %w", err))
	}

	return identity.PartialSignature{
		AttesterID: s.attesterID,
		Signature:  sig,
		SignedAtMs: signedAtMs,
	}, nil
}

// Verify checks sig against the expected signer address for id.
func Verify(addr [20]byte, id message.MessageId, sig []byte) error {
	return verify(addr, id, sig)
}

func verify(addr [20]byte, id message.MessageId, sig []byte) error {
	if len(sig) != sigLen {
		return fmt.Errorf("signature must be %d bytes, got %d", sigLen, len(sig))
	}
	digest := prefixedHash(id)

	rs := make([]byte, 64)
	copy(rs, sig[:64])
	recID := sig[64]
	if recID >= 27 {
		recID -= 27
	}
	normalized := append(append([]byte{}, rs...), recID)

	pub, err := gethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return fmt.Errorf("recover public key: %w", err)
	}
	recovered := gethcrypto.PubkeyToAddress(*pub)
	if recovered.Bytes() == nil {
		return fmt.Errorf("empty recovered address")
	}
	for i := range addr {
		if recovered.Bytes()[i] != addr[i] {
			return fmt.Errorf("recovered address %x does not match expected %x", recovered.Bytes(), addr)
		}
	}
	return nil
}

// prefixedHash applies the Ethereum signed-message prefix to the raw
// MessageId, matching what the destination chain's on-chain verifier
// reconstructs before calling ecrecover.
func prefixedHash(id message.MessageId) [32]byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(id))
	return gethcrypto.Keccak256Hash(append([]byte(prefix), id[:]...))
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
