package signing

import (
	"time"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/signing/ecdsa"
	"github.com/etrid-network/attest-core/internal/signing/sr25519"
)

// dualSigner is the Signer implementation attester processes use: it
// loads both key materials at startup and picks the scheme inside Sign
// by destination_domain, exactly as the §9 design note requires.
type dualSigner struct {
	id    identity.AttesterIdentity
	ecdsa *ecdsa.Signer
	sr    *sr25519.Signer
}

// NewDualSigner builds the one Signer an attester process needs,
// wrapping the two scheme-specific signers. Its Identity is derived
// from the two keys' public material; it is not compared against any
// separately configured address.
func NewDualSigner(attesterID uint8, ecdsaPrivHex, sr25519SeedHex string) (Signer, error) {
	ec, err := ecdsa.NewFromHex(attesterID, ecdsaPrivHex)
	if err != nil {
		return nil, err
	}
	sr, err := sr25519.NewFromSeedHex(attesterID, sr25519SeedHex)
	if err != nil {
		return nil, err
	}

	return &dualSigner{
		id: identity.AttesterIdentity{
			ID:            attesterID,
			ECDSAAddress:  ec.Address(),
			Sr25519Public: sr.Public(),
		},
		ecdsa: ec,
		sr:    sr,
	}, nil
}

func (d *dualSigner) Identity() identity.AttesterIdentity {
	return d.id
}

// Sign dispatches on dest alone; callers never choose a scheme.
func (d *dualSigner) Sign(id message.MessageId, dest domain.Domain) (identity.PartialSignature, error) {
	now := uint64(time.Now().UnixMilli())
	switch {
	case domain.IsSubstrate(dest):
		return d.sr.Sign(id, now)
	case domain.IsEVMFamily(dest) || isUTXOOrLedgerFamily(dest):
		return d.ecdsa.Sign(id, now)
	default:
		return identity.PartialSignature{}, chainerr.New(chainerr.Signing, "dualSigner.Sign", &ErrUnsupportedDestination{Dest: dest})
	}
}

func (d *dualSigner) Close() error {
	return nil
}

// isUTXOOrLedgerFamily covers the chains whose bundle verifier is
// off-chain (relayer-side) rather than a deployed contract, but which
// still reuse the ECDSA scheme because their relayer tooling is built
// on go-ethereum's secp256k1 primitives (§6.2).
func isUTXOOrLedgerFamily(dest domain.Domain) bool {
	switch dest {
	case domain.Bitcoin, domain.TRON, domain.XRPL, domain.Cardano, domain.Stellar, domain.Solana:
		return true
	default:
		return false
	}
}

// Verify checks a PartialSignature against the identity that should
// have produced it, dispatching on dest the same way Sign does. Used
// by the attester API's POST /signature handler when admitting a
// signature from another attester (§4.4).
func Verify(id message.MessageId, dest domain.Domain, who identity.AttesterIdentity, sig []byte) error {
	switch {
	case domain.IsSubstrate(dest):
		return sr25519.Verify(who.Sr25519Public, id, sig)
	case domain.IsEVMFamily(dest) || isUTXOOrLedgerFamily(dest):
		return ecdsa.Verify(who.ECDSAAddress, id, sig)
	default:
		return &ErrUnsupportedDestination{Dest: dest}
	}
}
