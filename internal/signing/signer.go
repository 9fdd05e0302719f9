// Package signing provides the unified Signer entry point described in
// §4.3 and the "Dual signing" design note: scheme selection happens
// inside Sign, keyed off destination_domain, and is never exposed to
// callers above this package.
package signing

import (
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
)

// Signer holds one attester's key material in memory and signs
// MessageIds. Implementations MUST verify their own output before
// returning it; a self-verification mismatch is a Signing error and is
// fatal to the attester process (§7).
type Signer interface {
	// Sign produces a PartialSignature over id for destinations that
	// require dest's signature scheme. Returns chainerr.Signing on key
	// failure or self-verify mismatch, and a chainerr.Signing error
	// wrapping ErrUnsupportedDestination for any other destination domain.
	Sign(id message.MessageId, dest domain.Domain) (identity.PartialSignature, error)

	// Identity returns the public identity this signer backs.
	Identity() identity.AttesterIdentity

	// Close zeroes sensitive key material.
	Close() error
}

// ErrUnsupportedDestination is returned when asked to sign for a
// destination_domain neither scheme covers (§4.3).
type ErrUnsupportedDestination struct {
	Dest domain.Domain
}

func (e *ErrUnsupportedDestination) Error() string {
	return "unsupported destination for signing: " + e.Dest.String()
}
