// Package identity holds the small, stable identifiers attesters carry
// and the partial signatures they produce.
package identity

// AttesterIdentity is one attester's stable identity in the fleet: a
// small provisioning-time integer plus both public keys it might be
// asked to sign with, since the signature scheme is chosen per-message
// by destination_domain, not per-attester.
type AttesterIdentity struct {
	ID            uint8
	ECDSAAddress  [20]byte
	Sr25519Public [32]byte
}

// PartialSignature is one attester's signature over a MessageId.
type PartialSignature struct {
	AttesterID uint8
	Signature  []byte
	SignedAtMs uint64
}
