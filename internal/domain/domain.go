// Package domain holds the fixed Domain tag space shared by every
// attester and the destination-chain verifiers. The set is stable: an
// adapter and its on-chain counterpart must agree on these integers.
package domain

import "fmt"

// Domain identifies a chain's role in the bridge. The numbering is
// fixed by the on-chain contracts and pallets; never renumber an
// existing tag.
type Domain uint32

const (
	EVMEthereum Domain = 0
	Solana      Domain = 1
	Substrate   Domain = 2
	Polygon     Domain = 3
	Arbitrum    Domain = 4
	BNB         Domain = 5
	Base        Domain = 6
	Bitcoin     Domain = 7
	TRON        Domain = 8
	XRPL        Domain = 9
	Cardano     Domain = 10
	Stellar     Domain = 11
)

var names = map[Domain]string{
	EVMEthereum: "evm-ethereum",
	Solana:      "solana",
	Substrate:   "substrate",
	Polygon:     "polygon",
	Arbitrum:    "arbitrum",
	BNB:         "bnb",
	Base:        "base",
	Bitcoin:     "bitcoin",
	TRON:        "tron",
	XRPL:        "xrpl",
	Cardano:     "cardano",
	Stellar:     "stellar",
}

// String returns a human-readable name, or "domain(N)" for an unknown tag.
func (d Domain) String() string {
	if n, ok := names[d]; ok {
		return n
	}
	return fmt.Sprintf("domain(%d)", uint32(d))
}

// evmFamily is the set of domains whose destination-side verification
// and signature scheme are EVM-native (secp256k1 ECDSA).
var evmFamily = map[Domain]bool{
	EVMEthereum: true,
	Polygon:     true,
	Arbitrum:    true,
	BNB:         true,
	Base:        true,
}

// IsEVMFamily reports whether d is one of the EVM-family domains.
func IsEVMFamily(d Domain) bool {
	return evmFamily[d]
}

// IsSubstrate reports whether d is the Substrate relay chain domain.
func IsSubstrate(d Domain) bool {
	return d == Substrate
}

// Valid reports whether d is a recognized domain tag.
func Valid(d Domain) bool {
	_, ok := names[d]
	return ok
}

var byName map[string]Domain

func init() {
	byName = make(map[string]Domain, len(names))
	for d, n := range names {
		byName[n] = d
	}
}

// Parse reverses String: looks up a Domain by its human-readable name,
// used to decode the attester HTTP API's JSON responses back into a
// Domain tag.
func Parse(name string) (Domain, bool) {
	d, ok := byName[name]
	return d, ok
}

// RequiredConfirmations returns the default finality depth for a source
// domain. config.Config.ConfirmationsFor layers the CONFIRMATIONS_REQUIRED
// overrides on top of this default; the attester service's finality
// wait reads this default directly, so those overrides do not change it.
func RequiredConfirmations(d Domain) uint32 {
	switch d {
	case EVMEthereum:
		return 12
	case Polygon:
		return 128
	case Arbitrum:
		return 20
	case BNB:
		return 15
	case Base:
		return 20
	case Solana:
		return 31
	case Substrate:
		return 2
	case Bitcoin:
		return 6
	case TRON:
		return 19
	case XRPL:
		return 1
	case Cardano:
		return 15
	case Stellar:
		return 3
	default:
		return 12
	}
}

// DefaultThreshold returns the process-wide (k, n) signature threshold
// for attestations destined for d. The reference deployment runs a flat
// 5-of-9 fleet across every destination domain; see DESIGN.md for the
// open-question resolution.
func DefaultThreshold(d Domain) (k, n int) {
	return 5, 9
}
