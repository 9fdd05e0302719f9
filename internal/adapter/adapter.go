// Package adapter defines the chain-adapter framework from the §9
// design note: rather than one monolithic Adapter interface that each
// chain reimplements end to end (the shape the teacher's per-chain
// internal/listener/{evm,...} packages duplicate), discovery and
// parsing are split into two narrow interfaces that compose.
package adapter

import (
	"context"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

// RawEvent is whatever a Source discovers before it has been decoded
// into an ObservedMessage: a push-subscription event or a polled log
// entry, tagged with enough metadata for a Parser to do its work and
// for Finalize to judge confirmation depth.
type RawEvent struct {
	SourceDomain domain.Domain
	TxHash       []byte
	BlockNumber  uint64
	BlockTimeMs  uint64
	Payload      []byte // opaque to Source, meaningful only to the matching Parser
}

// Source discovers raw events on one chain, either by push subscription
// (a websocket feed) or by polling a range of blocks/slots/ledgers.
// Implementations own their own RPC client and reconnect policy;
// Discover blocks until ctx is cancelled or an unrecoverable transport
// error occurs.
type Source interface {
	// Discover streams raw events found at or above fromCursor onto out.
	// The cursor is chain-native: a block number for
	// EVM/Substrate/TRON/Bitcoin/Cardano, a slot for Solana, a ledger
	// sequence for XRPL/Stellar.
	Discover(ctx context.Context, fromCursor uint64, out chan<- RawEvent) error

	// Finalize reports how many confirmations a discovered event has
	// accumulated as of the chain's current tip, used to decide whether
	// it has cleared domain.RequiredConfirmations.
	Finalize(ctx context.Context, ev RawEvent) (confirmations uint32, err error)

	// Domain is the fixed source domain tag this Source watches.
	Domain() domain.Domain

	// Close releases the underlying RPC connection(s).
	Close() error
}

// Parser normalizes a RawEvent's opaque payload into an ObservedMessage
// per the wire contract in §4.1/§6.2. A Parser returning
// chainerr.ChainProtocol signals a malformed or unrecognized event that
// the caller should log and skip rather than retry.
type Parser interface {
	Parse(ev RawEvent) (message.ObservedMessage, error)
}

// Adapter pairs a Source and Parser for one chain. Attester services
// hold one Adapter per chain they watch.
type Adapter struct {
	Source Source
	Parser Parser
}
