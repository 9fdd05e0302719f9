// Package message defines the ObservedMessage shape that every chain
// adapter normalizes into, and the MessageId identity derived from it.
package message

import (
	"encoding/hex"
	"fmt"

	"github.com/etrid-network/attest-core/internal/domain"
)

// TokenRef identifies the token moved by a transfer: either the chain's
// native asset or a 32-byte token address on the source chain.
type TokenRef struct {
	Native bool
	Addr   [32]byte // zero when Native is true
}

// NativeToken is the canonical TokenRef for a chain's native asset.
func NativeToken() TokenRef {
	return TokenRef{Native: true}
}

// TokenFromAddress left-pads addr into a 32-byte TokenRef.
func TokenFromAddress(addr []byte) (TokenRef, error) {
	var t TokenRef
	if len(addr) > 32 {
		return t, fmt.Errorf("token address longer than 32 bytes: %d", len(addr))
	}
	copy(t.Addr[32-len(addr):], addr)
	return t, nil
}

// Bytes returns the 32-byte encoding used in message_bytes: all-zero for
// native, the left-padded address otherwise.
func (t TokenRef) Bytes() [32]byte {
	if t.Native {
		return [32]byte{}
	}
	return t.Addr
}

// ObservedMessage is a finality-confirmed bridge event in normalized
// form, as produced by a Chain Adapter's Parser.
type ObservedMessage struct {
	SourceDomain      domain.Domain
	DestinationDomain domain.Domain
	Nonce             uint64
	Sender            [32]byte
	Recipient         [32]byte
	Amount            Amount128
	Token             TokenRef

	SourceTx            []byte
	SourceBlock         uint64
	SourceTimestampMs   uint64
	ConfirmationsSeen   uint32
}

// LeftPad32 left-pads src into a 32-byte array, the canonical encoding
// for addresses of any chain's native width.
func LeftPad32(src []byte) ([32]byte, error) {
	var out [32]byte
	if len(src) > 32 {
		return out, fmt.Errorf("source longer than 32 bytes: %d", len(src))
	}
	copy(out[32-len(src):], src)
	return out, nil
}

// SourceTxHex renders SourceTx as a 0x-prefixed hex string for logging
// and API responses.
func (m ObservedMessage) SourceTxHex() string {
	return "0x" + hex.EncodeToString(m.SourceTx)
}
