package message

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"

	"github.com/etrid-network/attest-core/internal/domain"
)

// MessageId is the 32-byte digest that is the only cross-attester
// identity of a transfer.
type MessageId [32]byte

const messageBytesLen = 4 + 4 + 8 + 32 + 32 + 32 + 16 // = 128

// Canonicalize deterministically encodes m into the fixed 128-byte
// layout from §4.2 and derives its MessageId. source_tx and block
// metadata are intentionally excluded: the same logical transfer must
// hash identically regardless of which re-org history an adapter saw.
//
// The hash function is chosen by destination_domain, never by the
// caller: Keccak-256 for EVM-family destinations (matching the
// destination chain's native hasher), Blake2b-256 for the Substrate
// destination. Mixing these up would fork MessageId between attesters
// and the chain that ultimately verifies the bundle.
func Canonicalize(m ObservedMessage) ([]byte, MessageId, error) {
	b := make([]byte, 0, messageBytesLen)

	var srcDomain, dstDomain [4]byte
	binary.LittleEndian.PutUint32(srcDomain[:], uint32(m.SourceDomain))
	binary.LittleEndian.PutUint32(dstDomain[:], uint32(m.DestinationDomain))
	b = append(b, srcDomain[:]...)
	b = append(b, dstDomain[:]...)

	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], m.Nonce)
	b = append(b, nonce[:]...)

	b = append(b, m.Sender[:]...)
	b = append(b, m.Recipient[:]...)

	tok := m.Token.Bytes()
	b = append(b, tok[:]...)

	amt := m.Amount.LittleEndianBytes16()
	b = append(b, amt[:]...)

	id, err := hashFor(m.DestinationDomain, b)
	if err != nil {
		return nil, MessageId{}, err
	}
	return b, id, nil
}

func hashFor(dest domain.Domain, b []byte) (MessageId, error) {
	if domain.IsSubstrate(dest) {
		h := blake2b.Sum256(b)
		return MessageId(h), nil
	}
	// Every other destination in this system (EVM-family and the
	// UTXO/ledger chains carried alongside it) verifies against the
	// EVM-native hasher; only the Substrate pallet uses Blake2b.
	h := crypto.Keccak256Hash(b)
	return MessageId(h), nil
}

// Hex renders the id as a 0x-prefixed lowercase hex string.
func (id MessageId) Hex() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(id)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range id {
		out[2+i*2] = hextable[c>>4]
		out[3+i*2] = hextable[c&0x0f]
	}
	return string(out)
}

// ParseMessageId parses a 0x-prefixed 64-hex-char MessageId.
func ParseMessageId(s string) (MessageId, bool) {
	var id MessageId
	if len(s) == 2+64 && (s[0:2] == "0x" || s[0:2] == "0X") {
		s = s[2:]
	} else if len(s) != 64 {
		return id, false
	}
	for i := 0; i < 32; i++ {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return id, false
		}
		id[i] = hi<<4 | lo
	}
	return id, true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
