package substrate

import (
	"encoding/binary"
	"fmt"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

// payloadLen mirrors the EVM body's field set (§6.2: "pallet events
// expose the same fields") but SCALE-encoded, which for fixed-width
// integers and byte arrays is simply little-endian: destinationDomain
// u32 | nonce u64 | sender 32B | recipient 32B | amount u128 (16B) |
// token 32B.
const payloadLen = 4 + 8 + 32 + 32 + 16 + 32

type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Parse(ev adapter.RawEvent) (message.ObservedMessage, error) {
	if len(ev.Payload) < payloadLen {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "substrate.Parser.Parse",
			fmt.Errorf("event payload too short: got %d bytes, want at least %d", len(ev.Payload), payloadLen))
	}

	b := ev.Payload
	off := 0
	destDomain := domain.Domain(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	nonce := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	var sender, recipient, token [32]byte
	copy(sender[:], b[off:off+32])
	off += 32
	copy(recipient[:], b[off:off+32])
	off += 32

	var amountLE [16]byte
	copy(amountLE[:], b[off:off+16])
	off += 16

	copy(token[:], b[off:off+32])
	off += 32

	if !domain.Valid(destDomain) {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "substrate.Parser.Parse",
			fmt.Errorf("unrecognized destination domain tag %d", destDomain))
	}

	amount := message.AmountFromLittleEndianBytes16(amountLE)
	if amount.IsZero() {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "substrate.Parser.Parse",
			fmt.Errorf("amount must not be zero"))
	}

	tok := message.NativeToken()
	if token != ([32]byte{}) {
		t, err := message.TokenFromAddress(trimLeadingZeros(token))
		if err != nil {
			return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "substrate.Parser.Parse", err)
		}
		tok = t
	}

	return message.ObservedMessage{
		SourceDomain:      domain.Substrate,
		DestinationDomain: destDomain,
		Nonce:             nonce,
		Sender:            sender,
		Recipient:         recipient,
		Amount:            amount,
		Token:             tok,
		SourceTx:          ev.TxHash,
		SourceBlock:       ev.BlockNumber,
		SourceTimestampMs: ev.BlockTimeMs,
	}, nil
}

func trimLeadingZeros(word [32]byte) []byte {
	i := 0
	for i < len(word) && word[i] == 0 {
		i++
	}
	return word[i:]
}
