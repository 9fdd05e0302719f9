package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

// instructionLen is discriminator(1) + destinationDomain u32 LE (4) +
// nonce u64 LE (8) + amount u128 LE (16) + token pubkey (32).
const instructionLen = 1 + 4 + 8 + 16 + 32

// trailerLen covers what extractPayload appends after the raw
// instruction data: the transaction fee payer (32) and the recipient
// decoded from the paired Memo instruction (32).
const trailerLen = 32 + 32

type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Parse(ev adapter.RawEvent) (message.ObservedMessage, error) {
	if len(ev.Payload) < instructionLen+trailerLen {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "solana.Parser.Parse",
			fmt.Errorf("payload too short: got %d bytes, want at least %d", len(ev.Payload), instructionLen+trailerLen))
	}

	b := ev.Payload
	off := 1 // skip discriminator
	destDomain := domain.Domain(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	nonce := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	var amountLE [16]byte
	copy(amountLE[:], b[off:off+16])
	off += 16

	var token [32]byte
	copy(token[:], b[off:off+32])
	off += 32

	var sender, recipient [32]byte
	copy(sender[:], b[off:off+32])
	off += 32
	copy(recipient[:], b[off:off+32])

	if !domain.Valid(destDomain) {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "solana.Parser.Parse",
			fmt.Errorf("unrecognized destination domain tag %d", destDomain))
	}

	amount := message.AmountFromLittleEndianBytes16(amountLE)
	if amount.IsZero() {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "solana.Parser.Parse",
			fmt.Errorf("amount must not be zero"))
	}

	tok := message.NativeToken()
	if token != ([32]byte{}) {
		tok = message.TokenRef{Native: false, Addr: token}
	}

	return message.ObservedMessage{
		SourceDomain:      domain.Solana,
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
