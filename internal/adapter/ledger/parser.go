// Package ledger holds the Parser shared by the four UTXO/ledger
// chains (Bitcoin, Cardano, XRPL, Stellar): each one's Source locates
// the carrier (OP_RETURN output, tx metadata label 674, or memo text),
// decodes its short `<domain:u8><recipient:32>` tag (§6.2), and fills
// in the amount/nonce/sender/token fields the carrier itself doesn't
// hold from the chain's native transaction structure — producing one
// common internal wire shape this Parser decodes the same way
// regardless of which chain it came from.
package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

// PayloadLen is domain(1) + recipient(32) + amount u128 LE(16) +
// nonce u64 LE(8) + sender(32) + token(32).
const PayloadLen = 1 + 32 + 16 + 8 + 32 + 32

// BuildPayload assembles the common internal wire shape a ledger
// Source produces once it has located and decoded the carrier and
// read the accompanying amount/sender/token from the native
// transaction. sourceDomain is fixed per adapter instance; destDomain
// and recipient come from the carrier's tagged payload.
func BuildPayload(destDomain domain.Domain, recipient [32]byte, amount message.Amount128, nonce uint64, sender, token [32]byte) []byte {
	out := make([]byte, 0, PayloadLen)
	out = append(out, byte(destDomain))
	out = append(out, recipient[:]...)
	amt := amount.LittleEndianBytes16()
	out = append(out, amt[:]...)
	var nonceBuf [8]byte
	binary.LittleEndian.PutUint64(nonceBuf[:], nonce)
	out = append(out, nonceBuf[:]...)
	out = append(out, sender[:]...)
	out = append(out, token[:]...)
	return out
}

// DecodeCarrier parses the short `<domain:u8><recipient:32>` tagged
// payload a ledger Source reads out of an OP_RETURN output, a tx
// metadata map, or a memo field.
func DecodeCarrier(raw []byte) (destDomain domain.Domain, recipient [32]byte, err error) {
	if len(raw) != 33 {
		return 0, recipient, fmt.Errorf("carrier payload must be 33 bytes, got %d", len(raw))
	}
	destDomain = domain.Domain(raw[0])
	copy(recipient[:], raw[1:])
	return destDomain, recipient, nil
}

type Parser struct {
	sourceDomain domain.Domain
}

func NewParser(sourceDomain domain.Domain) *Parser {
	return &Parser{sourceDomain: sourceDomain}
}

func (p *Parser) Parse(ev adapter.RawEvent) (message.ObservedMessage, error) {
	if len(ev.Payload) < PayloadLen {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "ledger.Parser.Parse",
			fmt.Errorf("event payload too short: got %d bytes, want %d", len(ev.Payload), PayloadLen))
	}

	b := ev.Payload
	off := 0
	destDomain := domain.Domain(b[off])
	off++
	var recipient [32]byte
	copy(recipient[:], b[off:off+32])
	off += 32

	var amountLE [16]byte
	copy(amountLE[:], b[off:off+16])
	off += 16

	nonce := binary.LittleEndian.Uint64(b[off : off+8])
	off += 8

	var sender, token [32]byte
	copy(sender[:], b[off:off+32])
	off += 32
	copy(token[:], b[off:off+32])

	if !domain.Valid(destDomain) {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "ledger.Parser.Parse",
			fmt.Errorf("unrecognized destination domain tag %d", destDomain))
	}

	amount := message.AmountFromLittleEndianBytes16(amountLE)
	if amount.IsZero() {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "ledger.Parser.Parse",
			fmt.Errorf("amount must not be zero"))
	}

	tok := message.NativeToken()
	if token != ([32]byte{}) {
		tok = message.TokenRef{Native: false, Addr: token}
	}

	return message.ObservedMessage{
		SourceDomain:      p.sourceDomain,
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
