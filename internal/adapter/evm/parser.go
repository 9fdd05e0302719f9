package evm

import (
	"encoding/binary"
	"fmt"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

// headerLen is version(4) + sourceDomain(4) + destinationDomain(4) +
// nonce(8) + sender(32) + recipient(32) + destinationCaller(32).
const headerLen = 4 + 4 + 4 + 8 + 32 + 32 + 32

// bodyLen is bodyVersion(4) + burnToken(32) + mintRecipient(32) +
// amount(32) + messageSender(32).
const bodyLen = 4 + 32 + 32 + 32 + 32

// Parser decodes the CCTP-style message body carried by MessageSent
// logs (§6.2). All integer fields are big-endian, matching the
// destination contracts' native ABI encoding.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func (p *Parser) Parse(ev adapter.RawEvent) (message.ObservedMessage, error) {
	if len(ev.Payload) < headerLen+bodyLen {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "evm.Parser.Parse",
			fmt.Errorf("message payload too short: got %d bytes, want at least %d", len(ev.Payload), headerLen+bodyLen))
	}

	b := ev.Payload
	off := 0
	readU32 := func() uint32 {
		v := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		return v
	}
	readU64 := func() uint64 {
		v := binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		return v
	}
	read32 := func() [32]byte {
		var out [32]byte
		copy(out[:], b[off:off+32])
		off += 32
		return out
	}

	_ = readU32() // version
	sourceDomain := domain.Domain(readU32())
	destDomain := domain.Domain(readU32())
	nonce := readU64()
	_ = read32() // header sender (bridge contract on the source chain)
	_ = read32() // header recipient (bridge contract on the destination chain)
	_ = read32() // destinationCaller

	_ = readU32() // bodyVersion
	burnToken := read32()
	mintRecipient := read32()
	var amountWord [32]byte
	copy(amountWord[:], b[off:off+32])
	off += 32
	messageSender := read32()

	if !domain.Valid(sourceDomain) || !domain.Valid(destDomain) {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "evm.Parser.Parse",
			fmt.Errorf("unrecognized domain tags source=%d dest=%d", sourceDomain, destDomain))
	}

	amount, err := message.AmountFromBigEndianWord32(amountWord)
	if err != nil {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "evm.Parser.Parse", err)
	}
	if amount.IsZero() {
		return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "evm.Parser.Parse",
			fmt.Errorf("amount must not be zero"))
	}

	token := message.NativeToken()
	if burnToken != ([32]byte{}) {
		tok, err := message.TokenFromAddress(trimLeadingZeros(burnToken))
		if err != nil {
			return message.ObservedMessage{}, chainerr.New(chainerr.ChainProtocol, "evm.Parser.Parse", err)
		}
		token = tok
	}

	return message.ObservedMessage{
		SourceDomain:      sourceDomain,
		DestinationDomain: destDomain,
		Nonce:             nonce,
		Sender:            messageSender,
		Recipient:         mintRecipient,
		Amount:            amount,
		Token:             token,
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
