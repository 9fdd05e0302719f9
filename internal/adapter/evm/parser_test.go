package evm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/domain"
)

func buildPayload(t *testing.T, sourceDomain, destDomain uint32, nonce uint64, sender, recipient [32]byte, amount uint64, burnToken [32]byte) []byte {
	t.Helper()
	b := make([]byte, 0, headerLen+bodyLen)

	put32 := func(v uint32) {
		var w [4]byte
		binary.BigEndian.PutUint32(w[:], v)
		b = append(b, w[:]...)
	}
	put64 := func(v uint64) {
		var w [8]byte
		binary.BigEndian.PutUint64(w[:], v)
		b = append(b, w[:]...)
	}

	put32(1) // version
	put32(sourceDomain)
	put32(destDomain)
	put64(nonce)
	b = append(b, make([]byte, 32)...) // header sender
	b = append(b, make([]byte, 32)...) // header recipient
	b = append(b, make([]byte, 32)...) // destinationCaller

	put32(1) // bodyVersion
	b = append(b, burnToken[:]...)
	b = append(b, recipient[:]...)
	var amountWord [32]byte
	binary.BigEndian.PutUint64(amountWord[24:], amount)
	b = append(b, amountWord[:]...)
	b = append(b, sender[:]...)

	return b
}

func TestParserDecodesS1Example(t *testing.T) {
	var sender, recipient [32]byte
	sender[31] = 0x01
	recipient[31] = 0x02

	payload := buildPayload(t, uint32(domain.EVMEthereum), uint32(domain.Substrate), 42, sender, recipient, 1_000_000, [32]byte{})

	p := NewParser()
	m, err := p.Parse(adapter.RawEvent{
		SourceDomain: domain.EVMEthereum,
		TxHash:       []byte{0xAA},
		BlockNumber:  1000,
		Payload:      payload,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.EVMEthereum, m.SourceDomain)
	assert.Equal(t, domain.Substrate, m.DestinationDomain)
	assert.Equal(t, uint64(42), m.Nonce)
	assert.Equal(t, sender, m.Sender)
	assert.Equal(t, recipient, m.Recipient)
	assert.Equal(t, uint64(1_000_000), m.Amount.Big().Uint64())
	assert.True(t, m.Token.Native)
}

func TestParserRejectsShortPayload(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(adapter.RawEvent{Payload: []byte{0x01, 0x02}})
	assert.Error(t, err)
}

func TestParserRejectsZeroAmount(t *testing.T) {
	var sender, recipient [32]byte
	sender[31] = 0x01
	recipient[31] = 0x02

	payload := buildPayload(t, uint32(domain.EVMEthereum), uint32(domain.Substrate), 42, sender, recipient, 0, [32]byte{})

	p := NewParser()
	_, err := p.Parse(adapter.RawEvent{
		SourceDomain: domain.EVMEthereum,
		Payload:      payload,
	})
	assert.Error(t, err)
}

func TestParserRejectsUnrecognizedDomain(t *testing.T) {
	var sender, recipient [32]byte
	payload := buildPayload(t, 999, uint32(domain.Substrate), 1, sender, recipient, 1, [32]byte{})

	p := NewParser()
	_, err := p.Parse(adapter.RawEvent{Payload: payload})
	assert.Error(t, err)
}
