package substrate

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/domain"
)

func TestParserDecodesS2Example(t *testing.T) {
	var sender, recipient, token [32]byte
	sender[0] = 0xAB

	b := make([]byte, 0, payloadLen)
	var destDomain [4]byte
	binary.LittleEndian.PutUint32(destDomain[:], uint32(domain.EVMEthereum))
	b = append(b, destDomain[:]...)

	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], 7)
	b = append(b, nonce[:]...)

	b = append(b, sender[:]...)
	b = append(b, recipient[:]...)

	amount := make([]byte, 16)
	amount[0] = 0x40 // low byte of 5_000_000 in little-endian, adjusted below
	binary.LittleEndian.PutUint64(amount[:8], 5_000_000)
	b = append(b, amount...)
	b = append(b, token[:]...)

	p := NewParser()
	m, err := p.Parse(adapter.RawEvent{BlockNumber: 55, Payload: b})
	require.NoError(t, err)

	assert.Equal(t, domain.Substrate, m.SourceDomain)
	assert.Equal(t, domain.EVMEthereum, m.DestinationDomain)
	assert.Equal(t, uint64(7), m.Nonce)
	assert.Equal(t, sender, m.Sender)
	assert.Equal(t, uint64(5_000_000), m.Amount.Big().Uint64())
	assert.True(t, m.Token.Native)
}

func TestParserRejectsShortPayload(t *testing.T) {
	p := NewParser()
	_, err := p.Parse(adapter.RawEvent{Payload: []byte{0x01}})
	assert.Error(t, err)
}

func TestParserRejectsZeroAmount(t *testing.T) {
	var sender, recipient, token [32]byte

	b := make([]byte, 0, payloadLen)
	var destDomain [4]byte
	binary.LittleEndian.PutUint32(destDomain[:], uint32(domain.EVMEthereum))
	b = append(b, destDomain[:]...)

	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], 7)
	b = append(b, nonce[:]...)

	b = append(b, sender[:]...)
	b = append(b, recipient[:]...)
	b = append(b, make([]byte, 16)...) // amount = 0
	b = append(b, token[:]...)

	p := NewParser()
	_, err := p.Parse(adapter.RawEvent{Payload: b})
	assert.Error(t, err)
}
