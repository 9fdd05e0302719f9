package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

func TestBuildAndParseRoundTrip(t *testing.T) {
	var recipient [32]byte
	recipient[31] = 0x02

	payload := BuildPayload(domain.EVMEthereum, recipient, message.AmountFromUint64(500), 9, [32]byte{}, [32]byte{})

	p := NewParser(domain.Bitcoin)
	m, err := p.Parse(adapter.RawEvent{BlockNumber: 100, Payload: payload})
	require.NoError(t, err)

	assert.Equal(t, domain.Bitcoin, m.SourceDomain)
	assert.Equal(t, domain.EVMEthereum, m.DestinationDomain)
	assert.Equal(t, recipient, m.Recipient)
	assert.Equal(t, uint64(9), m.Nonce)
	assert.Equal(t, uint64(500), m.Amount.Big().Uint64())
}

func TestDecodeCarrierRejectsWrongLength(t *testing.T) {
	_, _, err := DecodeCarrier([]byte{0x00, 0x01})
	assert.Error(t, err)
}

func TestParseRejectsUnrecognizedDomain(t *testing.T) {
	var recipient [32]byte
	payload := BuildPayload(domain.Domain(250), recipient, message.AmountFromUint64(1), 1, [32]byte{}, [32]byte{})

	p := NewParser(domain.Bitcoin)
	_, err := p.Parse(adapter.RawEvent{Payload: payload})
	assert.Error(t, err)
}

func TestParseRejectsZeroAmount(t *testing.T) {
	var recipient [32]byte
	payload := BuildPayload(domain.EVMEthereum, recipient, message.AmountFromUint64(0), 1, [32]byte{}, [32]byte{})

	p := NewParser(domain.Bitcoin)
	_, err := p.Parse(adapter.RawEvent{Payload: payload})
	assert.Error(t, err)
}
