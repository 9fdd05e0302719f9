package message

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/domain"
)

func sampleMessage() ObservedMessage {
	sender, _ := LeftPad32([]byte{0x01})
	recipient, _ := LeftPad32([]byte{0x02})
	return ObservedMessage{
		SourceDomain:      domain.EVMEthereum,
		DestinationDomain: domain.Substrate,
		Nonce:             42,
		Sender:            sender,
		Recipient:         recipient,
		Amount:            AmountFromUint64(1_000_000),
		Token:             NativeToken(),
		SourceTx:          []byte{0xAA, 0xBB},
		SourceBlock:       100,
		ConfirmationsSeen: 12,
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	m := sampleMessage()

	b1, id1, err := Canonicalize(m)
	require.NoError(t, err)
	b2, id2, err := Canonicalize(m)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	assert.Equal(t, id1, id2)
	assert.Len(t, b1, 128)
}

func TestCanonicalizeIgnoresSourceTxAndBlock(t *testing.T) {
	m1 := sampleMessage()
	m2 := sampleMessage()
	m2.SourceTx = []byte{0x01, 0x02, 0x03}
	m2.SourceBlock = 999
	m2.ConfirmationsSeen = 50

	_, id1, err := Canonicalize(m1)
	require.NoError(t, err)
	_, id2, err := Canonicalize(m2)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "MessageId must not depend on source_tx or block metadata")
}

func TestCanonicalizeHashSelectionByDestination(t *testing.T) {
	toEVM := sampleMessage()
	toEVM.DestinationDomain = domain.EVMEthereum

	toSubstrate := sampleMessage()
	toSubstrate.DestinationDomain = domain.Substrate

	_, idEVM, err := Canonicalize(toEVM)
	require.NoError(t, err)
	_, idSubstrate, err := Canonicalize(toSubstrate)
	require.NoError(t, err)

	assert.NotEqual(t, idEVM, idSubstrate, "different destination domains change both the bytes and the hasher")
}

func TestMessageIdHexRoundTrip(t *testing.T) {
	m := sampleMessage()
	_, id, err := Canonicalize(m)
	require.NoError(t, err)

	parsed, ok := ParseMessageId(id.Hex())
	require.True(t, ok)
	assert.Equal(t, id, parsed)
}

func TestParseMessageIdRejectsMalformed(t *testing.T) {
	_, ok := ParseMessageId("0xnothex")
	assert.False(t, ok)

	_, ok = ParseMessageId("deadbeef")
	assert.False(t, ok)
}

func TestAmount128RejectsOversizedAndNegative(t *testing.T) {
	_, err := NewAmount128(nil)
	assert.Error(t, err)

	_, err = NewAmount128(big.NewInt(-1))
	assert.Error(t, err)

	_, err = NewAmount128(new(big.Int).Lsh(big.NewInt(1), 128))
	assert.Error(t, err)
}

func TestAmount128RoundTripLittleEndian(t *testing.T) {
	a := AmountFromUint64(123456789)
	b := a.LittleEndianBytes16()
	back := AmountFromLittleEndianBytes16(b)
	assert.Equal(t, 0, a.Big().Cmp(back.Big()))
}

func TestAmount128RoundTripBigEndianWord(t *testing.T) {
	a := AmountFromUint64(42)
	w := a.BigEndianWord32()
	back, err := AmountFromBigEndianWord32(w)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Big().Cmp(back.Big()))
}
