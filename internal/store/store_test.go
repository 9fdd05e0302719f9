package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
)

func sampleObserved(nonce uint64) message.ObservedMessage {
	sender, _ := message.LeftPad32([]byte{0x01})
	recipient, _ := message.LeftPad32([]byte{0x02})
	return message.ObservedMessage{
		SourceDomain:      domain.EVMEthereum,
		DestinationDomain: domain.Substrate,
		Nonce:             nonce,
		Sender:            sender,
		Recipient:         recipient,
		Amount:            message.AmountFromUint64(1000),
		Token:             message.NativeToken(),
		SourceTx:          []byte{0x01},
		SourceBlock:       1,
	}
}

func newTestStore() *Store {
	return New(time.Hour, zerolog.Nop())
}

func TestEnsureIsIdempotent(t *testing.T) {
	s := newTestStore()
	m := sampleObserved(1)

	id1, err := s.Ensure(m)
	require.NoError(t, err)
	id2, err := s.Ensure(m)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	att, ok := s.Get(id1)
	require.True(t, ok)
	assert.Equal(t, StatusPending, att.Status)
}

func TestEnsureRejectsConflictingBytes(t *testing.T) {
	s := newTestStore()
	m1 := sampleObserved(1)
	_, err := s.Ensure(m1)
	require.NoError(t, err)

	// Same id would only happen via a hash collision in practice; here we
	// simulate the conflict check directly by forging a store entry.
	id, _, _ := message.Canonicalize(m1)
	s.byID[id].MessageBytes[0] ^= 0xFF

	_, err = s.Ensure(m1)
	assert.Error(t, err)
}

func TestAddSignatureReachesThreshold(t *testing.T) {
	s := newTestStore()
	m := sampleObserved(2)
	id, err := s.Ensure(m)
	require.NoError(t, err)

	k := 2
	res, err := s.AddSignature(id, identity.PartialSignature{AttesterID: 1, Signature: []byte{0xAA}}, k)
	require.NoError(t, err)
	assert.Equal(t, AddAccepted, res)

	att, _ := s.Get(id)
	assert.Equal(t, StatusPending, att.Status)

	res, err = s.AddSignature(id, identity.PartialSignature{AttesterID: 2, Signature: []byte{0xBB}}, k)
	require.NoError(t, err)
	assert.Equal(t, AddAccepted, res)

	att, _ = s.Get(id)
	assert.Equal(t, StatusReady, att.Status)
	assert.Len(t, s.ListReady(), 1)
}

func TestAddSignatureRejectsDuplicateAttester(t *testing.T) {
	s := newTestStore()
	m := sampleObserved(3)
	id, err := s.Ensure(m)
	require.NoError(t, err)

	_, err = s.AddSignature(id, identity.PartialSignature{AttesterID: 1, Signature: []byte{0xAA}}, 5)
	require.NoError(t, err)

	res, err := s.AddSignature(id, identity.PartialSignature{AttesterID: 1, Signature: []byte{0xCC}}, 5)
	require.NoError(t, err)
	assert.Equal(t, AddDuplicateAttester, res)
}

func TestMarkRelayedIsIdempotent(t *testing.T) {
	s := newTestStore()
	m := sampleObserved(4)
	id, err := s.Ensure(m)
	require.NoError(t, err)

	require.NoError(t, s.MarkRelayed(id))
	require.NoError(t, s.MarkRelayed(id))

	att, _ := s.Get(id)
	assert.Equal(t, StatusRelayed, att.Status)
}

func TestSweepEvictsOnlyExpiredPending(t *testing.T) {
	s := New(-time.Second, zerolog.Nop()) // already-expired window
	m := sampleObserved(5)
	id, err := s.Ensure(m)
	require.NoError(t, err)

	removed := s.Sweep()
	assert.Equal(t, 1, removed)

	_, ok := s.Get(id)
	assert.False(t, ok)
}

func TestSweepNeverEvictsReady(t *testing.T) {
	s := New(-time.Second, zerolog.Nop())
	m := sampleObserved(6)
	id, err := s.Ensure(m)
	require.NoError(t, err)
	_, err = s.AddSignature(id, identity.PartialSignature{AttesterID: 1}, 1)
	require.NoError(t, err)

	removed := s.Sweep()
	assert.Equal(t, 0, removed)

	att, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusReady, att.Status)
}

func TestGetReportsExpiredBeforeSweep(t *testing.T) {
	s := New(-time.Second, zerolog.Nop()) // already-expired window
	m := sampleObserved(8)
	id, err := s.Ensure(m)
	require.NoError(t, err)

	att, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, att.Status)

	byNonce, ok := s.GetByNonce(domain.EVMEthereum, 8)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, byNonce.Status)
}

func TestGetNeverReportsExpiredOnceReady(t *testing.T) {
	s := New(-time.Second, zerolog.Nop())
	m := sampleObserved(9)
	id, err := s.Ensure(m)
	require.NoError(t, err)
	_, err = s.AddSignature(id, identity.PartialSignature{AttesterID: 1}, 1)
	require.NoError(t, err)

	att, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusReady, att.Status)
}

func TestCountsByStatus(t *testing.T) {
	s := New(time.Hour, zerolog.Nop())
	pending := sampleObserved(10)
	_, err := s.Ensure(pending)
	require.NoError(t, err)

	ready := sampleObserved(11)
	readyID, err := s.Ensure(ready)
	require.NoError(t, err)
	_, err = s.AddSignature(readyID, identity.PartialSignature{AttesterID: 1}, 1)
	require.NoError(t, err)

	relayed := sampleObserved(12)
	relayedID, err := s.Ensure(relayed)
	require.NoError(t, err)
	_, err = s.AddSignature(relayedID, identity.PartialSignature{AttesterID: 1}, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkRelayed(relayedID))

	counts := s.CountsByStatus()
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusReady])
	assert.Equal(t, 1, counts[StatusRelayed])
	assert.Equal(t, 0, counts[StatusExpired])
}

func TestGetByNonce(t *testing.T) {
	s := newTestStore()
	m := sampleObserved(7)
	id, err := s.Ensure(m)
	require.NoError(t, err)

	att, ok := s.GetByNonce(domain.EVMEthereum, 7)
	require.True(t, ok)
	assert.Equal(t, id, att.MessageId)
}
