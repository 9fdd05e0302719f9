package attester

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/store"
)

type fakeSource struct {
	dom           domain.Domain
	confirmations uint32
}

func (f *fakeSource) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	<-ctx.Done()
	return nil
}
func (f *fakeSource) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	return f.confirmations, nil
}
func (f *fakeSource) Domain() domain.Domain { return f.dom }
func (f *fakeSource) Close() error          { return nil }

type fakeParser struct {
	observed message.ObservedMessage
}

func (f *fakeParser) Parse(ev adapter.RawEvent) (message.ObservedMessage, error) {
	return f.observed, nil
}

type fakeSigner struct {
	id identity.AttesterIdentity
}

func (f *fakeSigner) Sign(id message.MessageId, dest domain.Domain) (identity.PartialSignature, error) {
	return identity.PartialSignature{AttesterID: f.id.ID, Signature: []byte{0x01}}, nil
}
func (f *fakeSigner) Identity() identity.AttesterIdentity { return f.id }
func (f *fakeSigner) Close() error                        { return nil }

func TestProcessEventSignsAndRegisters(t *testing.T) {
	sender, _ := message.LeftPad32([]byte{0x01})
	recipient, _ := message.LeftPad32([]byte{0x02})
	observed := message.ObservedMessage{
		SourceDomain:      domain.EVMEthereum,
		DestinationDomain: domain.Substrate,
		Nonce:             1,
		Sender:            sender,
		Recipient:         recipient,
		Amount:            message.AmountFromUint64(100),
		Token:             message.NativeToken(),
	}

	st := store.New(time.Hour, zerolog.Nop())
	signer := &fakeSigner{id: identity.AttesterIdentity{ID: 1}}
	svc := New(signer, st, time.Hour, nil, zerolog.Nop())

	a := adapter.Adapter{
		Source: &fakeSource{dom: domain.EVMEthereum, confirmations: 12},
		Parser: &fakeParser{observed: observed},
	}

	err := svc.processEvent(context.Background(), a, adapter.RawEvent{SourceDomain: domain.EVMEthereum}, zerolog.Nop())
	require.NoError(t, err)

	_, id, err := message.Canonicalize(observed)
	require.NoError(t, err)
	att, ok := st.Get(id)
	require.True(t, ok)
	assert.Contains(t, att.Signatures, uint8(1))
}

func TestWaitForFinalityReturnsOnceThresholdMet(t *testing.T) {
	st := store.New(time.Hour, zerolog.Nop())
	signer := &fakeSigner{id: identity.AttesterIdentity{ID: 1}}
	svc := New(signer, st, time.Hour, nil, zerolog.Nop())

	src := &fakeSource{dom: domain.EVMEthereum, confirmations: 12}
	err := svc.waitForFinality(context.Background(), adapter.Adapter{Source: src}, adapter.RawEvent{}, 12)
	assert.NoError(t, err)
}
