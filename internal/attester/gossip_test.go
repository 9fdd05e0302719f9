package attester

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/store"
)

func TestBroadcastSignaturePostsToEveryPeer(t *testing.T) {
	var received int32
	var gotBody gossipPayload

	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer peer.Close()

	sender, _ := message.LeftPad32([]byte{0x01})
	recipient, _ := message.LeftPad32([]byte{0x02})
	observed := message.ObservedMessage{
		SourceDomain:      domain.EVMEthereum,
		DestinationDomain: domain.Substrate,
		Nonce:             7,
		Sender:            sender,
		Recipient:         recipient,
		Amount:            message.AmountFromUint64(500),
		Token:             message.NativeToken(),
	}
	sig := identity.PartialSignature{AttesterID: 3, Signature: []byte{0xAA, 0xBB}, SignedAtMs: 42}

	st := store.New(time.Hour, zerolog.Nop())
	signer := &fakeSigner{id: identity.AttesterIdentity{ID: 1}}
	svc := New(signer, st, time.Hour, []string{peer.URL}, zerolog.Nop())

	svc.broadcastSignature(observed, sig)
	svc.wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&received))
	assert.Equal(t, "evm-ethereum", gotBody.SourceDomain)
	assert.Equal(t, uint8(3), gotBody.AttesterID)
}

func TestBroadcastSignatureSkipsWithNoPeers(t *testing.T) {
	st := store.New(time.Hour, zerolog.Nop())
	signer := &fakeSigner{id: identity.AttesterIdentity{ID: 1}}
	svc := New(signer, st, time.Hour, nil, zerolog.Nop())

	svc.broadcastSignature(message.ObservedMessage{}, identity.PartialSignature{})
	svc.wg.Wait()
}
