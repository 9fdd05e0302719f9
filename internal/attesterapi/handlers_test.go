package attesterapi

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/metrics"
	"github.com/etrid-network/attest-core/internal/signing/ecdsa"
	"github.com/etrid-network/attest-core/internal/store"
)

func testServer(t *testing.T, expiry time.Duration, roster map[uint8]identity.AttesterIdentity) *Server {
	t.Helper()
	st := store.New(expiry, zerolog.Nop())
	m := metrics.New("attesterapi_test")
	id := identity.AttesterIdentity{ID: 1}
	return New(":0", st, m, id, roster, zerolog.Nop())
}

func sampleMessage(nonce uint64) message.ObservedMessage {
	sender, _ := message.LeftPad32([]byte{0x01})
	recipient, _ := message.LeftPad32([]byte{0x02})
	return message.ObservedMessage{
		SourceDomain:      domain.Substrate,
		DestinationDomain: domain.EVMEthereum,
		Nonce:             nonce,
		Sender:            sender,
		Recipient:         recipient,
		Amount:            message.AmountFromUint64(1000),
		Token:             message.NativeToken(),
	}
}

func TestHandleHealthReportsAllFourCounts(t *testing.T) {
	s := testServer(t, time.Hour, nil)
	m := sampleMessage(1)
	_, err := s.store.Ensure(m)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	counts, ok := body["attestations"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), counts["pending"])
	assert.Equal(t, float64(0), counts["ready"])
	assert.Equal(t, float64(0), counts["relayed"])
	assert.Equal(t, float64(0), counts["expired"])
}

func TestHandleAttestationByHashReturns503WhenPending(t *testing.T) {
	s := testServer(t, time.Hour, nil)
	m := sampleMessage(2)
	id, err := s.store.Ensure(m)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/attestation/"+id.Hex(), nil)
	req = mux.SetURLVars(req, map[string]string{"a": id.Hex()})
	w := httptest.NewRecorder()
	s.handleAttestationByHash(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleIngestSignatureAdmitsValidPeerSignature(t *testing.T) {
	privHex := strings.Repeat("0", 63) + "1"
	signer, err := ecdsa.NewFromHex(2, privHex)
	require.NoError(t, err)

	peer := identity.AttesterIdentity{ID: 2, ECDSAAddress: signer.Address()}
	s := testServer(t, time.Hour, map[uint8]identity.AttesterIdentity{2: peer})

	m := sampleMessage(3)
	_, msgID, err := message.Canonicalize(m)
	require.NoError(t, err)

	sig, err := signer.Sign(msgID, uint64(time.Now().UnixMilli()))
	require.NoError(t, err)

	payload := signatureIngestRequest{
		SourceDomain:      m.SourceDomain.String(),
		DestinationDomain: m.DestinationDomain.String(),
		Nonce:             m.Nonce,
		Sender:            "0x" + hex.EncodeToString(m.Sender[:]),
		Recipient:         "0x" + hex.EncodeToString(m.Recipient[:]),
		TokenNative:       true,
		Amount:            m.Amount.Big().String(),
		AttesterID:        sig.AttesterID,
		Signature:         "0x" + hex.EncodeToString(sig.Signature),
		SignedAtMs:        sig.SignedAtMs,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/signature", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleIngestSignature(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	att, ok := s.store.Get(msgID)
	require.True(t, ok)
	assert.Len(t, att.Signatures, 1)
	assert.Equal(t, store.StatusPending, att.Status)
}

func TestHandleIngestSignatureRejectsUnknownAttester(t *testing.T) {
	s := testServer(t, time.Hour, nil)
	m := sampleMessage(4)

	payload := signatureIngestRequest{
		SourceDomain:      m.SourceDomain.String(),
		DestinationDomain: m.DestinationDomain.String(),
		Nonce:             m.Nonce,
		Sender:            "0x" + hex.EncodeToString(m.Sender[:]),
		Recipient:         "0x" + hex.EncodeToString(m.Recipient[:]),
		TokenNative:       true,
		Amount:            m.Amount.Big().String(),
		AttesterID:        9,
		Signature:         "0x" + strings.Repeat("00", 65),
		SignedAtMs:        1,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/signature", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleIngestSignature(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleIngestSignatureRejectsBadSignature(t *testing.T) {
	privHex := strings.Repeat("0", 63) + "1"
	signer, err := ecdsa.NewFromHex(2, privHex)
	require.NoError(t, err)
	peer := identity.AttesterIdentity{ID: 2, ECDSAAddress: signer.Address()}
	s := testServer(t, time.Hour, map[uint8]identity.AttesterIdentity{2: peer})

	m := sampleMessage(5)

	payload := signatureIngestRequest{
		SourceDomain:      m.SourceDomain.String(),
		DestinationDomain: m.DestinationDomain.String(),
		Nonce:             m.Nonce,
		Sender:            "0x" + hex.EncodeToString(m.Sender[:]),
		Recipient:         "0x" + hex.EncodeToString(m.Recipient[:]),
		TokenNative:       true,
		Amount:            m.Amount.Big().String(),
		AttesterID:        2,
		Signature:         "0x" + strings.Repeat("11", 65),
		SignedAtMs:        1,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/signature", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleIngestSignature(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
