package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/message"
)

func sampleReadyBody(messageHash string, nonce uint64) []byte {
	body := map[string]interface{}{
		"count": 1,
		"attestations": []map[string]interface{}{
			{
				"messageHash": messageHash,
				"message": map[string]interface{}{
					"source_domain":      "evm-ethereum",
					"destination_domain": "substrate",
					"nonce":              nonce,
					"sender":             "0x" + repeatHex("01"),
					"recipient":          "0x" + repeatHex("02"),
				},
				"signatures": []map[string]interface{}{
					{"attester_id": 1, "signature": "0xaabb", "signed_at_ms": 1000},
				},
				"thresholdMet": true,
				"status":       "ready",
			},
		},
	}
	b, _ := json.Marshal(body)
	return b
}

func repeatHex(pair string) string {
	out := ""
	for i := 0; i < 32; i++ {
		out += pair
	}
	return out
}

func TestFetcherEmitsNewAttestationOnce(t *testing.T) {
	hash := "0x" + repeatHex("ab")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(sampleReadyBody(hash, 1))
	}))
	defer srv.Close()

	f := New(Config{ServiceURLs: []string{srv.URL}, PollInterval: 20 * time.Millisecond}, nil, zerolog.Nop())
	out := make(chan ReadyAttestation, 10)
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx, out)

	select {
	case att := <-out:
		assert.Equal(t, hash, att.MessageId.Hex())
		assert.Equal(t, uint64(1), att.Nonce)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for attestation")
	}

	// Second poll tick should not re-emit the same message id.
	select {
	case <-out:
		t.Fatal("fetcher re-emitted an already-seen attestation")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	f.Stop()
}

func TestFetcherByHash(t *testing.T) {
	hash := "0x" + repeatHex("cd")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		atts := sampleReadyBody(hash, 7)
		json.Unmarshal(atts, &body)
		one := body["attestations"].([]interface{})[0]
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(one)
	}))
	defer srv.Close()

	f := New(Config{ServiceURLs: []string{srv.URL}}, nil, zerolog.Nop())
	id, ok := message.ParseMessageId(hash)
	require.True(t, ok)

	att, ok := f.ByHash(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, uint64(7), att.Nonce)
}
