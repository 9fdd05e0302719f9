package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/message"
)

func TestMarkRelayedDeliversToEndpoint(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{Endpoints: []string{srv.URL}, Workers: 1}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	defer n.Stop()

	var id message.MessageId
	id[0] = 0x42
	require.NoError(t, n.MarkRelayed(ctx, id))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hits) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMarkRelayedSchedulesRetryOnFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{Endpoints: []string{srv.URL}, Workers: 1, RetryDelays: []time.Duration{10 * time.Millisecond}}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	defer n.Stop()

	var id message.MessageId
	id[0] = 0x7
	require.NoError(t, n.MarkRelayed(ctx, id))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hits) == 1
	}, time.Second, 5*time.Millisecond)

	n.mu.Lock()
	pending := len(n.pending)
	n.mu.Unlock()
	require.Equal(t, 1, pending)
}

func TestMarkRelayedWithNoEndpointsIsNoop(t *testing.T) {
	n := New(Config{}, zerolog.Nop())
	var id message.MessageId
	require.NoError(t, n.MarkRelayed(context.Background(), id))
}
