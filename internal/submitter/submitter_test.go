package submitter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/fetcher"
	"github.com/etrid-network/attest-core/internal/message"
)

type fakeBackend struct {
	dom        domain.Domain
	submits    int32
	failTimes  int32 // Submit fails retryably this many times before succeeding
	permanent  bool
	mu         sync.Mutex
	inFlightAt time.Time
}

func (b *fakeBackend) Domain() domain.Domain { return b.dom }

func (b *fakeBackend) Submit(ctx context.Context, att fetcher.ReadyAttestation) (string, error) {
	n := atomic.AddInt32(&b.submits, 1)
	if b.permanent {
		return "", chainerr.NewDestination(chainerr.Permanent, "fakeBackend.Submit", assertErr("bad bundle"))
	}
	if n <= b.failTimes {
		return "", chainerr.NewDestination(chainerr.Retryable, "fakeBackend.Submit", assertErr("transient"))
	}
	return "0xtxhash", nil
}

func (b *fakeBackend) Confirm(ctx context.Context, txRef string) error {
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeNotifier struct {
	mu     sync.Mutex
	marked []message.MessageId
}

func (n *fakeNotifier) MarkRelayed(ctx context.Context, id message.MessageId) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.marked = append(n.marked, id)
	return nil
}

func sampleAttestation(nonce uint64) fetcher.ReadyAttestation {
	var id message.MessageId
	id[0] = byte(nonce)
	return fetcher.ReadyAttestation{
		MessageId:         id,
		DestinationDomain: domain.Substrate,
		Nonce:             nonce,
	}
}

func TestSubmitterConfirmsOnFirstSuccess(t *testing.T) {
	backend := &fakeBackend{dom: domain.Substrate}
	notifier := &fakeNotifier{}
	s := New(map[domain.Domain]Backend{domain.Substrate: backend}, notifier, nil, zerolog.Nop(),
		Config{Workers: 1, RetryBaseDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.True(t, s.Enqueue(sampleAttestation(1)))

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.marked) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitterRetriesRetryableFailures(t *testing.T) {
	backend := &fakeBackend{dom: domain.Substrate, failTimes: 2}
	notifier := &fakeNotifier{}
	s := New(map[domain.Domain]Backend{domain.Substrate: backend}, notifier, nil, zerolog.Nop(),
		Config{Workers: 1, MaxAttempts: 3, RetryBaseDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.True(t, s.Enqueue(sampleAttestation(2)))

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.marked) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&backend.submits))
}

func TestSubmitterStopsRetryingOnPermanentFailure(t *testing.T) {
	backend := &fakeBackend{dom: domain.Substrate, permanent: true}
	notifier := &fakeNotifier{}
	s := New(map[domain.Domain]Backend{domain.Substrate: backend}, notifier, nil, zerolog.Nop(),
		Config{Workers: 1, MaxAttempts: 3, RetryBaseDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.True(t, s.Enqueue(sampleAttestation(3)))

	time.Sleep(100 * time.Millisecond)
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Empty(t, notifier.marked)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.submits))
}

func TestEnqueueReturnsFalseWhenQueueFull(t *testing.T) {
	backend := &fakeBackend{dom: domain.Substrate}
	s := New(map[domain.Domain]Backend{domain.Substrate: backend}, nil, nil, zerolog.Nop(),
		Config{Workers: 0, QueueDepth: 1})

	require.True(t, s.Enqueue(sampleAttestation(4)))
	assert.False(t, s.Enqueue(sampleAttestation(5)))
}
