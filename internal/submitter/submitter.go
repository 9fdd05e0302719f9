// Package submitter implements the Destination Submitter (component G,
// §4.7): consumes ReadyAttestations from the fetcher and drives each
// one through queued -> in_flight -> confirmed/failed/rejected, with
// bounded exponential backoff and an at-most-one-in-flight-per-message
// invariant. Grounded on the teacher's internal/relayer/relayer.go
// worker-pool shape (fixed worker count, Start/Stop/wg), generalized
// from a single queue subscription to a typed destination-domain
// Backend dispatch.
package submitter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/fetcher"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/metrics"
)

// Status is a submission's lifecycle state (§4.7).
type Status string

const (
	StatusQueued   Status = "queued"
	StatusInFlight Status = "in_flight"
	StatusConfirmed Status = "confirmed"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// Backend submits one destination family's transactions and waits for
// their confirmation. internal/submitter/evm and
// internal/submitter/substrate each implement one.
type Backend interface {
	Domain() domain.Domain
	// Submit constructs, signs, and sends the destination-chain
	// transaction/extrinsic for att, returning its hash/identifier.
	// Errors MUST be classified via chainerr.NewDestination.
	Submit(ctx context.Context, att fetcher.ReadyAttestation) (txRef string, err error)
	// Confirm blocks until txRef is finalized (nil), rejected
	// (chainerr Destination/Permanent or AlreadyRelayed), or a
	// retryable failure occurs (chainerr Destination/Retryable).
	Confirm(ctx context.Context, txRef string) error
}

// Notifier informs the source attester fleet that a message_id has
// been relayed, so their APIs stop advertising it as ready (§4.7's
// "inform the source attester(s) best-effort").
type Notifier interface {
	MarkRelayed(ctx context.Context, id message.MessageId) error
}

// Config tunes the submitter's concurrency and retry policy.
type Config struct {
	Workers        int
	QueueDepth     int
	MaxAttempts    int           // default 3
	RetryBaseDelay time.Duration // default 60s
}

func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 1024
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 60 * time.Second
	}
	return c
}

// Submitter dispatches ReadyAttestations to the Backend registered for
// their destination_domain.
type Submitter struct {
	cfg      Config
	backends map[domain.Domain]Backend
	notifier Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger

	queue chan fetcher.ReadyAttestation

	mu       sync.Mutex
	inFlight map[message.MessageId]struct{}

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New builds a Submitter. backends must contain one entry per
// destination domain this process relays to.
func New(backends map[domain.Domain]Backend, notifier Notifier, m *metrics.Metrics, log zerolog.Logger, cfg Config) *Submitter {
	cfg = cfg.withDefaults()
	return &Submitter{
		cfg:      cfg,
		backends: backends,
		notifier: notifier,
		metrics:  m,
		log:      log.With().Str("component", "destination-submitter").Logger(),
		queue:    make(chan fetcher.ReadyAttestation, cfg.QueueDepth),
		inFlight: make(map[message.MessageId]struct{}),
		stopChan: make(chan struct{}),
	}
}

// Enqueue attempts a non-blocking send onto the bounded queue. It
// returns false when the queue is full so the caller (the fetcher's
// dispatch loop) can apply backpressure per §5 rather than block
// indefinitely.
func (s *Submitter) Enqueue(att fetcher.ReadyAttestation) bool {
	select {
	case s.queue <- att:
		return true
	default:
		return false
	}
}

// Start launches Config.Workers worker goroutines.
func (s *Submitter) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Stop signals every worker to exit and waits for them.
func (s *Submitter) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Submitter) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case att, ok := <-s.queue:
			if !ok {
				return
			}
			s.process(ctx, att, log)
		}
	}
}

// process drives one attestation through the state machine, enforcing
// at most one in-flight submission per message_id (§4.7 invariant).
func (s *Submitter) process(ctx context.Context, att fetcher.ReadyAttestation, log zerolog.Logger) {
	if !s.claim(att.MessageId) {
		log.Debug().Str("message_id", att.MessageId.Hex()).Msg("submission already in flight, skipping")
		return
	}
	defer s.release(att.MessageId)

	backend, ok := s.backends[att.DestinationDomain]
	if !ok {
		log.Error().Str("destination_domain", att.DestinationDomain.String()).Msg("no submitter backend registered for destination domain")
		return
	}

	status := StatusQueued
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		status = StatusInFlight
		txRef, err := backend.Submit(ctx, att)
		if err == nil {
			err = backend.Confirm(ctx, txRef)
		}

		switch {
		case err == nil:
			status = StatusConfirmed
			s.notifyRelayed(ctx, att.MessageId, log)
			s.recordResult(att.DestinationDomain, string(status), start)
			return

		case chainerr.IsDestinationClass(err, chainerr.AlreadyRelayed):
			// Expected and success-equivalent (§4.7): another replica
			// already landed this message_id.
			status = StatusConfirmed
			s.notifyRelayed(ctx, att.MessageId, log)
			s.recordResult(att.DestinationDomain, string(status), start)
			return

		case chainerr.IsDestinationClass(err, chainerr.Permanent):
			status = StatusRejected
			log.Warn().Err(err).Str("message_id", att.MessageId.Hex()).Msg("submission permanently rejected")
			s.recordResult(att.DestinationDomain, string(status), start)
			return

		default:
			status = StatusFailed
			lastErr = err
			if attempt == s.cfg.MaxAttempts {
				break
			}
			delay := backoff(s.cfg.RetryBaseDelay, attempt)
			log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Str("message_id", att.MessageId.Hex()).Msg("submission failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-time.After(delay):
			}
		}
	}

	log.Error().Err(lastErr).Str("message_id", att.MessageId.Hex()).Msg("submission exhausted retries")
	s.recordResult(att.DestinationDomain, string(status), start)
}

func (s *Submitter) notifyRelayed(ctx context.Context, id message.MessageId, log zerolog.Logger) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.MarkRelayed(ctx, id); err != nil {
		log.Warn().Err(err).Str("message_id", id.Hex()).Msg("best-effort mark_relayed notification failed")
	}
}

func (s *Submitter) recordResult(dest domain.Domain, result string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SubmissionsTotal.WithLabelValues(dest.String(), result).Inc()
	s.metrics.SubmissionLatency.WithLabelValues(dest.String()).Observe(time.Since(start).Seconds())
}

func (s *Submitter) claim(id message.MessageId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Submitter) release(id message.MessageId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// backoff returns base * 2^(attempt-1), the bounded exponential policy
// from §4.7 ("default 3 attempts with 60s base").
func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
