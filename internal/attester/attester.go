// Package attester implements the Attester Service (component E): one
// AttesterIdentity bound to a Signer, an Attestation Store, and one or
// more Chain Adapters. Grounded on the teacher's Relayer worker-pool
// shape (Start spawns one goroutine per concern, Stop closes a signal
// channel and waits on a sync.WaitGroup) but generalized from a fixed
// worker count to one goroutine pair (Discover + confirm-and-sign) per
// configured chain, plus one periodic sweep goroutine.
package attester

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/signing"
	"github.com/etrid-network/attest-core/internal/store"
)

// ChainWatch pairs the adapter for one source chain with the channel
// buffer its Source discovers raw events onto.
type ChainWatch struct {
	Adapter    adapter.Adapter
	FromCursor uint64
	QueueDepth int // bounded channel capacity between Source and the confirm/sign loop
}

// Service runs the full attester loop for a fleet member: discover on
// every configured chain, wait out each chain's confirmation depth,
// canonicalize, sign, and register the resulting partial signature in
// the local Store.
type Service struct {
	signer      signing.Signer
	store       *store.Store
	sweepPeriod time.Duration
	peers       []string
	httpClient  *http.Client
	log         zerolog.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New builds a Service. sweepPeriod is how often the store's expired
// pending attestations are swept (§6.4 default: 60s). peers is the
// attesterapi base URL of every other fleet member; each locally
// produced PartialSignature is fanned out to all of them (§4.5) so a
// fleet of independent processes can converge on the same k-of-n
// threshold without sharing a Store.
func New(signer signing.Signer, st *store.Store, sweepPeriod time.Duration, peers []string, log zerolog.Logger) *Service {
	if sweepPeriod == 0 {
		sweepPeriod = 60 * time.Second
	}
	return &Service{
		signer:      signer,
		store:       st,
		sweepPeriod: sweepPeriod,
		peers:       peers,
		httpClient:  &http.Client{Timeout: gossipTimeout},
		log:         log.With().Str("component", "attester-service").Uint8("attester_id", signer.Identity().ID).Logger(),
		stopChan:    make(chan struct{}),
	}
}

// Start launches one discover+sign pipeline per watch and the periodic
// sweep loop. Start returns immediately; Stop blocks until every
// goroutine has exited.
func (s *Service) Start(ctx context.Context, watches []ChainWatch) {
	for _, w := range watches {
		depth := w.QueueDepth
		if depth == 0 {
			depth = 256
		}
		raw := make(chan adapter.RawEvent, depth)

		s.wg.Add(2)
		go s.discoverLoop(ctx, w, raw)
		go s.confirmAndSignLoop(ctx, w, raw)
	}

	s.wg.Add(1)
	go s.sweepLoop(ctx)
}

// Stop signals every goroutine to exit and waits for them.
func (s *Service) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Service) discoverLoop(ctx context.Context, w ChainWatch, out chan<- adapter.RawEvent) {
	defer s.wg.Done()
	log := s.log.With().Str("source_domain", w.Adapter.Source.Domain().String()).Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := w.Adapter.Source.Discover(ctx, w.FromCursor, out); err != nil {
		log.Error().Err(err).Msg("chain source discovery loop exited with an error")
	}
	close(out)
}

// confirmAndSignLoop waits for each raw event to clear its source
// domain's required confirmation depth, normalizes it, registers it
// with the store, and signs it for its destination domain.
func (s *Service) confirmAndSignLoop(ctx context.Context, w ChainWatch, in <-chan adapter.RawEvent) {
	defer s.wg.Done()
	log := s.log.With().Str("source_domain", w.Adapter.Source.Domain().String()).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := s.processEvent(ctx, w.Adapter, ev, log); err != nil {
				log.Error().Err(err).Str("tx_hash", hexTrunc(ev.TxHash)).Msg("failed to process observed event")
			}
		}
	}
}

func (s *Service) processEvent(ctx context.Context, a adapter.Adapter, ev adapter.RawEvent, log zerolog.Logger) error {
	required := domain.RequiredConfirmations(ev.SourceDomain)
	if err := s.waitForFinality(ctx, a, ev, required); err != nil {
		return err
	}

	observed, err := a.Parser.Parse(ev)
	if err != nil {
		return err
	}
	observed.ConfirmationsSeen = required

	id, err := s.store.Ensure(observed)
	if err != nil {
		return err
	}

	sig, err := s.signer.Sign(id, observed.DestinationDomain)
	if err != nil {
		return chainerr.New(chainerr.Signing, "attester.processEvent", err)
	}

	k, _ := domain.DefaultThreshold(observed.DestinationDomain)
	res, err := s.store.AddSignature(id, sig, k)
	if err != nil {
		return err
	}

	s.broadcastSignature(observed, sig)

	log.Info().
		Str("message_id", id.Hex()).
		Str("result", string(res)).
		Uint64("nonce", observed.Nonce).
		Msg("signed observed message")
	return nil
}

// waitForFinality polls the adapter's Finalize every 5s until the event
// has cleared required confirmations, so a source chain's RPC isn't
// hammered for a message sitting twelve blocks deep.
func (s *Service) waitForFinality(ctx context.Context, a adapter.Adapter, ev adapter.RawEvent, required uint32) error {
	const pollInterval = 5 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		confirmations, err := a.Source.Finalize(ctx, ev)
		if err != nil {
			return err
		}
		if confirmations >= required {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopChan:
			return errStopped
		case <-ticker.C:
		}
	}
}

var errStopped = context.Canceled

func (s *Service) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.store.Sweep()
		}
	}
}

func hexTrunc(b []byte) string {
	const hextable = "0123456789abcdef"
	n := len(b)
	if n > 8 {
		n = 8
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = hextable[b[i]>>4]
		out[i*2+1] = hextable[b[i]&0x0f]
	}
	return string(out)
}
