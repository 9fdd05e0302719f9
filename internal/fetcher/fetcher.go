// Package fetcher implements the Attestation Fetcher (component F,
// §4.6): polls a configured list of Attester Service base URLs, dedupes
// newly-ready attestations against a bounded set, and emits them on a
// channel for the Destination Submitter. Grounded on the teacher's
// internal/blockchain multi-endpoint client shape for per-service
// independent health tracking, and on arcSignv2's use of
// golang.org/x/sync/errgroup for bounded concurrent fan-out.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/metrics"
)

// ReadyAttestation is the Fetcher's normalized view of one attester's
// JSON response: enough for the Destination Submitter to encode
// calldata/extrinsic without re-parsing the API's wire shape.
type ReadyAttestation struct {
	MessageId         message.MessageId
	MessageBytes      []byte
	SourceDomain      domain.Domain
	DestinationDomain domain.Domain
	Nonce             uint64
	Sender            [32]byte
	Recipient         [32]byte
	Signatures        []identity.PartialSignature
}

// Config configures the Fetcher's polling behavior.
type Config struct {
	ServiceURLs    []string
	PollInterval   time.Duration // default 30s
	HTTPTimeout    time.Duration // default 10s
	DedupeCapacity int           // default 10_000
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.DedupeCapacity == 0 {
		c.DedupeCapacity = 10_000
	}
	return c
}

// Fetcher polls every configured Attester Service and emits newly-ready
// attestations on a bounded channel.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	seen      map[message.MessageId]struct{}
	seenOrder []message.MessageId // FIFO eviction once len > DedupeCapacity

	healthMu sync.Mutex
	healthy  map[string]bool

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New builds a Fetcher.
func New(cfg Config, m *metrics.Metrics, log zerolog.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	return &Fetcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		log:      log.With().Str("component", "attestation-fetcher").Logger(),
		metrics:  m,
		seen:     make(map[message.MessageId]struct{}),
		healthy:  make(map[string]bool),
		stopChan: make(chan struct{}),
	}
}

// Start launches the poll loop. New attestations are sent on out;
// Start does not close out on return — the caller owns that once Stop
// returns, since emission can race a final in-flight poll otherwise.
func (f *Fetcher) Start(ctx context.Context, out chan<- ReadyAttestation) {
	f.wg.Add(1)
	go f.pollLoop(ctx, out)
}

// Stop signals the poll loop to exit and waits for it.
func (f *Fetcher) Stop() {
	close(f.stopChan)
	f.wg.Wait()
}

func (f *Fetcher) pollLoop(ctx context.Context, out chan<- ReadyAttestation) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	f.pollOnce(ctx, out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopChan:
			return
		case <-ticker.C:
			f.pollOnce(ctx, out)
		}
	}
}

// pollOnce polls every configured service concurrently; a failing
// service never blocks or fails the others (§4.6: "tolerate per-service
// failure ... continue polling the others").
func (f *Fetcher) pollOnce(ctx context.Context, out chan<- ReadyAttestation) {
	g, gctx := errgroup.WithContext(ctx)
	for _, base := range f.cfg.ServiceURLs {
		base := base
		g.Go(func() error {
			start := time.Now()
			atts, err := f.fetchReady(gctx, base)
			if f.metrics != nil {
				f.metrics.FetcherPollDuration.WithLabelValues(base).Observe(time.Since(start).Seconds())
			}
			f.setHealthy(base, err == nil)
			if err != nil {
				f.log.Warn().Err(err).Str("service", base).Msg("poll failed, continuing with remaining services")
				return nil
			}
			for _, att := range atts {
				if f.admit(att.MessageId) {
					select {
					case out <- att:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Fetcher) setHealthy(base string, ok bool) {
	f.healthMu.Lock()
	defer f.healthMu.Unlock()
	f.healthy[base] = ok
	if f.metrics != nil {
		v := 0.0
		if ok {
			v = 1.0
		}
		f.metrics.FetcherServiceHealthy.WithLabelValues(base).Set(v)
	}
}

// Health returns a snapshot of each configured service's last poll
// result.
func (f *Fetcher) Health() map[string]bool {
	f.healthMu.Lock()
	defer f.healthMu.Unlock()
	out := make(map[string]bool, len(f.healthy))
	for k, v := range f.healthy {
		out[k] = v
	}
	return out
}

// admit reports whether id is new, recording it in the bounded dedupe
// set if so. The set is a simple FIFO: once it exceeds DedupeCapacity
// the oldest entry is dropped, matching §4.6's "oldest entries dropped".
func (f *Fetcher) admit(id message.MessageId) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[id]; ok {
		return false
	}
	f.seen[id] = struct{}{}
	f.seenOrder = append(f.seenOrder, id)
	if len(f.seenOrder) > f.cfg.DedupeCapacity {
		oldest := f.seenOrder[0]
		f.seenOrder = f.seenOrder[1:]
		delete(f.seen, oldest)
	}
	return true
}

// ByHash tries each configured service in order until one returns 200
// for message_id, per §4.6's synchronous by_hash lookup.
func (f *Fetcher) ByHash(ctx context.Context, id message.MessageId) (ReadyAttestation, bool) {
	for _, base := range f.cfg.ServiceURLs {
		if att, ok := f.fetchOne(ctx, base+"/attestation/"+id.Hex()); ok {
			return att, true
		}
	}
	return ReadyAttestation{}, false
}

// ByNonce tries each configured service in order until one returns 200
// for (source_domain, nonce), per §4.6's synchronous by_nonce lookup.
func (f *Fetcher) ByNonce(ctx context.Context, source domain.Domain, nonce uint64) (ReadyAttestation, bool) {
	for _, base := range f.cfg.ServiceURLs {
		url := fmt.Sprintf("%s/attestation/%d/%d", base, uint32(source), nonce)
		if att, ok := f.fetchOne(ctx, url); ok {
			return att, true
		}
	}
	return ReadyAttestation{}, false
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) (ReadyAttestation, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ReadyAttestation{}, false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return ReadyAttestation{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ReadyAttestation{}, false
	}
	var w wireAttestation
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return ReadyAttestation{}, false
	}
	att, err := w.toReadyAttestation()
	if err != nil {
		return ReadyAttestation{}, false
	}
	return att, true
}

func (f *Fetcher) fetchReady(ctx context.Context, base string) ([]ReadyAttestation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/attestations/ready", nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", base, resp.StatusCode)
	}

	var body struct {
		Count        int              `json:"count"`
		Attestations []wireAttestation `json:"attestations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]ReadyAttestation, 0, len(body.Attestations))
	for _, w := range body.Attestations {
		att, err := w.toReadyAttestation()
		if err != nil {
			f.log.Warn().Err(err).Str("service", base).Msg("skipping malformed ready attestation")
			continue
		}
		out = append(out, att)
	}
	return out, nil
}
