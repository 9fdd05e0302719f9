// Package notify delivers relay-completion events to one or more
// operator-configured webhook endpoints. It implements
// internal/submitter's Notifier interface, so a Submitter backed by
// this package announces every relayed message to the outside world
// instead of (or in addition to) marking a same-process store.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/message"
)

// Event is the payload delivered to every configured endpoint when a
// message is relayed to its destination.
type Event struct {
	MessageID string    `json:"message_id"`
	RelayedAt time.Time `json:"relayed_at"`
}

// Config configures retry behavior and delivery endpoints.
type Config struct {
	Endpoints   []string
	Secret      string
	MaxAttempts int
	RetryDelays []time.Duration
	Timeout     time.Duration
	Workers     int
	QueueDepth  int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = []time.Duration{
			1 * time.Minute,
			5 * time.Minute,
			15 * time.Minute,
			1 * time.Hour,
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 1024
	}
	return c
}

type delivery struct {
	event    Event
	endpoint string
	attempt  int
	dueAt    time.Time
}

// Notifier fans each relayed message out to every configured endpoint,
// retrying non-2xx or transport failures on a fixed backoff schedule
// until MaxAttempts is exhausted.
type Notifier struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger

	queue chan delivery

	mu      sync.Mutex
	pending []delivery

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New builds a Notifier. It does not start background delivery until
// Start is called.
func New(cfg Config, log zerolog.Logger) *Notifier {
	cfg = cfg.withDefaults()
	return &Notifier{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.With().Str("component", "notify").Logger(),
		queue:    make(chan delivery, cfg.QueueDepth),
		stopChan: make(chan struct{}),
	}
}

// Start launches the delivery workers and the retry scheduler.
func (n *Notifier) Start(ctx context.Context) {
	for i := 0; i < n.cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker(ctx, i)
	}
	n.wg.Add(1)
	go n.retryLoop(ctx)
}

// Stop drains in-flight deliveries and returns once all workers exit.
func (n *Notifier) Stop() {
	close(n.stopChan)
	n.wg.Wait()
}

// MarkRelayed satisfies internal/submitter.Notifier: it fans the
// relay-completion event out to every configured endpoint. Queuing is
// best-effort — a full queue drops the notification rather than
// blocking the submitter's hot path, since the canonical relayed state
// already lives in the attestation store regardless of webhook
// delivery.
func (n *Notifier) MarkRelayed(ctx context.Context, id message.MessageId) error {
	event := Event{MessageID: "0x" + hex.EncodeToString(id[:]), RelayedAt: time.Now()}
	for _, endpoint := range n.cfg.Endpoints {
		d := delivery{event: event, endpoint: endpoint, attempt: 1}
		select {
		case n.queue <- d:
		default:
			n.log.Warn().Str("endpoint", endpoint).Str("message_id", event.MessageID).
				Msg("notify queue full, dropping delivery")
		}
	}
	return nil
}

func (n *Notifier) worker(ctx context.Context, id int) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopChan:
			return
		case d, ok := <-n.queue:
			if !ok {
				return
			}
			n.deliver(ctx, d)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, d delivery) {
	log := n.log.With().Str("endpoint", d.endpoint).Str("message_id", d.event.MessageID).
		Int("attempt", d.attempt).Logger()

	payload, err := json.Marshal(d.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal notify payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("failed to build notify request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "attest-core-notify/1.0")
	req.Header.Set("X-Event-Type", "message.relayed")
	req.Header.Set("X-Event-Signature", n.sign(payload))

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("notify delivery failed")
		n.scheduleRetry(d)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status_code", resp.StatusCode).Msg("notify delivery rejected")
		n.scheduleRetry(d)
		return
	}

	log.Debug().Msg("notify delivered")
}

func (n *Notifier) scheduleRetry(d delivery) {
	if d.attempt >= n.cfg.MaxAttempts {
		n.log.Error().Str("endpoint", d.endpoint).Str("message_id", d.event.MessageID).
			Msg("notify delivery exhausted retries")
		return
	}
	delayIdx := d.attempt - 1
	if delayIdx >= len(n.cfg.RetryDelays) {
		delayIdx = len(n.cfg.RetryDelays) - 1
	}
	d.attempt++
	d.dueAt = time.Now().Add(n.cfg.RetryDelays[delayIdx])

	n.mu.Lock()
	n.pending = append(n.pending, d)
	n.mu.Unlock()
}

func (n *Notifier) retryLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopChan:
			return
		case <-ticker.C:
			n.flushDue(ctx)
		}
	}
}

func (n *Notifier) flushDue(ctx context.Context) {
	now := time.Now()

	n.mu.Lock()
	due := n.pending[:0:0]
	remaining := n.pending[:0]
	for _, d := range n.pending {
		if now.After(d.dueAt) || now.Equal(d.dueAt) {
			due = append(due, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	n.pending = remaining
	n.mu.Unlock()

	for _, d := range due {
		select {
		case n.queue <- d:
		default:
			n.log.Warn().Str("endpoint", d.endpoint).Msg("notify queue full during retry flush")
		}
	}
}

func (n *Notifier) sign(payload []byte) string {
	if n.cfg.Secret == "" {
		return ""
	}
	h := hmac.New(sha256.New, []byte(n.cfg.Secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
