// Package store implements the Attestation Store, the single place a
// process accumulates partial signatures for a message until enough of
// them exist to relay. The concurrency shape is grounded on the
// teacher's batching.Aggregator: one mutex-guarded map keyed by a
// stable identity, a background sweep loop, and the same "current
// owner holds the lock for the whole mutation" discipline — adapted
// here from batches of messages to attestations accumulating
// signatures.
package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
)

// Status is an Attestation's lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusRelayed Status = "relayed"
	StatusExpired Status = "expired"
)

// Attestation is everything known about one ObservedMessage: its
// canonical bytes (kept so a later ensure() can detect a conflicting
// re-observation), the id they hash to, and the partial signatures
// collected so far.
type Attestation struct {
	MessageId    message.MessageId
	MessageBytes []byte
	Observed     message.ObservedMessage
	Signatures   map[uint8]identity.PartialSignature
	Status       Status
	FirstSeen    time.Time
	ReadyAt      time.Time
	RelayedAt    time.Time
}

// AddResult reports what ensure/add_signature actually did, so callers
// (the Attester Service) can log and count distinctly from errors.
type AddResult string

const (
	AddAccepted          AddResult = "accepted"
	AddDuplicateAttester AddResult = "duplicate_attester"
	AddAlreadyReady      AddResult = "already_ready"
)

// Store is the single-writer-per-process attestation table. A process
// runs exactly one Store; attester fleets coordinate by gossiping
// PartialSignatures between each one's Store, never by sharing state
// directly.
type Store struct {
	mu      sync.Mutex
	byID    map[message.MessageId]*Attestation
	byNonce map[nonceKey]message.MessageId

	expiry time.Duration
	log    zerolog.Logger
}

type nonceKey struct {
	source domain.Domain
	nonce  uint64
}

// New builds an empty Store. expiry is how long a pending attestation
// may sit without reaching threshold before Sweep evicts it.
func New(expiry time.Duration, log zerolog.Logger) *Store {
	return &Store{
		byID:    make(map[message.MessageId]*Attestation),
		byNonce: make(map[nonceKey]message.MessageId),
		expiry:  expiry,
		log:     log.With().Str("component", "attestation-store").Logger(),
	}
}

// Ensure registers an ObservedMessage's canonical bytes under its
// MessageId, creating the entry on first sight and checking that a
// later sighting of the same id encodes identical bytes. A mismatch
// means two adapters disagree about what a message actually was and is
// always a programming or chain-protocol bug, never something to
// silently resolve.
func (s *Store) Ensure(m message.ObservedMessage) (message.MessageId, error) {
	bytes, id, err := message.Canonicalize(m)
	if err != nil {
		return message.MessageId{}, chainerr.New(chainerr.Canonicalization, "Store.Ensure", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[id]; ok {
		if !bytesEqual(existing.MessageBytes, bytes) {
			return id, chainerr.New(chainerr.Canonicalization, "Store.Ensure",
				messageBytesMismatch{id: id})
		}
		return id, nil
	}

	s.byID[id] = &Attestation{
		MessageId:    id,
		MessageBytes: bytes,
		Observed:     m,
		Signatures:   make(map[uint8]identity.PartialSignature),
		Status:       StatusPending,
		FirstSeen:    time.Now(),
	}
	s.byNonce[nonceKey{m.SourceDomain, m.Nonce}] = id
	return id, nil
}

type messageBytesMismatch struct {
	id message.MessageId
}

func (e messageBytesMismatch) Error() string {
	return "conflicting canonical bytes for message id " + e.id.Hex()
}

// AddSignature admits one attester's PartialSignature into an existing
// attestation, transitioning it to ready the instant it reaches k
// signatures. Returns chainerr.New(..., Duplicate, ...)'s sibling
// AddDuplicateAttester rather than an error: a repeat signature from an
// attester we already heard from is expected gossip traffic, not a
// fault.
func (s *Store) AddSignature(id message.MessageId, sig identity.PartialSignature, k int) (AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.byID[id]
	if !ok {
		return "", chainerr.New(chainerr.Configuration, "Store.AddSignature",
			notFoundError{id: id})
	}
	if att.Status == StatusReady || att.Status == StatusRelayed {
		if _, seen := att.Signatures[sig.AttesterID]; seen {
			return AddAlreadyReady, nil
		}
		att.Signatures[sig.AttesterID] = sig
		return AddAlreadyReady, nil
	}
	if _, seen := att.Signatures[sig.AttesterID]; seen {
		return AddDuplicateAttester, nil
	}

	att.Signatures[sig.AttesterID] = sig
	if len(att.Signatures) >= k {
		att.Status = StatusReady
		att.ReadyAt = time.Now()
		s.log.Info().
			Str("message_id", id.Hex()).
			Int("signatures", len(att.Signatures)).
			Msg("attestation reached threshold")
	}
	return AddAccepted, nil
}

type notFoundError struct{ id message.MessageId }

func (e notFoundError) Error() string { return "no attestation for message id " + e.id.Hex() }

// Get returns a copy of the attestation for id. Status reflects
// effectiveStatus, not the raw stored value: a pending attestation
// past its expiry reports expired immediately, without waiting for
// the next Sweep.
func (s *Store) Get(id message.MessageId) (Attestation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.byID[id]
	if !ok {
		return Attestation{}, false
	}
	out := cloneAttestation(att)
	out.Status = s.effectiveStatus(att)
	return out, true
}

// GetByNonce looks up an attestation by its (source_domain, nonce) pair.
func (s *Store) GetByNonce(source domain.Domain, nonce uint64) (Attestation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNonce[nonceKey{source, nonce}]
	if !ok {
		return Attestation{}, false
	}
	att := s.byID[id]
	out := cloneAttestation(att)
	out.Status = s.effectiveStatus(att)
	return out, true
}

// effectiveStatus derives the status a caller should see for att: the
// raw stored status, except a still-pending attestation whose expiry
// window has already elapsed reports expired (status = expired iff
// now >= first_seen + expiry), independent of whether Sweep has run
// yet. Must be called with s.mu held.
func (s *Store) effectiveStatus(att *Attestation) Status {
	if att.Status == StatusPending && !time.Now().Before(att.FirstSeen.Add(s.expiry)) {
		return StatusExpired
	}
	return att.Status
}

// CountsByStatus returns the number of attestations currently in each
// lifecycle state, using the same expired-before-Sweep derivation as
// Get (§4.5/§6.1: the health endpoint reports all four counts).
func (s *Store) CountsByStatus() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[Status]int{
		StatusPending: 0,
		StatusReady:   0,
		StatusRelayed: 0,
		StatusExpired: 0,
	}
	for _, att := range s.byID {
		counts[s.effectiveStatus(att)]++
	}
	return counts
}

// ListReady returns every attestation currently at or past threshold
// and not yet relayed.
func (s *Store) ListReady() []Attestation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attestation, 0)
	for _, att := range s.byID {
		if att.Status == StatusReady {
			out = append(out, cloneAttestation(att))
		}
	}
	return out
}

// MarkRelayed transitions an attestation to relayed. Idempotent: a
// second call for an already-relayed id is a no-op, since the
// Destination Submitter may retry its notification after a crash.
func (s *Store) MarkRelayed(id message.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.byID[id]
	if !ok {
		return chainerr.New(chainerr.Configuration, "Store.MarkRelayed", notFoundError{id: id})
	}
	if att.Status == StatusRelayed {
		return nil
	}
	att.Status = StatusRelayed
	att.RelayedAt = time.Now()
	return nil
}

// Sweep evicts pending attestations older than the configured expiry
// and returns how many were removed. Ready and relayed attestations
// are never swept by age alone; callers retire relayed entries
// explicitly once the destination submitter confirms them.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.expiry)
	removed := 0
	for id, att := range s.byID {
		if att.Status != StatusPending || !att.FirstSeen.Before(cutoff) {
			continue
		}
		delete(s.byNonce, nonceKey{att.Observed.SourceDomain, att.Observed.Nonce})
		delete(s.byID, id)
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("count", removed).Msg("swept expired pending attestations")
	}
	return removed
}

func cloneAttestation(att *Attestation) Attestation {
	out := *att
	out.MessageBytes = append([]byte(nil), att.MessageBytes...)
	out.Signatures = make(map[uint8]identity.PartialSignature, len(att.Signatures))
	for k, v := range att.Signatures {
		out.Signatures[k] = v
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
