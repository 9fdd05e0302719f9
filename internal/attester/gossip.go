package attester

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
)

const gossipTimeout = 5 * time.Second

// gossipPayload is the wire shape POSTed to a peer's /signature
// endpoint (§4.5), mirroring attesterapi's signatureIngestRequest
// field-for-field rather than importing it: the two packages each own
// their side of the wire contract, the same pattern the fetcher
// package uses for the attestation DTO it consumes.
type gossipPayload struct {
	SourceDomain      string `json:"source_domain"`
	DestinationDomain string `json:"destination_domain"`
	Nonce             uint64 `json:"nonce"`
	Sender            string `json:"sender"`
	Recipient         string `json:"recipient"`
	TokenNative       bool   `json:"token_native"`
	TokenAddr         string `json:"token_addr"`
	Amount            string `json:"amount"`
	AttesterID        uint8  `json:"attester_id"`
	Signature         string `json:"signature"`
	SignedAtMs        uint64 `json:"signed_at_ms"`
}

func newGossipPayload(observed message.ObservedMessage, sig identity.PartialSignature) gossipPayload {
	p := gossipPayload{
		SourceDomain:      observed.SourceDomain.String(),
		DestinationDomain: observed.DestinationDomain.String(),
		Nonce:             observed.Nonce,
		Sender:            "0x" + hex.EncodeToString(observed.Sender[:]),
		Recipient:         "0x" + hex.EncodeToString(observed.Recipient[:]),
		TokenNative:       observed.Token.Native,
		Amount:            observed.Amount.Big().String(),
		AttesterID:        sig.AttesterID,
		Signature:         "0x" + hex.EncodeToString(sig.Signature),
		SignedAtMs:        sig.SignedAtMs,
	}
	if !observed.Token.Native {
		p.TokenAddr = "0x" + hex.EncodeToString(observed.Token.Addr[:])
	}
	return p
}

// broadcastSignature fans this attester's own PartialSignature out to
// every configured peer, best-effort: a peer that's unreachable or
// rejects the signature is logged and skipped, never retried here —
// the same message reaching the peer's own adapter, or this attester
// signing a later message, is the next chance at convergence.
func (s *Service) broadcastSignature(observed message.ObservedMessage, sig identity.PartialSignature) {
	if len(s.peers) == 0 {
		return
	}
	body, err := json.Marshal(newGossipPayload(observed, sig))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode signature for gossip")
		return
	}

	for _, base := range s.peers {
		base := base
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sendGossip(base, body)
		}()
	}
}

func (s *Service) sendGossip(base string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), gossipTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/signature", bytes.NewReader(body))
	if err != nil {
		s.log.Error().Err(err).Str("peer", base).Msg("failed to build gossip request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("peer", base).Msg("failed to gossip signature to peer")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		s.log.Warn().Str("peer", base).Int("status", resp.StatusCode).Msg("peer rejected gossiped signature")
	}
}
