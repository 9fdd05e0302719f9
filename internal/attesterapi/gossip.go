package attesterapi

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/signing"
)

// signatureIngestRequest is the wire shape a peer attester's gossip
// client POSTs to /signature (§4.5): the full message, so this process
// can Ensure() it even if its own adapter hasn't observed it yet, plus
// the one PartialSignature being offered. Mirrors the fetcher
// package's local wire-struct pattern rather than reusing the
// read-side DTO, since the two shapes diverge (this one carries the
// message fields needed to reconstruct an ObservedMessage, not a
// rendered Attestation).
type signatureIngestRequest struct {
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

func (req signatureIngestRequest) toObservedMessage() (message.ObservedMessage, error) {
	src, ok := domain.Parse(req.SourceDomain)
	if !ok {
		return message.ObservedMessage{}, fmt.Errorf("unrecognized source_domain %q", req.SourceDomain)
	}
	dst, ok := domain.Parse(req.DestinationDomain)
	if !ok {
		return message.ObservedMessage{}, fmt.Errorf("unrecognized destination_domain %q", req.DestinationDomain)
	}
	sender, err := decodeHexFixed(req.Sender, 32)
	if err != nil {
		return message.ObservedMessage{}, fmt.Errorf("sender: %w", err)
	}
	recipient, err := decodeHexFixed(req.Recipient, 32)
	if err != nil {
		return message.ObservedMessage{}, fmt.Errorf("recipient: %w", err)
	}

	amt, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return message.ObservedMessage{}, fmt.Errorf("malformed amount %q", req.Amount)
	}
	amount, err := message.NewAmount128(amt)
	if err != nil {
		return message.ObservedMessage{}, err
	}

	token := message.NativeToken()
	if !req.TokenNative {
		raw, err := decodeHexFixed(req.TokenAddr, 32)
		if err != nil {
			return message.ObservedMessage{}, fmt.Errorf("token_addr: %w", err)
		}
		token, err = message.TokenFromAddress(raw[:])
		if err != nil {
			return message.ObservedMessage{}, err
		}
	}

	var senderArr, recipientArr [32]byte
	copy(senderArr[:], sender)
	copy(recipientArr[:], recipient)

	return message.ObservedMessage{
		SourceDomain:      src,
		DestinationDomain: dst,
		Nonce:             req.Nonce,
		Sender:            senderArr,
		Recipient:         recipientArr,
		Amount:            amount,
		Token:             token,
	}, nil
}

func decodeHexFixed(s string, n int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("want %d bytes, got %d", n, len(b))
	}
	return b, nil
}

// handleIngestSignature admits a peer attester's PartialSignature into
// the local Store (§4.5): this is the other half of the exchange whose
// absence leaves every attester's store holding only its own
// signature. The message itself is Ensure()d from the POSTed fields
// first, so a peer's signature can arrive before this process's own
// adapter has observed the event.
func (s *Server) handleIngestSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body", err)
		return
	}

	observed, err := req.toObservedMessage()
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed message fields", err)
		return
	}

	peer, ok := s.roster[req.AttesterID]
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown attester_id", nil)
		return
	}

	sigBytes, err := decodeHexVar(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed signature", err)
		return
	}

	id, err := s.store.Ensure(observed)
	if err != nil {
		respondError(w, http.StatusConflict, "conflicting message bytes for message_id", err)
		return
	}

	if err := signing.Verify(id, observed.DestinationDomain, peer, sigBytes); err != nil {
		respondError(w, http.StatusUnauthorized, "signature verification failed", err)
		return
	}

	k, _ := domain.DefaultThreshold(observed.DestinationDomain)
	sig := identity.PartialSignature{
		AttesterID: req.AttesterID,
		Signature:  sigBytes,
		SignedAtMs: req.SignedAtMs,
	}
	res, err := s.store.AddSignature(id, sig, k)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record gossiped signature", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"message_id": id.Hex(),
		"result":     string(res),
	})
}

func decodeHexVar(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}
