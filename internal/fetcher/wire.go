package fetcher

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/message"
)

// wireAttestation mirrors internal/attesterapi's JSON response shape
// for a single attestation (§6.1).
type wireAttestation struct {
	MessageHash  string `json:"messageHash"`
	MessageBytes string `json:"messageBytes"`
	Message      struct {
		SourceDomain      string `json:"source_domain"`
		DestinationDomain string `json:"destination_domain"`
		Nonce             uint64 `json:"nonce"`
		Sender            string `json:"sender"`
		Recipient         string `json:"recipient"`
	} `json:"message"`
	Signatures []struct {
		AttesterID uint8  `json:"attester_id"`
		Signature  string `json:"signature"`
		SignedAtMs uint64 `json:"signed_at_ms"`
	} `json:"signatures"`
	ThresholdMet bool   `json:"thresholdMet"`
	Status       string `json:"status"`
}

func (w wireAttestation) toReadyAttestation() (ReadyAttestation, error) {
	id, ok := message.ParseMessageId(w.MessageHash)
	if !ok {
		return ReadyAttestation{}, fmt.Errorf("malformed messageHash %q", w.MessageHash)
	}
	src, ok := domain.Parse(w.Message.SourceDomain)
	if !ok {
		return ReadyAttestation{}, fmt.Errorf("unrecognized source_domain %q", w.Message.SourceDomain)
	}
	dst, ok := domain.Parse(w.Message.DestinationDomain)
	if !ok {
		return ReadyAttestation{}, fmt.Errorf("unrecognized destination_domain %q", w.Message.DestinationDomain)
	}
	sender, err := decodeHex32(w.Message.Sender)
	if err != nil {
		return ReadyAttestation{}, fmt.Errorf("sender: %w", err)
	}
	recipient, err := decodeHex32(w.Message.Recipient)
	if err != nil {
		return ReadyAttestation{}, fmt.Errorf("recipient: %w", err)
	}
	msgBytes, err := hex.DecodeString(strings.TrimPrefix(w.MessageBytes, "0x"))
	if err != nil {
		return ReadyAttestation{}, fmt.Errorf("messageBytes: %w", err)
	}

	sigs := make([]identity.PartialSignature, 0, len(w.Signatures))
	for _, s := range w.Signatures {
		raw, err := hex.DecodeString(strings.TrimPrefix(s.Signature, "0x"))
		if err != nil {
			return ReadyAttestation{}, fmt.Errorf("signature for attester %d: %w", s.AttesterID, err)
		}
		sigs = append(sigs, identity.PartialSignature{
			AttesterID: s.AttesterID,
			Signature:  raw,
			SignedAtMs: s.SignedAtMs,
		})
	}

	return ReadyAttestation{
		MessageId:         id,
		MessageBytes:      msgBytes,
		SourceDomain:      src,
		DestinationDomain: dst,
		Nonce:             w.Message.Nonce,
		Sender:            sender,
		Recipient:         recipient,
		Signatures:        sigs,
	}, nil
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
