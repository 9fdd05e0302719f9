package attesterapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/store"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]interface{}{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	respondJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts := s.store.CountsByStatus()
	status := "healthy"
	adapters := s.snapshotAdapters()
	for _, a := range adapters {
		if !a.Healthy {
			status = "degraded"
			break
		}
	}
	if len(adapters) == 0 {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
		"adapters":  adapters,
		"attestations": map[string]int{
			"pending": counts[store.StatusPending],
			"ready":   counts[store.StatusReady],
			"relayed": counts[store.StatusRelayed],
			"expired": counts[store.StatusExpired],
		},
	})
}

func attestationDTO(att store.Attestation, threshold int) map[string]interface{} {
	sigs := make([]map[string]interface{}, 0, len(att.Signatures))
	for attesterID, sig := range att.Signatures {
		sigs = append(sigs, map[string]interface{}{
			"attester_id":  attesterID,
			"signature":    "0x" + hex.EncodeToString(sig.Signature),
			"signed_at_ms": sig.SignedAtMs,
		})
	}
	return map[string]interface{}{
		"messageHash":  att.MessageId.Hex(),
		"messageBytes": "0x" + hex.EncodeToString(att.MessageBytes),
		"message": map[string]interface{}{
			"source_domain":      att.Observed.SourceDomain.String(),
			"destination_domain": att.Observed.DestinationDomain.String(),
			"nonce":              att.Observed.Nonce,
			"sender":             "0x" + hex.EncodeToString(att.Observed.Sender[:]),
			"recipient":          "0x" + hex.EncodeToString(att.Observed.Recipient[:]),
			"amount":             att.Observed.Amount.Big().String(),
		},
		"signatures":      sigs,
		"signatureCount":  len(att.Signatures),
		"thresholdMet":    len(att.Signatures) >= threshold,
		"status":          string(att.Status),
	}
}

func (s *Server) handleAttestationByHash(w http.ResponseWriter, r *http.Request) {
	hexID := mux.Vars(r)["a"]
	id, ok := message.ParseMessageId(hexID)
	if !ok {
		respondError(w, http.StatusBadRequest, "malformed message_id", nil)
		return
	}

	att, ok := s.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "no attestation for message_id", nil)
		return
	}
	if !isReadyForRelay(att.Status) {
		respondError(w, http.StatusServiceUnavailable, "attestation not yet ready", nil)
		return
	}
	k, _ := domain.DefaultThreshold(att.Observed.DestinationDomain)
	respondJSON(w, http.StatusOK, attestationDTO(att, k))
}

func (s *Server) handleAttestationByNonce(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	srcRaw, err := strconv.ParseUint(vars["source_domain"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed source_domain", err)
		return
	}
	nonce, err := strconv.ParseUint(vars["nonce"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed nonce", err)
		return
	}
	src := domain.Domain(srcRaw)
	if !domain.Valid(src) {
		respondError(w, http.StatusBadRequest, "unrecognized source_domain", nil)
		return
	}

	att, ok := s.store.GetByNonce(src, nonce)
	if !ok {
		respondError(w, http.StatusNotFound, "no attestation for (source_domain, nonce)", nil)
		return
	}
	if !isReadyForRelay(att.Status) {
		respondError(w, http.StatusServiceUnavailable, "attestation not yet ready", nil)
		return
	}
	k, _ := domain.DefaultThreshold(att.Observed.DestinationDomain)
	respondJSON(w, http.StatusOK, attestationDTO(att, k))
}

// isReadyForRelay reports whether a looked-up attestation's status
// warrants the full DTO response rather than a 503: only ready or
// already-relayed attestations have crossed threshold (§6.1).
func isReadyForRelay(status store.Status) bool {
	return status == store.StatusReady || status == store.StatusRelayed
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.store.ListReady()
	out := make([]map[string]interface{}, 0, len(ready))
	for _, att := range ready {
		k, _ := domain.DefaultThreshold(att.Observed.DestinationDomain)
		out = append(out, attestationDTO(att, k))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(out),
		"attestations": out,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ready := s.store.ListReady()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"attester_id":   s.identity.ID,
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"ready_count":   len(ready),
		"adapter_count": len(s.snapshotAdapters()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"attester_id": s.identity.ID,
		"adapters":    s.snapshotAdapters(),
	})
}
