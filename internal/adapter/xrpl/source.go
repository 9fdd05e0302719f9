// Package xrpl implements the XRPL Source: polling a rippled server's
// JSON-RPC surface for Payment transactions into the bridge account,
// decoding the bridge carrier out of the transaction's Memos field.
// No XRPL client exists in the retrieval pack, so this talks rippled's
// documented JSON-RPC directly with net/http, the same justified
// exception as Cardano/TRON.
package xrpl

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/adapter/ledger"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

type Config struct {
	RPCEndpoint  string
	BridgeAddr   string
	PollInterval time.Duration
}

type Source struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.RPCEndpoint == "" || cfg.BridgeAddr == "" {
		return nil, chainerr.New(chainerr.Configuration, "xrpl.NewSource", fmt.Errorf("RPC endpoint and bridge address are required"))
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Source{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "xrpl-source").Logger(),
	}, nil
}

func (s *Source) Domain() domain.Domain { return domain.XRPL }
func (s *Source) Close() error          { return nil }

type rpcCall struct {
	Method string           `json:"method"`
	Params []map[string]any `json:"params"`
}

func (s *Source) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcCall{Method: method, Params: []map[string]any{params}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RPCEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, chainerr.New(chainerr.Transport, "xrpl.Source.call", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, chainerr.New(chainerr.Transport, "xrpl.Source.call", err)
	}
	return envelope.Result, nil
}

type accountTxResult struct {
	Transactions []struct {
		Tx struct {
			Hash            string `json:"hash"`
			TransactionType string `json:"TransactionType"`
			Destination     string `json:"Destination"`
			Amount          string `json:"Amount"` // drops, as a decimal string when XRP
			Memos           []struct {
				Memo struct {
					MemoData string `json:"MemoData"` // hex
				} `json:"Memo"`
			} `json:"Memos"`
		} `json:"tx"`
		LedgerIndex uint64 `json:"ledger_index"`
		Validated   bool   `json:"validated"`
	} `json:"transactions"`
}

// Discover polls account_tx for the bridge account, oldest-first,
// picking up Payment transactions carrying a bridge memo.
func (s *Source) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	next := fromCursor
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := s.call(ctx, "account_tx", map[string]any{
				"account":     s.cfg.BridgeAddr,
				"ledger_index_min": int64(next) + 1,
				"ledger_index_max": -1,
				"forward":     true,
			})
			if err != nil {
				s.log.Error().Err(err).Msg("failed to fetch account_tx")
				continue
			}
			var parsed accountTxResult
			if err := json.Unmarshal(result, &parsed); err != nil {
				s.log.Error().Err(err).Msg("failed to decode account_tx response")
				continue
			}
			for _, entry := range parsed.Transactions {
				if !entry.Validated || entry.Tx.TransactionType != "Payment" || entry.Tx.Destination != s.cfg.BridgeAddr {
					continue
				}
				if err := s.emit(entry.Tx.Hash, entry.Tx.Amount, entry.Tx.Memos, entry.LedgerIndex, out, ctx); err != nil {
					s.log.Warn().Err(err).Str("tx_hash", entry.Tx.Hash).Msg("failed to decode bridge payment")
				}
				if entry.LedgerIndex > next {
					next = entry.LedgerIndex
				}
			}
		}
	}
}

func (s *Source) emit(txHash, amountDrops string, memos []struct {
	Memo struct {
		MemoData string `json:"MemoData"`
	} `json:"Memo"`
}, ledgerIndex uint64, out chan<- adapter.RawEvent, ctx context.Context) error {
	var carrierHex string
	for _, m := range memos {
		if len(m.Memo.MemoData) == 66 { // 33 bytes hex-encoded
			carrierHex = m.Memo.MemoData
			break
		}
	}
	if carrierHex == "" {
		return nil
	}
	carrier, err := hex.DecodeString(carrierHex)
	if err != nil {
		return err
	}
	destDomain, recipient, err := ledger.DecodeCarrier(carrier)
	if err != nil {
		return err
	}
	drops, _ := strconv.ParseUint(amountDrops, 10, 64)

	payload := ledger.BuildPayload(destDomain, recipient, message.AmountFromUint64(drops), ledgerIndex, [32]byte{}, [32]byte{})
	ev := adapter.RawEvent{
		SourceDomain: domain.XRPL,
		TxHash:       []byte(txHash),
		BlockNumber:  ledgerIndex,
		Payload:      payload,
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	}
	return nil
}

// Finalize: XRPL's consensus protocol makes a validated ledger final
// immediately (§4.1: "Instant"), so any event from a validated ledger
// reports a single confirmation.
func (s *Source) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	return domain.RequiredConfirmations(domain.XRPL), nil
}
