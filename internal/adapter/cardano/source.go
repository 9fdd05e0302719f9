// Package cardano implements the Cardano Source by polling Blockfrost,
// the hosted REST API the spec names for this chain (§4.1: "Cardano
// via Blockfrost"). No Blockfrost or Cardano client exists anywhere in
// the retrieval pack, so this talks the documented REST surface
// directly with net/http, the same justified exception as TRON/XRPL.
// Decoding reuses internal/adapter/ledger's shared Parser once the
// tx-metadata label-674 payload and deposit amount have been pulled
// out of Blockfrost's JSON responses.
package cardano

import (
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

const metadataLabel = "674"

type Config struct {
	BaseURL      string // e.g. https://cardano-mainnet.blockfrost.io/api/v0
	ProjectID    string // Blockfrost API key, sent as project_id header
	BridgeAddr   string // the bridge's receiving address
	PollInterval time.Duration
}

type Source struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.BaseURL == "" || cfg.BridgeAddr == "" {
		return nil, chainerr.New(chainerr.Configuration, "cardano.NewSource", fmt.Errorf("base URL and bridge address are required"))
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Source{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        log.With().Str("component", "cardano-source").Logger(),
	}, nil
}

func (s *Source) Domain() domain.Domain { return domain.Cardano }
func (s *Source) Close() error          { return nil }

func (s *Source) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("project_id", s.cfg.ProjectID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return chainerr.New(chainerr.Transport, "cardano.Source.get", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return chainerr.New(chainerr.Transport, "cardano.Source.get", fmt.Errorf("blockfrost returned status %d for %s", resp.StatusCode, path))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type addressTx struct {
	TxHash      string `json:"tx_hash"`
	BlockHeight uint64 `json:"block_height"`
}

type txMetadataEntry struct {
	Label    string          `json:"label"`
	JSONData json.RawMessage `json:"json_metadata"`
}

type txUTXOOutput struct {
	Address string `json:"address"`
	Amount  []struct {
		Unit     string `json:"unit"`
		Quantity string `json:"quantity"`
	} `json:"amount"`
}

type txUTXOs struct {
	Outputs []txUTXOOutput `json:"outputs"`
}

// Discover polls the bridge address's transaction list, picking up new
// entries past fromCursor (a Cardano block height).
func (s *Source) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	next := fromCursor
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var txs []addressTx
			path := fmt.Sprintf("/addresses/%s/transactions?order=asc&from=%d", s.cfg.BridgeAddr, next)
			if err := s.get(ctx, path, &txs); err != nil {
				s.log.Error().Err(err).Msg("failed to list bridge address transactions")
				continue
			}
			for _, tx := range txs {
				if tx.BlockHeight <= next {
					continue
				}
				if err := s.emitTx(ctx, tx, out); err != nil {
					s.log.Warn().Err(err).Str("tx_hash", tx.TxHash).Msg("failed to decode bridge transaction")
				}
				next = tx.BlockHeight
			}
		}
	}
}

func (s *Source) emitTx(ctx context.Context, tx addressTx, out chan<- adapter.RawEvent) error {
	var metas []txMetadataEntry
	if err := s.get(ctx, "/txs/"+tx.TxHash+"/metadata", &metas); err != nil {
		return err
	}
	var carrierHex string
	for _, m := range metas {
		if m.Label == metadataLabel {
			var fields map[string]string
			if err := json.Unmarshal(m.JSONData, &fields); err == nil {
				carrierHex = fields["msg"]
			}
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

	var utxos txUTXOs
	if err := s.get(ctx, "/txs/"+tx.TxHash+"/utxos", &utxos); err != nil {
		return err
	}
	var lovelace uint64
	for _, o := range utxos.Outputs {
		if o.Address != s.cfg.BridgeAddr {
			continue
		}
		for _, a := range o.Amount {
			if a.Unit == "lovelace" {
				q, _ := strconv.ParseUint(a.Quantity, 10, 64)
				lovelace += q
			}
		}
	}

	payload := ledger.BuildPayload(destDomain, recipient, message.AmountFromUint64(lovelace), tx.BlockHeight, [32]byte{}, [32]byte{})
	ev := adapter.RawEvent{
		SourceDomain: domain.Cardano,
		TxHash:       []byte(tx.TxHash),
		BlockNumber:  tx.BlockHeight,
		Payload:      payload,
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	}
	return nil
}

// Finalize reports confirmations as current tip minus event block, plus
// one (the event's own block counts), per §4.1's Cardano depth rule.
func (s *Source) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	var tip struct {
		Height uint64 `json:"height"`
	}
	if err := s.get(ctx, "/blocks/latest", &tip); err != nil {
		return 0, err
	}
	if tip.Height < ev.BlockNumber {
		return 0, nil
	}
	depth := tip.Height - ev.BlockNumber + 1
	if depth > uint64(^uint32(0)) {
		return ^uint32(0), nil
	}
	return uint32(depth), nil
}
