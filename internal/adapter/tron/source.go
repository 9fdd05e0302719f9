// Package tron implements the TRON Source, polling TronGrid's REST API
// (§4.1: "TRON via TronGrid") for the bridge contract's MessageSent
// event logs. TRON's TVM is bytecode- and ABI-compatible with the EVM,
// so its event payload is the identical CCTP-style body described in
// §6.2 — this package only owns discovery; decoding is the existing
// internal/adapter/evm.Parser, reused rather than duplicated. No TRON
// SDK exists in the retrieval pack, so discovery talks TronGrid's
// documented REST surface directly with net/http.
package tron

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
)

type Config struct {
	BaseURL        string // https://api.trongrid.io
	APIKey         string
	BridgeContract string // base58 TRON address
	PollInterval   time.Duration
}

type Source struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	lastBlock  uint64
}

func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.BaseURL == "" || cfg.BridgeContract == "" {
		return nil, chainerr.New(chainerr.Configuration, "tron.NewSource", fmt.Errorf("base URL and bridge contract are required"))
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Source{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "tron-source").Logger(),
	}, nil
}

func (s *Source) Domain() domain.Domain { return domain.TRON }
func (s *Source) Close() error          { return nil }

type eventEntry struct {
	TransactionID   string `json:"transaction_id"`
	BlockNumber     uint64 `json:"block_number"`
	BlockTimestamp  uint64 `json:"block_timestamp"`
	EventName       string `json:"event_name"`
	ResultType      map[string]string `json:"result_type"`
	RawResult       string `json:"result_unparsed_hex"`
}

type eventsResponse struct {
	Data []eventEntry `json:"data"`
	Meta struct {
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	} `json:"meta"`
}

// Discover polls TronGrid's contract-events endpoint for MessageSent
// events emitted in blocks after fromCursor's block.
func (s *Source) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	next := fromCursor
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			url := fmt.Sprintf("%s/v1/contracts/%s/events?event_name=MessageSent&only_confirmed=true&order_by=block_timestamp,asc&min_block_timestamp=%d",
				s.cfg.BaseURL, s.cfg.BridgeContract, next)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				continue
			}
			if s.cfg.APIKey != "" {
				req.Header.Set("TRON-PRO-API-KEY", s.cfg.APIKey)
			}
			resp, err := s.httpClient.Do(req)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to query TronGrid events")
				continue
			}
			var parsed eventsResponse
			decErr := json.NewDecoder(resp.Body).Decode(&parsed)
			resp.Body.Close()
			if decErr != nil {
				s.log.Error().Err(decErr).Msg("failed to decode TronGrid response")
				continue
			}

			for _, e := range parsed.Data {
				if e.BlockNumber <= next {
					continue
				}
				payload, err := hex.DecodeString(e.RawResult)
				if err != nil {
					s.log.Warn().Err(err).Str("tx", e.TransactionID).Msg("failed to decode event hex payload")
					continue
				}
				txHash, _ := hex.DecodeString(e.TransactionID)
				ev := adapter.RawEvent{
					SourceDomain: domain.TRON,
					TxHash:       txHash,
					BlockNumber:  e.BlockNumber,
					BlockTimeMs:  e.BlockTimestamp,
					Payload:      payload,
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return nil
				}
				next = e.BlockNumber
			}
		}
	}
}

func (s *Source) latestBlock(ctx context.Context) (uint64, error) {
	url := s.cfg.BaseURL + "/wallet/getnowblock"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, chainerr.New(chainerr.Transport, "tron.Source.latestBlock", err)
	}
	defer resp.Body.Close()
	var block struct {
		BlockHeader struct {
			RawData struct {
				Number uint64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&block); err != nil {
		return 0, err
	}
	return block.BlockHeader.RawData.Number, nil
}

// Finalize reports confirmations against super-representative finality
// (§4.1: 19 confirmations) measured from the current block tip.
func (s *Source) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	tip, err := s.latestBlock(ctx)
	if err != nil {
		return 0, err
	}
	if tip < ev.BlockNumber {
		return 0, nil
	}
	depth := tip - ev.BlockNumber + 1
	if depth > uint64(^uint32(0)) {
		return ^uint32(0), nil
	}
	return uint32(depth), nil
}
