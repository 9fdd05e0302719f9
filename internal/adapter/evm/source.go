// Package evm implements the EVM-family Source and Parser: polling
// discovery of MessageSent logs from the bridge's message-transmitter
// contract, and decoding of the CCTP-style message body those logs
// carry (§6.2). There is no log-subscription path: Discover polls
// FilterLogs over block ranges whatever the endpoint's URL scheme.
// Grounded on the teacher's internal/blockchain/evm.Client
// (multi-endpoint ethclient failover) and internal/listener/evm.Listener
// (poll loop, confirmation-depth gating).
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
)

// messageSentTopic is keccak256("MessageSent(bytes)"), the CCTP-style
// event this adapter watches for.
var messageSentTopic = common.HexToHash("0x8c5261668696ce22758910d05bab8f186d6eb247ceac2af2e82c7dc17669b036")

// Source polls an EVM RPC endpoint (with failover across a configured
// list) for MessageSent logs emitted by the bridge contract.
type Source struct {
	dom            domain.Domain
	clients        []*ethclient.Client
	bridge         common.Address
	pollInterval   time.Duration
	logBatchBlocks uint64
	log            zerolog.Logger

	current int
}

// Config configures one EVM Source.
type Config struct {
	Domain         domain.Domain
	RPCEndpoints   []string
	BridgeContract string
	PollInterval   time.Duration
	LogBatchBlocks uint64
}

// NewSource dials every configured endpoint, keeping whichever connect
// and failing over between them the way the teacher's evm.Client does.
func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.BridgeContract == "" {
		return nil, chainerr.New(chainerr.Configuration, "evm.NewSource", fmt.Errorf("bridge contract address not configured"))
	}
	if len(cfg.RPCEndpoints) == 0 {
		return nil, chainerr.New(chainerr.Configuration, "evm.NewSource", fmt.Errorf("no RPC endpoints configured"))
	}

	clients := make([]*ethclient.Client, 0, len(cfg.RPCEndpoints))
	for _, endpoint := range cfg.RPCEndpoints {
		c, err := ethclient.Dial(endpoint)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to connect to RPC endpoint")
			continue
		}
		clients = append(clients, c)
	}
	if len(clients) == 0 {
		return nil, chainerr.New(chainerr.Transport, "evm.NewSource", fmt.Errorf("failed to connect to any RPC endpoint"))
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = 15 * time.Second
	}
	batch := cfg.LogBatchBlocks
	if batch == 0 {
		batch = 2000
	}

	return &Source{
		dom:            cfg.Domain,
		clients:        clients,
		bridge:         common.HexToAddress(cfg.BridgeContract),
		pollInterval:   interval,
		logBatchBlocks: batch,
		log:            log.With().Str("component", "evm-source").Str("domain", cfg.Domain.String()).Logger(),
	}, nil
}

func (s *Source) Domain() domain.Domain { return s.dom }

func (s *Source) Close() error {
	for _, c := range s.clients {
		c.Close()
	}
	return nil
}

func (s *Source) client() *ethclient.Client {
	return s.clients[s.current%len(s.clients)]
}

func (s *Source) failover() {
	s.current++
	s.log.Warn().Int("client_index", s.current%len(s.clients)).Msg("failing over to next RPC endpoint")
}

// Discover polls block ranges from fromCursor to the chain tip, every
// pollInterval, emitting one RawEvent per MessageSent log found.
func (s *Source) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	next := fromCursor
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tip, err := s.client().BlockNumber(ctx)
			if err != nil {
				s.failover()
				s.log.Error().Err(err).Msg("failed to fetch chain tip")
				continue
			}
			if next > tip {
				continue
			}
			for from := next; from <= tip; {
				to := from + s.logBatchBlocks - 1
				if to > tip {
					to = tip
				}
				if err := s.emitRange(ctx, from, to, out); err != nil {
					s.log.Error().Err(err).Uint64("from", from).Uint64("to", to).Msg("failed to process log range")
					break
				}
				from = to + 1
				next = from
			}
		}
	}
}

func (s *Source) emitRange(ctx context.Context, from, to uint64, out chan<- adapter.RawEvent) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.bridge},
		Topics:    [][]common.Hash{{messageSentTopic}},
	}
	logs, err := s.client().FilterLogs(ctx, query)
	if err != nil {
		s.failover()
		return chainerr.New(chainerr.Transport, "evm.Source.emitRange", err)
	}

	for _, l := range logs {
		header, err := s.client().HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber))
		var blockTimeMs uint64
		if err == nil {
			blockTimeMs = header.Time * 1000
		}
		ev := adapter.RawEvent{
			SourceDomain: s.dom,
			TxHash:       append([]byte(nil), l.TxHash.Bytes()...),
			BlockNumber:  l.BlockNumber,
			BlockTimeMs:  blockTimeMs,
			Payload:      append([]byte(nil), decodeEventData(l)...),
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// decodeEventData strips the ABI-encoded `bytes` wrapper (32-byte
// offset + 32-byte length prefix) that Solidity's event-bytes encoding
// adds around the CCTP message payload.
func decodeEventData(l ethtypes.Log) []byte {
	const headerWords = 2 * 32
	if len(l.Data) <= headerWords {
		return nil
	}
	length := new(big.Int).SetBytes(l.Data[32:64]).Uint64()
	body := l.Data[64:]
	if uint64(len(body)) < length {
		return body
	}
	return body[:length]
}

// Finalize reports how many confirmations ev has accrued against the
// current chain tip.
func (s *Source) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	tip, err := s.client().BlockNumber(ctx)
	if err != nil {
		return 0, chainerr.New(chainerr.Transport, "evm.Source.Finalize", err)
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
