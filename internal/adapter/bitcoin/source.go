// Package bitcoin implements the Bitcoin Source: polling a bitcoind
// JSON-RPC endpoint for new blocks and scanning each transaction's
// outputs for an OP_RETURN carrying the `<domain:u8><recipient:32>`
// tagged payload (§6.2). There is no bitcoind RPC client in the
// retrieval pack (only btcutil/wire/txscript/chaincfg, all used for
// transaction construction rather than node RPC), so this talks JSON-RPC
// directly with net/http — the same justified stdlib exception the
// other no-SDK chains take — then decodes the raw transaction bytes
// with the pack's own wire/txscript packages, grounded on
// arcSignv2/src/chainadapter/bitcoin/builder.go's use of the same two
// packages for the inverse (encoding) direction.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/adapter/ledger"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

type Config struct {
	RPCEndpoint  string // http(s)://user:pass@host:port
	PollInterval time.Duration
}

type Source struct {
	endpoint     string
	pollInterval time.Duration
	httpClient   *http.Client
	log          zerolog.Logger
}

func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.RPCEndpoint == "" {
		return nil, chainerr.New(chainerr.Configuration, "bitcoin.NewSource", fmt.Errorf("RPC endpoint not configured"))
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 60 * time.Second
	}
	return &Source{
		endpoint:     cfg.RPCEndpoint,
		pollInterval: interval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log.With().Str("component", "bitcoin-source").Logger(),
	}, nil
}

func (s *Source) Domain() domain.Domain { return domain.Bitcoin }
func (s *Source) Close() error          { return nil }

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Source) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return chainerr.New(chainerr.Transport, "bitcoin.Source.call", err)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return chainerr.New(chainerr.Transport, "bitcoin.Source.call", err)
	}
	if rr.Error != nil {
		return chainerr.New(chainerr.ChainProtocol, "bitcoin.Source.call", fmt.Errorf("%s", rr.Error.Message))
	}
	if out != nil {
		return json.Unmarshal(rr.Result, out)
	}
	return nil
}

func (s *Source) blockCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.call(ctx, "getblockcount", nil, &n)
	return n, err
}

func (s *Source) blockHashAndHex(ctx context.Context, height uint64) (hash string, raw string, timeUnix int64, err error) {
	if err = s.call(ctx, "getblockhash", []interface{}{height}, &hash); err != nil {
		return
	}
	if err = s.call(ctx, "getblock", []interface{}{hash, 0}, &raw); err != nil {
		return
	}
	var verbose struct {
		Time int64 `json:"time"`
	}
	if verr := s.call(ctx, "getblock", []interface{}{hash, 1}, &verbose); verr == nil {
		timeUnix = verbose.Time
	}
	return
}

// Discover polls for new blocks starting at fromCursor and scans every
// transaction's outputs for the bridge OP_RETURN carrier.
func (s *Source) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	next := fromCursor
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tip, err := s.blockCount(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to fetch block count")
				continue
			}
			for ; next <= tip; next++ {
				if err := s.scanBlock(ctx, next, out); err != nil {
					s.log.Error().Err(err).Uint64("height", next).Msg("failed to scan block")
					break
				}
			}
		}
	}
}

func (s *Source) scanBlock(ctx context.Context, height uint64, out chan<- adapter.RawEvent) error {
	_, raw, timeUnix, err := s.blockHashAndHex(ctx, height)
	if err != nil {
		return chainerr.New(chainerr.Transport, "bitcoin.Source.scanBlock", err)
	}
	blockBytes, err := hex.DecodeString(raw)
	if err != nil {
		return chainerr.New(chainerr.ChainProtocol, "bitcoin.Source.scanBlock", err)
	}
	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(blockBytes)); err != nil {
		return chainerr.New(chainerr.ChainProtocol, "bitcoin.Source.scanBlock", err)
	}

	for _, tx := range block.Transactions {
		carrier, depositSats, outIdx, found := findCarrier(tx)
		if !found {
			continue
		}
		destDomain, recipient, err := ledger.DecodeCarrier(carrier)
		if err != nil {
			s.log.Warn().Err(err).Str("txid", tx.TxHash().String()).Msg("malformed bridge carrier, skipping")
			continue
		}
		payload := ledger.BuildPayload(destDomain, recipient, message.AmountFromUint64(uint64(depositSats)), uint64(height)*100000+uint64(outIdx), [32]byte{}, [32]byte{})

		ev := adapter.RawEvent{
			SourceDomain: domain.Bitcoin,
			TxHash:       reverseBytes(tx.TxHash().CloneBytes()),
			BlockNumber:  height,
			BlockTimeMs:  uint64(timeUnix) * 1000,
			Payload:      payload,
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// findCarrier scans tx's outputs for an OP_RETURN script carrying the
// 33-byte bridge payload, returning it along with the value of the
// first non-OP_RETURN output (the bridge deposit amount) and the
// OP_RETURN output's index.
func findCarrier(tx *wire.MsgTx) (carrier []byte, depositSats int64, outIdx int, found bool) {
	for i, txOut := range tx.TxOut {
		class := txscript.GetScriptClass(txOut.PkScript)
		if class == txscript.NullDataTy {
			pushes, err := txscript.PushedData(txOut.PkScript)
			if err != nil || len(pushes) == 0 {
				continue
			}
			if len(pushes[0]) == 33 {
				carrier = pushes[0]
				outIdx = i
				found = true
			}
		}
	}
	if !found {
		return nil, 0, 0, false
	}
	for _, txOut := range tx.TxOut {
		if txscript.GetScriptClass(txOut.PkScript) != txscript.NullDataTy {
			depositSats = txOut.Value
			break
		}
	}
	return carrier, depositSats, outIdx, true
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// Finalize reports confirmations as the current tip minus the event's
// containing block height, plus one (the containing block itself is
// the first confirmation), per §4.1's "counted from containing block".
func (s *Source) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	tip, err := s.blockCount(ctx)
	if err != nil {
		return 0, chainerr.New(chainerr.Transport, "bitcoin.Source.Finalize", err)
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
