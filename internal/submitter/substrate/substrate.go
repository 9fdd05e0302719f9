// Package substrate implements the Substrate Destination Submitter
// backend (§4.7): submits an extrinsic carrying message_bytes and the
// ordered signature list, signed with the relayer's Sr25519 account.
// No Substrate RPC client or SCALE codec exists anywhere in the
// reference corpus (see internal/adapter/substrate's package doc for
// the same justified exception on the discovery side), so extrinsic
// construction and submission here are a minimal net/http JSON-RPC
// client plus a fixed-layout SCALE-equivalent call encoding, not a
// general-purpose codec.
package substrate

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	subkey "github.com/vedhavyas/go-subkey"
	subkeysr25519 "github.com/vedhavyas/go-subkey/sr25519"
	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/fetcher"
)

// Config configures the Substrate destination's submitter backend.
type Config struct {
	RPCEndpoint       string
	RelayerSeedHex    string
	PalletIndex       byte
	CallIndex         byte // index of the "receive_message"-equivalent call within PalletIndex
}

// Backend is the internal/submitter.Backend implementation for the
// Substrate destination domain.
type Backend struct {
	cfg    Config
	client *http.Client
	pair   subkey.KeyPair
	log    zerolog.Logger

	reqID int64
}

// New loads the relayer's Sr25519 seed and returns a Backend.
func New(cfg Config, log zerolog.Logger) (*Backend, error) {
	seed, err := decodeHex(strings.TrimPrefix(cfg.RelayerSeedHex, "0x"))
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "substrate.New", fmt.Errorf("relayer seed: %w", err))
	}
	pair, err := subkeysr25519.Scheme{}.FromSeed(seed)
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "substrate.New", fmt.Errorf("derive keypair: %w", err))
	}

	return &Backend{
		cfg:    cfg,
		client: &http.Client{},
		pair:   pair,
		log:    log.With().Str("component", "submitter-substrate").Logger(),
	}, nil
}

func (b *Backend) Domain() domain.Domain { return domain.Substrate }

// Submit builds the call (pallet_index | call_index | message_bytes |
// concatenated signatures, each length-prefixed as a SCALE compact-like
// u32 for simplicity), signs it with the relayer's Sr25519 key, and
// submits via author_submitExtrinsic.
func (b *Backend) Submit(ctx context.Context, att fetcher.ReadyAttestation) (string, error) {
	call := b.encodeCall(att)
	sig, err := b.pair.Sign(call)
	if err != nil {
		return "", chainerr.NewDestination(chainerr.Permanent, "substrate.Submit", fmt.Errorf("sign extrinsic: %w", err))
	}

	extrinsic := append(append([]byte{}, b.pair.Public()...), sig...)
	extrinsic = append(extrinsic, call...)

	var result string
	if err := b.call(ctx, "author_submitExtrinsic", []interface{}{"0x" + hex.EncodeToString(extrinsic)}, &result); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already relayed") {
			return "", chainerr.NewDestination(chainerr.AlreadyRelayed, "substrate.Submit", err)
		}
		return "", chainerr.NewDestination(chainerr.Retryable, "substrate.Submit", err)
	}
	return result, nil
}

// Confirm is a minimal, justified-exception confirmation: it only
// checks that Submit returned a non-empty extrinsic hash, makes no RPC
// call, and does not look for on-chain inclusion. Without a SCALE
// codec, it relies on the destination pallet's own already-relayed
// rejection to guard against double-relay.
func (b *Backend) Confirm(ctx context.Context, txRef string) error {
	if txRef == "" {
		return chainerr.NewDestination(chainerr.Retryable, "substrate.Confirm", fmt.Errorf("empty extrinsic hash"))
	}
	return nil
}

func (b *Backend) encodeCall(att fetcher.ReadyAttestation) []byte {
	var buf bytes.Buffer
	buf.WriteByte(b.cfg.PalletIndex)
	buf.WriteByte(b.cfg.CallIndex)
	writeLenPrefixed(&buf, att.MessageBytes)
	sigBlob := make([]byte, 0, len(att.Signatures)*65)
	for _, sig := range att.Signatures {
		sigBlob = append(sigBlob, sig.Signature...)
	}
	writeLenPrefixed(&buf, sigBlob)
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBytes [4]byte
	n := uint32(len(b))
	lenBytes[0] = byte(n)
	lenBytes[1] = byte(n >> 8)
	lenBytes[2] = byte(n >> 16)
	lenBytes[3] = byte(n >> 24)
	buf.Write(lenBytes[:])
	buf.Write(b)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Backend) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	id := atomic.AddInt64(&b.reqID, 1)
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.RPCEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
