// Package solana implements the Solana Source and Parser: polling the
// bridge program's signature history and pairing each bridge
// instruction with the paired Memo-program instruction that carries
// the recipient (§4.1/§6.2's "ETRID:<64-hex-chars>" convention).
// Grounded on the teacher's internal/listener/solana.Listener
// (slot-range polling loop) and internal/blockchain/solana.Client
// (gagliardetto/solana-go rpc.Client wrapping).
package solana

import (
	"context"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
)

// memoProgramID is the well-known SPL Memo v2 program.
var memoProgramID = solanago.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// Config configures one Solana Source.
type Config struct {
	RPCEndpoint   string
	BridgeProgram string
	PollInterval  time.Duration
	PageSize      int
}

type Source struct {
	client       *rpc.Client
	bridge       solanago.PublicKey
	pollInterval time.Duration
	pageSize     int
	log          zerolog.Logger

	lastSignature solanago.Signature
}

func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.BridgeProgram == "" {
		return nil, chainerr.New(chainerr.Configuration, "solana.NewSource", fmt.Errorf("bridge program id not configured"))
	}
	bridge, err := solanago.PublicKeyFromBase58(cfg.BridgeProgram)
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "solana.NewSource", fmt.Errorf("invalid bridge program id: %w", err))
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = 100
	}

	return &Source{
		client:       rpc.New(cfg.RPCEndpoint),
		bridge:       bridge,
		pollInterval: interval,
		pageSize:     pageSize,
		log:          log.With().Str("component", "solana-source").Logger(),
	}, nil
}

func (s *Source) Domain() domain.Domain { return domain.Solana }

func (s *Source) Close() error { return nil }

// Discover polls GetSignaturesForAddress against the bridge program,
// oldest-first, decoding each matched transaction into a RawEvent.
// fromCursor is the slot to resume from; signatures at or below it are
// skipped.
func (s *Source) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			limit := s.pageSize
			sigs, err := s.client.GetSignaturesForAddressWithOpts(ctx, s.bridge, &rpc.GetSignaturesForAddressOpts{
				Limit: &limit,
			})
			if err != nil {
				s.log.Error().Err(err).Msg("failed to fetch bridge program signatures")
				continue
			}
			// The RPC returns newest-first; walk oldest-first so slots
			// advance monotonically for the caller's checkpoint.
			for i := len(sigs) - 1; i >= 0; i-- {
				sig := sigs[i]
				if sig.Slot <= fromCursor || sig.Err != nil {
					continue
				}
				ev, err := s.fetchEvent(ctx, sig)
				if err != nil {
					s.log.Warn().Err(err).Str("signature", sig.Signature.String()).Msg("failed to decode bridge transaction")
					continue
				}
				if ev == nil {
					continue
				}
				fromCursor = sig.Slot
				select {
				case out <- *ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (s *Source) fetchEvent(ctx context.Context, sig *rpc.TransactionSignature) (*adapter.RawEvent, error) {
	maxVersion := uint64(0)
	tx, err := s.client.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
		Encoding:                       solanago.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, chainerr.New(chainerr.Transport, "solana.Source.fetchEvent", err)
	}
	if tx == nil || tx.Transaction == nil {
		return nil, nil
	}
	decoded, err := tx.Transaction.GetTransaction()
	if err != nil {
		return nil, err
	}

	payload := extractPayload(decoded, s.bridge)
	if payload == nil {
		return nil, nil
	}

	var blockTimeMs uint64
	if tx.BlockTime != nil {
		blockTimeMs = uint64(*tx.BlockTime) * 1000
	}

	return &adapter.RawEvent{
		SourceDomain: domain.Solana,
		TxHash:       append([]byte(nil), sig.Signature[:]...),
		BlockNumber:  sig.Slot,
		BlockTimeMs:  blockTimeMs,
		Payload:      payload,
	}, nil
}

// extractPayload finds the bridge program's instruction and a Memo
// instruction anywhere in the same transaction (when either appears
// more than once, the last one is used), concatenating the bridge
// instruction data with the fee payer and the memo-decoded recipient
// bytes so the Parser has one flat buffer to read.
func extractPayload(tx *solanago.Transaction, bridge solanago.PublicKey) []byte {
	accounts := tx.Message.AccountKeys
	var bridgeData []byte
	var recipient []byte

	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(accounts) {
			continue
		}
		prog := accounts[ix.ProgramIDIndex]
		switch prog {
		case bridge:
			bridgeData = ix.Data
		case memoProgramID:
			recipient = decodeMemoRecipient(string(ix.Data))
		}
	}
	if bridgeData == nil || recipient == nil {
		return nil
	}
	var sender []byte
	if len(accounts) > 0 {
		sender = accounts[0].Bytes()
	}
	out := make([]byte, 0, len(bridgeData)+len(sender)+len(recipient))
	out = append(out, bridgeData...)
	out = append(out, sender...)
	out = append(out, recipient...)
	return out
}

const memoPrefix = "ETRID:"

func decodeMemoRecipient(memo string) []byte {
	if len(memo) != len(memoPrefix)+64 || memo[:len(memoPrefix)] != memoPrefix {
		return nil
	}
	hexPart := memo[len(memoPrefix):]
	out := make([]byte, 32)
	for i := 0; i < 32; i++ {
		hi, ok1 := hexNibble(hexPart[i*2])
		lo, ok2 := hexNibble(hexPart[i*2+1])
		if !ok1 || !ok2 {
			return nil
		}
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// Finalize reports confirmations as the current slot minus the event's
// slot, plus one (the event's own slot counts), matching §4.1's
// confirmation-depth table for Solana.
func (s *Source) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	tip, err := s.client.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, chainerr.New(chainerr.Transport, "solana.Source.Finalize", err)
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
