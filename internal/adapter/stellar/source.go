// Package stellar implements the Stellar Source using Horizon
// streaming (§4.1: "Stellar Horizon streaming"), decoding the bridge
// carrier out of each qualifying payment's transaction memo. Grounded
// on the DOMAIN STACK's stellar/go dependency — the only chain SDK in
// the retrieval pack's go.mod whose own documented idiom is exactly
// this kind of streaming subscription, via horizonclient.
package stellar

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon/operations"

	"github.com/etrid-network/attest-core/internal/adapter"
	"github.com/etrid-network/attest-core/internal/adapter/ledger"
	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/message"
)

type Config struct {
	HorizonURL string
	BridgeAddr string
}

type Source struct {
	client     *horizonclient.Client
	bridgeAddr string
	log        zerolog.Logger
}

func NewSource(cfg Config, log zerolog.Logger) (*Source, error) {
	if cfg.HorizonURL == "" || cfg.BridgeAddr == "" {
		return nil, chainerr.New(chainerr.Configuration, "stellar.NewSource", fmt.Errorf("horizon URL and bridge address are required"))
	}
	return &Source{
		client:     &horizonclient.Client{HorizonURL: cfg.HorizonURL},
		bridgeAddr: cfg.BridgeAddr,
		log:        log.With().Str("component", "stellar-source").Logger(),
	}, nil
}

func (s *Source) Domain() domain.Domain { return domain.Stellar }
func (s *Source) Close() error          { return nil }

// Discover subscribes to the bridge account's payment operations via
// Horizon's server-sent-events stream, starting at fromCursor (a
// Horizon paging token encoded as a ledger sequence).
func (s *Source) Discover(ctx context.Context, fromCursor uint64, out chan<- adapter.RawEvent) error {
	request := horizonclient.OperationRequest{
		ForAccount: s.bridgeAddr,
		Cursor:     strconv.FormatUint(fromCursor, 10),
		Order:      horizonclient.OrderAsc,
	}

	handler := func(op operations.Operation) {
		payment, ok := op.(operations.Payment)
		if !ok || payment.To != s.bridgeAddr || !payment.TransactionSuccessful {
			return
		}
		if err := s.emit(ctx, payment, out); err != nil {
			s.log.Warn().Err(err).Str("tx_hash", payment.TransactionHash).Msg("failed to decode bridge payment")
		}
	}

	if err := s.client.StreamPayments(ctx, request, handler); err != nil {
		return chainerr.New(chainerr.Transport, "stellar.Source.Discover", err)
	}
	return nil
}

func (s *Source) emit(ctx context.Context, payment operations.Payment, out chan<- adapter.RawEvent) error {
	tx, err := s.client.TransactionDetail(payment.TransactionHash)
	if err != nil {
		return err
	}
	if tx.Memo == "" {
		return nil
	}
	carrierHex := tx.Memo
	if tx.MemoType == "hash" || tx.MemoType == "return" {
		// base64 memo types never carry our carrier; only a text/hex memo does.
		return nil
	}
	carrier, err := hex.DecodeString(carrierHex)
	if err != nil || len(carrier) != 33 {
		return nil
	}
	destDomain, recipient, err := ledger.DecodeCarrier(carrier)
	if err != nil {
		return err
	}

	amountStroops, err := stroopsFromAmount(payment.Amount)
	if err != nil {
		return err
	}

	ledgerSeq, err := strconv.ParseUint(payment.PagingToken(), 10, 64)
	if err != nil {
		ledgerSeq = 0
	}

	closeTime, _ := time.Parse(time.RFC3339, payment.LedgerCloseTime)

	payload := ledger.BuildPayload(destDomain, recipient, message.AmountFromUint64(amountStroops), ledgerSeq, [32]byte{}, [32]byte{})
	ev := adapter.RawEvent{
		SourceDomain: domain.Stellar,
		TxHash:       []byte(payment.TransactionHash),
		BlockNumber:  ledgerSeq,
		BlockTimeMs:  uint64(closeTime.UnixMilli()),
		Payload:      payload,
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	}
	return nil
}

// stroopsFromAmount converts Horizon's decimal-string XLM amount
// (7 decimal places) into integer stroops.
func stroopsFromAmount(amount string) (uint64, error) {
	whole, frac, found := cutString(amount, ".")
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	var f uint64
	if found {
		for len(frac) < 7 {
			frac += "0"
		}
		frac = frac[:7]
		f, err = strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, err
		}
	}
	return w*10_000_000 + f, nil
}

func cutString(s, sep string) (before, after string, found bool) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return s[:i], s[i+len(sep):], true
		}
	}
	return s, "", false
}

// Finalize: Stellar's own consensus protocol finalizes a ledger on
// close, so confirmations track the current ledger minus the event's
// ledger, plus one for the event's own ledger (§4.1: "3 ledgers").
func (s *Source) Finalize(ctx context.Context, ev adapter.RawEvent) (uint32, error) {
	root, err := s.client.Root()
	if err != nil {
		return 0, chainerr.New(chainerr.Transport, "stellar.Source.Finalize", err)
	}
	tip := uint64(root.HorizonSequence)
	if tip < ev.BlockNumber {
		return 0, nil
	}
	depth := tip - ev.BlockNumber + 1
	if depth > uint64(^uint32(0)) {
		return ^uint32(0), nil
	}
	return uint32(depth), nil
}
