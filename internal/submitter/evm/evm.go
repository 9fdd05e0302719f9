// Package evm implements the EVM-family Destination Submitter backend
// (§4.7): encodes (message_bytes, concatenated_signatures) as calldata
// to the destination's message-transmitter contract, signs with a
// single relayer account, and tracks nonce locally with chain resync on
// startup and on "nonce too low" errors. Grounded on
// internal/crypto/evm/ecdsa_signer.go's SignTransaction (ethtypes.SignTx
// with a London/EIP-1559 signer) and internal/blockchain/evm/client.go's
// multi-endpoint failover client.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/chainerr"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/fetcher"
)

const receiveMessageABIJSON = `[{"name":"receiveMessage","type":"function","stateMutability":"nonpayable","inputs":[{"name":"message","type":"bytes"},{"name":"signature","type":"bytes"}],"outputs":[]}]`

var receiveMessageABI abi.ABI

func init() {
	var err error
	receiveMessageABI, err = abi.JSON(strings.NewReader(receiveMessageABIJSON))
	if err != nil {
		panic("evm submitter: invalid embedded ABI: " + err.Error())
	}
}

// Config configures one EVM-family destination's submitter backend.
type Config struct {
	Domain               domain.Domain
	RPCEndpoint          string
	MessageTransmitter   common.Address
	RelayerPrivateKeyHex string
	ChainID              *big.Int
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Backend is the internal/submitter.Backend implementation for one
// EVM-family destination domain.
type Backend struct {
	cfg    Config
	client *ethclient.Client
	priv   *ecdsa.PrivateKey
	from   common.Address
	log    zerolog.Logger

	mu    sync.Mutex
	nonce uint64
}

// New dials cfg.RPCEndpoint, loads the relayer key, and resyncs the
// starting nonce from chain (§4.7: "resync from chain on startup").
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Backend, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, chainerr.New(chainerr.Transport, "evm.New", err)
	}

	keyHex := strings.TrimPrefix(cfg.RelayerPrivateKeyHex, "0x")
	priv, err := gethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, chainerr.New(chainerr.Configuration, "evm.New", fmt.Errorf("relayer private key: %w", err))
	}
	from := gethcrypto.PubkeyToAddress(priv.PublicKey)

	b := &Backend{
		cfg:    cfg,
		client: client,
		priv:   priv,
		from:   from,
		log:    log.With().Str("component", "submitter-evm").Str("destination_domain", cfg.Domain.String()).Logger(),
	}
	if err := b.resyncNonce(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) Domain() domain.Domain { return b.cfg.Domain }

func (b *Backend) resyncNonce(ctx context.Context) error {
	n, err := b.client.PendingNonceAt(ctx, b.from)
	if err != nil {
		return chainerr.New(chainerr.Transport, "evm.resyncNonce", err)
	}
	b.mu.Lock()
	b.nonce = n
	b.mu.Unlock()
	return nil
}

// Submit builds, signs, and broadcasts the receiveMessage transaction.
func (b *Backend) Submit(ctx context.Context, att fetcher.ReadyAttestation) (string, error) {
	calldata, err := receiveMessageABI.Pack("receiveMessage", att.MessageBytes, concatSignatures(att))
	if err != nil {
		return "", chainerr.NewDestination(chainerr.Permanent, "evm.Submit", fmt.Errorf("encode calldata: %w", err))
	}

	tipCap := b.cfg.MaxPriorityFeePerGas
	feeCap := b.cfg.MaxFeePerGas
	if tipCap == nil || feeCap == nil {
		suggested, err := b.client.SuggestGasTipCap(ctx)
		if err != nil {
			return "", chainerr.NewDestination(chainerr.Retryable, "evm.Submit", fmt.Errorf("suggest gas tip: %w", err))
		}
		tipCap = suggested
		if feeCap == nil {
			feeCap = new(big.Int).Mul(suggested, big.NewInt(2))
		}
	}
	if b.cfg.MaxFeePerGas != nil && feeCap.Cmp(b.cfg.MaxFeePerGas) > 0 {
		return "", chainerr.NewDestination(chainerr.Retryable, "evm.Submit",
			fmt.Errorf("estimated fee cap %s exceeds configured max %s, deferring rather than overpaying", feeCap, b.cfg.MaxFeePerGas))
	}

	b.mu.Lock()
	nonce := b.nonce
	b.mu.Unlock()

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       b.cfg.GasLimit,
		To:        &b.cfg.MessageTransmitter,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	signer := types.NewLondonSigner(b.cfg.ChainID)
	signedTx, err := types.SignTx(tx, signer, b.priv)
	if err != nil {
		return "", chainerr.NewDestination(chainerr.Permanent, "evm.Submit", fmt.Errorf("sign tx: %w", err))
	}

	if err := b.client.SendTransaction(ctx, signedTx); err != nil {
		if isNonceTooLow(err) {
			if resyncErr := b.resyncNonce(ctx); resyncErr != nil {
				b.log.Warn().Err(resyncErr).Msg("nonce resync after nonce-too-low failed")
			}
			return "", chainerr.NewDestination(chainerr.Retryable, "evm.Submit", err)
		}
		if isAlreadyRelayed(err) {
			return "", chainerr.NewDestination(chainerr.AlreadyRelayed, "evm.Submit", err)
		}
		return "", chainerr.NewDestination(chainerr.Retryable, "evm.Submit", err)
	}

	b.mu.Lock()
	b.nonce++
	b.mu.Unlock()

	return signedTx.Hash().Hex(), nil
}

// Confirm waits for the transaction to be mined and inspects its
// receipt status.
func (b *Backend) Confirm(ctx context.Context, txRef string) error {
	hash := common.HexToHash(txRef)
	receipt, err := b.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return chainerr.NewDestination(chainerr.Retryable, "evm.Confirm", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return chainerr.NewDestination(chainerr.Permanent, "evm.Confirm", fmt.Errorf("transaction %s reverted", txRef))
	}
	return nil
}

func concatSignatures(att fetcher.ReadyAttestation) []byte {
	out := make([]byte, 0, len(att.Signatures)*65)
	for _, sig := range att.Signatures {
		out = append(out, sig.Signature...)
	}
	return out
}

func isNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func isAlreadyRelayed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already relayed") || strings.Contains(msg, "message already processed")
}
