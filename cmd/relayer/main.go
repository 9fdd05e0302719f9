package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/etrid-network/attest-core/internal/config"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/fetcher"
	"github.com/etrid-network/attest-core/internal/message"
	"github.com/etrid-network/attest-core/internal/metrics"
	"github.com/etrid-network/attest-core/internal/notify"
	"github.com/etrid-network/attest-core/internal/submitter"
	evmsubmitter "github.com/etrid-network/attest-core/internal/submitter/evm"
	substratesubmitter "github.com/etrid-network/attest-core/internal/submitter/substrate"
)

func main() {
	logger := setupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if lvl, lerr := config.ParseLogLevel(cfg.LogLevel); lerr == nil {
		if parsed, perr := zerolog.ParseLevel(lvl); perr == nil {
			logger = logger.Level(parsed)
		}
	}
	if err := cfg.ValidateRelayer(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	logger.Info().
		Int("attester_services", len(cfg.Relayer.AttesterServiceURLs)).
		Int("destination_domains", len(cfg.Chains)).
		Msg("starting relayer service")

	m := metrics.New("relayer")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build destination submitter backends")
		os.Exit(1)
	}
	if len(backends) == 0 {
		logger.Error().Msg("no destination submitter backends configured")
		os.Exit(1)
	}

	var relayedNotifier submitter.Notifier = noopNotifier{}
	if endpoints := webhookEndpoints(); len(endpoints) > 0 {
		webhookNotifier := notify.New(notify.Config{Endpoints: endpoints, Secret: os.Getenv("NOTIFY_SECRET")}, logger)
		webhookNotifier.Start(ctx)
		defer webhookNotifier.Stop()
		relayedNotifier = webhookNotifier
	}

	sub := submitter.New(backends, relayedNotifier, m, logger, submitter.Config{
		MaxAttempts:    cfg.Retry.MaxRetries,
		RetryBaseDelay: time.Duration(cfg.Retry.RetryDelayMs) * time.Millisecond,
	})
	sub.Start(ctx)
	defer sub.Stop()

	fe := fetcher.New(fetcher.Config{
		ServiceURLs:  cfg.Relayer.AttesterServiceURLs,
		PollInterval: time.Duration(cfg.Retry.PollIntervalMs) * time.Millisecond,
	}, m, logger)

	ready := make(chan fetcher.ReadyAttestation, 256)
	fe.Start(ctx, ready)
	defer fe.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case att, ok := <-ready:
				if !ok {
					return
				}
				if !sub.Enqueue(att) {
					logger.Warn().
						Str("destination_domain", att.DestinationDomain.String()).
						Uint64("nonce", att.Nonce).
						Msg("submitter queue full, dropping ready attestation")
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("shutdown signal received")

	cancel()
	logger.Info().Msg("relayer service stopped")
}

func setupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if os.Getenv("LOG_FORMAT") == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

func webhookEndpoints() []string {
	raw := os.Getenv("NOTIFY_WEBHOOK_URLS")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// noopNotifier satisfies internal/submitter.Notifier when no webhook
// endpoints are configured; the relayed fact still lives durably at
// the destination chain and in the attester's own attestation store.
type noopNotifier struct{}

func (noopNotifier) MarkRelayed(ctx context.Context, id message.MessageId) error { return nil }

// buildBackends wires one submitter.Backend per destination domain the
// operator configured a destination RPC endpoint for.
func buildBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (map[domain.Domain]submitter.Backend, error) {
	backends := make(map[domain.Domain]submitter.Backend)

	maxFee, ok := new(big.Int).SetString(cfg.GasCaps.MaxFeePerGas, 10)
	if !ok {
		return nil, fmt.Errorf("MAX_FEE_PER_GAS %q is not a valid integer", cfg.GasCaps.MaxFeePerGas)
	}
	maxPriority := big.NewInt(0)
	if cfg.GasCaps.MaxPriorityFeePerGas != "" {
		if parsed, pok := new(big.Int).SetString(cfg.GasCaps.MaxPriorityFeePerGas, 10); pok {
			maxPriority = parsed
		}
	}

	for d, ep := range cfg.Chains {
		if len(ep.RPCURLs) == 0 {
			continue
		}
		switch {
		case domain.IsEVMFamily(d):
			if cfg.Relayer.ECDSAPrivateKeyHex == "" {
				log.Warn().Str("domain", d.String()).Msg("no RELAYER_PRIVATE_KEY configured, skipping EVM destination")
				continue
			}
			chainID := big.NewInt(ep.ChainID)
			backend, err := evmsubmitter.New(ctx, evmsubmitter.Config{
				Domain:               d,
				RPCEndpoint:          ep.RPCURLs[0],
				MessageTransmitter:   ethcommon.HexToAddress(ep.BridgeAddress),
				RelayerPrivateKeyHex: cfg.Relayer.ECDSAPrivateKeyHex,
				ChainID:              chainID,
				GasLimit:             cfg.GasCaps.GasLimit,
				MaxFeePerGas:         maxFee,
				MaxPriorityFeePerGas: maxPriority,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("domain %s: %w", d, err)
			}
			backends[d] = backend

		case domain.IsSubstrate(d):
			if cfg.Relayer.Sr25519SeedHex == "" {
				log.Warn().Str("domain", d.String()).Msg("no RELAYER_SR25519_SEED configured, skipping Substrate destination")
				continue
			}
			backend, err := substratesubmitter.New(substratesubmitter.Config{
				RPCEndpoint:    ep.RPCURLs[0],
				RelayerSeedHex: cfg.Relayer.Sr25519SeedHex,
				PalletIndex:    cfg.Relayer.SubstratePalletIdx,
				CallIndex:      cfg.Relayer.SubstrateCallIdx,
			}, log)
			if err != nil {
				return nil, fmt.Errorf("domain %s: %w", d, err)
			}
			backends[d] = backend

		default:
			log.Warn().Str("domain", d.String()).Msg("no destination submitter backend for this domain, skipping")
		}
	}

	return backends, nil
}
