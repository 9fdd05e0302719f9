package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/etrid-network/attest-core/internal/adapter"
	bitcoinadapter "github.com/etrid-network/attest-core/internal/adapter/bitcoin"
	cardanoadapter "github.com/etrid-network/attest-core/internal/adapter/cardano"
	evmadapter "github.com/etrid-network/attest-core/internal/adapter/evm"
	"github.com/etrid-network/attest-core/internal/adapter/ledger"
	solanaadapter "github.com/etrid-network/attest-core/internal/adapter/solana"
	stellaradapter "github.com/etrid-network/attest-core/internal/adapter/stellar"
	substrateadapter "github.com/etrid-network/attest-core/internal/adapter/substrate"
	tronadapter "github.com/etrid-network/attest-core/internal/adapter/tron"
	xrpladapter "github.com/etrid-network/attest-core/internal/adapter/xrpl"
	"github.com/etrid-network/attest-core/internal/attester"
	"github.com/etrid-network/attest-core/internal/attesterapi"
	"github.com/etrid-network/attest-core/internal/checkpoint"
	"github.com/etrid-network/attest-core/internal/config"
	"github.com/etrid-network/attest-core/internal/domain"
	"github.com/etrid-network/attest-core/internal/identity"
	"github.com/etrid-network/attest-core/internal/metrics"
	"github.com/etrid-network/attest-core/internal/signing"
	"github.com/etrid-network/attest-core/internal/store"
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
	if err := cfg.ValidateAttester(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	logger.Info().
		Int("attester_id", cfg.Identity.ID).
		Int("chains", len(cfg.Chains)).
		Msg("starting attester service")

	signer, err := signing.NewDualSigner(uint8(cfg.Identity.ID), cfg.Identity.PrivateKey, cfg.Identity.Sr25519Seed)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize signer")
		os.Exit(1)
	}
	defer signer.Close()

	st := store.New(10*time.Minute, logger)
	m := metrics.New("attester")

	cpPath := os.Getenv("CHECKPOINT_PATH")
	if cpPath == "" {
		cpPath = "attester-checkpoint.json"
	}
	cp, err := checkpoint.Open(cpPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open checkpoint file")
		os.Exit(2)
	}

	watches, err := buildWatches(cfg, cp, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build chain adapters")
		os.Exit(1)
	}
	if len(watches) == 0 {
		logger.Error().Msg("no chain adapters configured")
		os.Exit(1)
	}

	roster := make(map[uint8]identity.AttesterIdentity, len(cfg.Peers))
	peerURLs := make([]string, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		roster[p.ID] = identity.AttesterIdentity{
			ID:            p.ID,
			ECDSAAddress:  p.ECDSAAddress,
			Sr25519Public: p.Sr25519Public,
		}
		peerURLs = append(peerURLs, p.URL)
	}

	apiServer := attesterapi.New(fmt.Sprintf(":%d", cfg.Port), st, m, signer.Identity(), roster, logger)
	for _, w := range watches {
		apiServer.SetAdapterStatus(attesterapi.AdapterStatus{
			SourceDomain: w.Adapter.Source.Domain().String(),
			LastCursor:   w.FromCursor,
			Healthy:      true,
		})
	}
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("failed to start attester API")
			os.Exit(2)
		}
	}()

	svc := attester.New(signer, st, 60*time.Second, peerURLs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx, watches)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("shutdown signal received")

	cancel()
	svc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error stopping attester API")
	}

	logger.Info().Msg("attester service stopped")
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

// buildWatches constructs one adapter.Adapter (and a starting cursor
// from the checkpoint file, if any) per domain the operator configured
// an RPC endpoint for.
func buildWatches(cfg *config.Config, cp *checkpoint.Store, log zerolog.Logger) ([]attester.ChainWatch, error) {
	var watches []attester.ChainWatch

	for d, endpoints := range cfg.Chains {
		a, err := buildAdapter(d, endpoints, log)
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", d, err)
		}
		if a == nil {
			log.Warn().Str("domain", d.String()).Msg("no adapter wiring for this domain, skipping")
			continue
		}

		fromCursor, _ := cp.Get(d)
		watches = append(watches, attester.ChainWatch{
			Adapter:    *a,
			FromCursor: fromCursor,
			QueueDepth: 256,
		})
	}

	return watches, nil
}

func buildAdapter(d domain.Domain, ep config.ChainEndpoints, log zerolog.Logger) (*adapter.Adapter, error) {
	if len(ep.RPCURLs) == 0 {
		return nil, fmt.Errorf("no RPC endpoint configured")
	}
	primary := ep.RPCURLs[0]

	switch {
	case domain.IsEVMFamily(d):
		src, err := evmadapter.NewSource(evmadapter.Config{
			Domain:         d,
			RPCEndpoints:   ep.RPCURLs,
			BridgeContract: ep.BridgeAddress,
			PollInterval:   12 * time.Second,
			LogBatchBlocks: 2000,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: evmadapter.NewParser()}, nil

	case d == domain.TRON:
		src, err := tronadapter.NewSource(tronadapter.Config{
			BaseURL:        primary,
			APIKey:         ep.APIKey,
			BridgeContract: ep.BridgeAddress,
			PollInterval:   3 * time.Second,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: tronadapter.NewParser()}, nil

	case d == domain.Solana:
		src, err := solanaadapter.NewSource(solanaadapter.Config{
			RPCEndpoint:   primary,
			BridgeProgram: ep.BridgeAddress,
			PollInterval:  2 * time.Second,
			PageSize:      100,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: solanaadapter.NewParser()}, nil

	case domain.IsSubstrate(d):
		src, err := substrateadapter.NewSource(substrateadapter.Config{
			RPCEndpoint:  primary,
			PalletName:   ep.PalletName,
			EventName:    ep.EventName,
			PollInterval: 6 * time.Second,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: substrateadapter.NewParser()}, nil

	case d == domain.Bitcoin:
		src, err := bitcoinadapter.NewSource(bitcoinadapter.Config{
			RPCEndpoint:  primary,
			PollInterval: 30 * time.Second,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: ledger.NewParser(d)}, nil

	case d == domain.XRPL:
		src, err := xrpladapter.NewSource(xrpladapter.Config{
			RPCEndpoint:  primary,
			BridgeAddr:   ep.BridgeAddress,
			PollInterval: 4 * time.Second,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: ledger.NewParser(d)}, nil

	case d == domain.Cardano:
		src, err := cardanoadapter.NewSource(cardanoadapter.Config{
			BaseURL:      primary,
			ProjectID:    ep.APIKey,
			BridgeAddr:   ep.BridgeAddress,
			PollInterval: 20 * time.Second,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: ledger.NewParser(d)}, nil

	case d == domain.Stellar:
		src, err := stellaradapter.NewSource(stellaradapter.Config{
			HorizonURL: primary,
			BridgeAddr: ep.BridgeAddress,
		}, log)
		if err != nil {
			return nil, err
		}
		return &adapter.Adapter{Source: src, Parser: ledger.NewParser(d)}, nil

	default:
		return nil, nil
	}
}
