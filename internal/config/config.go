// Package config loads the attester and relayer processes' runtime
// configuration from environment variables (§6.3). Unlike the
// teacher's YAML-file-plus-overrides setup, this module is
// entirely env-driven: there is no persistent store and no
// environment-specific config file to select, so viper is used purely
// as an environment-variable reader and type coercer.
package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/etrid-network/attest-core/internal/domain"
)

// chainEnvPrefix maps each domain to the prefix used in its
// <CHAIN>_RPC_URL / <CHAIN>_WS_URL / <CHAIN>_CONFIRMATIONS_REQUIRED
// environment variables.
var chainEnvPrefix = map[domain.Domain]string{
	domain.EVMEthereum: "ETHEREUM",
	domain.Solana:      "SOLANA",
	domain.Substrate:   "SUBSTRATE",
	domain.Polygon:     "POLYGON",
	domain.Arbitrum:    "ARBITRUM",
	domain.BNB:         "BNB",
	domain.Base:        "BASE",
	domain.Bitcoin:     "BITCOIN",
	domain.TRON:        "TRON",
	domain.XRPL:        "XRPL",
	domain.Cardano:     "CARDANO",
	domain.Stellar:     "STELLAR",
}

// ChainEndpoints holds the RPC/WS endpoints and adapter-specific
// addressing configured for one domain. RPCURLs/WSURLs cover §6.3's
// <CHAIN>_RPC_URL/<CHAIN>_WS_URL; BridgeAddress, APIKey, PalletName,
// and EventName are the per-adapter identifiers §6.3 doesn't name
// individually (it gives only one destination contract key,
// TOKEN_MESSENGER_ADDRESS) but every non-EVM adapter's Config
// requires one, so each falls back to TOKEN_MESSENGER_ADDRESS when
// its own <CHAIN>_BRIDGE_ADDRESS is unset. Multiple comma-separated
// values in RPCURLs/WSURLs become multiple failover endpoints.
type ChainEndpoints struct {
	RPCURLs []string
	WSURLs  []string

	BridgeAddress string
	APIKey        string
	PalletName    string
	EventName     string
	ChainID       int64 // EVM-family destinations only, <CHAIN>_CHAIN_ID
}

// AttesterIdentity is the attester-specific identity and signing
// material read from ATTESTER_ID / ATTESTER_PRIVATE_KEY /
// ATTESTER_ADDRESS. Sr25519Seed is an addition beyond §6.3's table:
// the attester signs with two unrelated schemes (secp256k1 ECDSA for
// EVM-family/ledger destinations, Sr25519 for Substrate), and one key
// cannot service both curves, so a second secret is unavoidable.
// ATTESTER_PRIVATE_KEY supplies the ECDSA key; ATTESTER_SR25519_SEED
// supplies a hex-encoded 32-byte Sr25519 seed (SURI strings such as
// mnemonics or derivation paths are not accepted).
type AttesterIdentity struct {
	ID          int
	PrivateKey  string
	Sr25519Seed string
	Address     string
}

// Threshold is the k-of-n signature threshold.
type Threshold struct {
	MinSignatures  int
	TotalAttesters int
}

// SubmitterGasCaps bounds the gas the destination submitter will pay.
type SubmitterGasCaps struct {
	GasLimit             uint64
	MaxFeePerGas         string
	MaxPriorityFeePerGas string
}

// RetryPolicy governs relayer-side polling and retry cadence.
type RetryPolicy struct {
	PollIntervalMs int
	MaxRetries     int
	RetryDelayMs   int
}

// PeerAttester is another fleet member's gossip endpoint and public
// signing material: its attesterapi base URL (where this process
// POSTs signatures it produces) and the two public keys needed to
// verify a signature this process receives back from that peer.
// There is no dedicated env var table for this in §6.3 because the
// spec's attester table describes a single process in isolation; a
// working fleet still needs each member to know how to reach and
// authenticate the other n-1.
type PeerAttester struct {
	ID            uint8
	URL           string
	ECDSAAddress  [20]byte
	Sr25519Public [32]byte
}

// RelayerSettings holds the fields the relayer binary needs that §6.3
// does not name individually: which attester services to poll for
// ready attestations, and the relayer's own signing material for each
// destination's submitter backend. Neither has a natural home in
// §6.3's table (which is written from the attester's point of view),
// but both are unavoidable for a working relayer process.
type RelayerSettings struct {
	AttesterServiceURLs []string
	ECDSAPrivateKeyHex  string // EVM-family/ledger destination submitters
	Sr25519SeedHex      string // Substrate destination submitter
	SubstratePalletIdx  byte
	SubstrateCallIdx    byte
}

// Config is the fully resolved process configuration for either the
// attester or relayer binary. Fields not relevant to a given binary
// are simply left at their zero value.
type Config struct {
	Identity  AttesterIdentity
	Threshold Threshold
	Peers     []PeerAttester

	Chains                map[domain.Domain]ChainEndpoints
	ConfirmationOverrides map[domain.Domain]uint64

	TokenMessengerAddress string

	Port     int
	LogLevel string

	Retry   RetryPolicy
	GasCaps SubmitterGasCaps
	Relayer RelayerSettings
}

// Load reads configuration from the process environment. It does not
// validate — callers invoke Validate separately so that the relayer
// binary (which needs neither Identity nor Threshold) and the attester
// binary (which needs both) can apply different required-field sets.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Identity: AttesterIdentity{
			ID:          v.GetInt("ATTESTER_ID"),
			PrivateKey:  v.GetString("ATTESTER_PRIVATE_KEY"),
			Sr25519Seed: v.GetString("ATTESTER_SR25519_SEED"),
			Address:     v.GetString("ATTESTER_ADDRESS"),
		},
		Threshold: Threshold{
			MinSignatures:  v.GetInt("MIN_SIGNATURES"),
			TotalAttesters: v.GetInt("TOTAL_ATTESTERS"),
		},
		Chains:                make(map[domain.Domain]ChainEndpoints),
		ConfirmationOverrides: make(map[domain.Domain]uint64),
		TokenMessengerAddress: v.GetString("TOKEN_MESSENGER_ADDRESS"),
		Port:                  v.GetInt("PORT"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		Retry: RetryPolicy{
			PollIntervalMs: v.GetInt("POLL_INTERVAL_MS"),
			MaxRetries:     v.GetInt("MAX_RETRIES"),
			RetryDelayMs:   v.GetInt("RETRY_DELAY_MS"),
		},
		GasCaps: SubmitterGasCaps{
			GasLimit:             uint64(v.GetInt64("GAS_LIMIT")),
			MaxFeePerGas:         v.GetString("MAX_FEE_PER_GAS"),
			MaxPriorityFeePerGas: v.GetString("MAX_PRIORITY_FEE_PER_GAS"),
		},
		Relayer: RelayerSettings{
			AttesterServiceURLs: splitCSV(v.GetString("ATTESTER_SERVICE_URLS")),
			ECDSAPrivateKeyHex:  v.GetString("RELAYER_PRIVATE_KEY"),
			Sr25519SeedHex:      v.GetString("RELAYER_SR25519_SEED"),
			SubstratePalletIdx:  byte(v.GetInt("SUBSTRATE_PALLET_INDEX")),
			SubstrateCallIdx:    byte(v.GetInt("SUBSTRATE_CALL_INDEX")),
		},
	}

	peers, err := parsePeers(v.GetString("ATTESTER_PEERS"))
	if err != nil {
		return nil, err
	}
	cfg.Peers = peers

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Retry.PollIntervalMs == 0 {
		cfg.Retry.PollIntervalMs = 30000
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.RetryDelayMs == 0 {
		cfg.Retry.RetryDelayMs = 60000
	}

	globalConfirmations := v.GetUint64("CONFIRMATIONS_REQUIRED")

	for d, prefix := range chainEnvPrefix {
		rpc := v.GetString(prefix + "_RPC_URL")
		ws := v.GetString(prefix + "_WS_URL")
		if rpc == "" && ws == "" {
			continue
		}
		bridgeAddr := v.GetString(prefix + "_BRIDGE_ADDRESS")
		if bridgeAddr == "" {
			bridgeAddr = cfg.TokenMessengerAddress
		}

		cfg.Chains[d] = ChainEndpoints{
			RPCURLs:       splitCSV(rpc),
			WSURLs:        splitCSV(ws),
			BridgeAddress: bridgeAddr,
			APIKey:        v.GetString(prefix + "_API_KEY"),
			PalletName:    v.GetString(prefix + "_PALLET_NAME"),
			EventName:     v.GetString(prefix + "_EVENT_NAME"),
			ChainID:       v.GetInt64(prefix + "_CHAIN_ID"),
		}

		if override := v.GetUint64(prefix + "_CONFIRMATIONS_REQUIRED"); override != 0 {
			cfg.ConfirmationOverrides[d] = override
		} else if globalConfirmations != 0 {
			cfg.ConfirmationOverrides[d] = globalConfirmations
		}
	}

	return cfg, nil
}

// parsePeers decodes ATTESTER_PEERS, a comma-separated list of
// "id|url|ecdsa_address|sr25519_public" entries (hex fields, with or
// without a 0x prefix) describing the other members of this
// attester's fleet.
func parsePeers(raw string) ([]PeerAttester, error) {
	if raw == "" {
		return nil, nil
	}
	entries := strings.Split(raw, ",")
	out := make([]PeerAttester, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		if len(fields) != 4 {
			return nil, fmt.Errorf(
				"config: malformed ATTESTER_PEERS entry %q, want id|url|ecdsa_address|sr25519_public", entry)
		}

		id, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ATTESTER_PEERS id %q: %w", fields[0], err)
		}
		ecdsaAddr, err := decodeHexFixed(fields[2], 20)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ATTESTER_PEERS ecdsa_address %q: %w", fields[2], err)
		}
		srPub, err := decodeHexFixed(fields[3], 32)
		if err != nil {
			return nil, fmt.Errorf("config: invalid ATTESTER_PEERS sr25519_public %q: %w", fields[3], err)
		}

		peer := PeerAttester{ID: uint8(id), URL: strings.TrimSpace(fields[1])}
		copy(peer.ECDSAAddress[:], ecdsaAddr)
		copy(peer.Sr25519Public[:], srPub)
		out = append(out, peer)
	}
	return out, nil
}

func decodeHexFixed(s string, n int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("want %d bytes, got %d", n, len(b))
	}
	return b, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateAttester enforces the required-field set for the attester
// process: identity, signing material, and a threshold.
func (c *Config) ValidateAttester() error {
	if c.Identity.ID <= 0 {
		return fmt.Errorf("config: ATTESTER_ID must be a positive integer")
	}
	if c.Identity.PrivateKey == "" {
		return fmt.Errorf("config: ATTESTER_PRIVATE_KEY is required")
	}
	if c.Identity.Sr25519Seed == "" {
		return fmt.Errorf("config: ATTESTER_SR25519_SEED is required")
	}
	if c.Identity.Address == "" {
		return fmt.Errorf("config: ATTESTER_ADDRESS is required")
	}
	if c.Threshold.MinSignatures <= 0 || c.Threshold.TotalAttesters <= 0 {
		return fmt.Errorf("config: MIN_SIGNATURES and TOTAL_ATTESTERS must be set")
	}
	if c.Threshold.MinSignatures > c.Threshold.TotalAttesters {
		return fmt.Errorf("config: MIN_SIGNATURES (%d) cannot exceed TOTAL_ATTESTERS (%d)",
			c.Threshold.MinSignatures, c.Threshold.TotalAttesters)
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: at least one <CHAIN>_RPC_URL must be set")
	}
	return nil
}

// ValidateRelayer enforces the required-field set for the relayer
// (fetcher + submitter) process: destination contract and gas caps,
// but no attester identity.
func (c *Config) ValidateRelayer() error {
	if c.TokenMessengerAddress == "" {
		return fmt.Errorf("config: TOKEN_MESSENGER_ADDRESS is required")
	}
	if c.GasCaps.MaxFeePerGas == "" {
		return fmt.Errorf("config: MAX_FEE_PER_GAS is required")
	}
	if len(c.Relayer.AttesterServiceURLs) == 0 {
		return fmt.Errorf("config: ATTESTER_SERVICE_URLS is required")
	}
	return nil
}

// ConfirmationsFor returns the effective finality depth for d: the
// operator override if set, otherwise the domain's built-in default.
func (c *Config) ConfirmationsFor(d domain.Domain) uint64 {
	if v, ok := c.ConfirmationOverrides[d]; ok {
		return v
	}
	return uint64(domain.RequiredConfirmations(d))
}

// parseLogLevel is retained for callers that need an early sanity
// check before handing LogLevel to zerolog.ParseLevel.
func parseLogLevel(s string) (string, error) {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(s), nil
	default:
		return "", fmt.Errorf("config: unrecognized LOG_LEVEL %q", s)
	}
}

// ParseLogLevel exposes parseLogLevel for cmd/ binaries.
func ParseLogLevel(s string) (string, error) {
	return parseLogLevel(s)
}
