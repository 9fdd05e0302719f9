package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/domain"
)

func TestLoadParsesChainEndpointsAndDefaults(t *testing.T) {
	t.Setenv("ATTESTER_ID", "3")
	t.Setenv("ATTESTER_PRIVATE_KEY", "0xabc")
	t.Setenv("ATTESTER_SR25519_SEED", "0xseed")
	t.Setenv("ATTESTER_ADDRESS", "0xdef")
	t.Setenv("MIN_SIGNATURES", "5")
	t.Setenv("TOTAL_ATTESTERS", "9")
	t.Setenv("ETHEREUM_RPC_URL", "https://a.example,https://b.example")
	t.Setenv("ETHEREUM_WS_URL", "wss://a.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Identity.ID)
	assert.Equal(t, 5, cfg.Threshold.MinSignatures)
	assert.Equal(t, 9, cfg.Threshold.TotalAttesters)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)

	endpoints, ok := cfg.Chains[domain.EVMEthereum]
	require.True(t, ok)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, endpoints.RPCURLs)
	assert.Equal(t, []string{"wss://a.example"}, endpoints.WSURLs)

	require.NoError(t, cfg.ValidateAttester())
}

func TestValidateAttesterRejectsThresholdExceedingTotal(t *testing.T) {
	t.Setenv("ATTESTER_ID", "1")
	t.Setenv("ATTESTER_PRIVATE_KEY", "0xabc")
	t.Setenv("ATTESTER_SR25519_SEED", "0xseed")
	t.Setenv("ATTESTER_ADDRESS", "0xdef")
	t.Setenv("MIN_SIGNATURES", "9")
	t.Setenv("TOTAL_ATTESTERS", "5")
	t.Setenv("ETHEREUM_RPC_URL", "https://a.example")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.ValidateAttester()
	assert.Error(t, err)
}

func TestValidateAttesterRequiresAtLeastOneChain(t *testing.T) {
	t.Setenv("ATTESTER_ID", "1")
	t.Setenv("ATTESTER_PRIVATE_KEY", "0xabc")
	t.Setenv("ATTESTER_SR25519_SEED", "0xseed")
	t.Setenv("ATTESTER_ADDRESS", "0xdef")
	t.Setenv("MIN_SIGNATURES", "5")
	t.Setenv("TOTAL_ATTESTERS", "9")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.ValidateAttester()
	assert.Error(t, err)
}

func TestConfirmationsForFallsBackToDomainDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(domain.RequiredConfirmations(domain.Bitcoin)), cfg.ConfirmationsFor(domain.Bitcoin))
}

func TestConfirmationsForHonorsPerChainOverride(t *testing.T) {
	t.Setenv("ETHEREUM_RPC_URL", "https://a.example")
	t.Setenv("ETHEREUM_CONFIRMATIONS_REQUIRED", "42")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(42), cfg.ConfirmationsFor(domain.EVMEthereum))
}

func TestLoadParsesPeers(t *testing.T) {
	t.Setenv("ATTESTER_PEERS",
		"2|http://peer-2:8080|0x0102030405060708090a0b0c0d0e0f1011121314|"+
			"0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20,"+
			"3|http://peer-3:8080|0x1415161718191a1b1c1d1e1f2021222324252627|"+
			"0x202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, uint8(2), cfg.Peers[0].ID)
	assert.Equal(t, "http://peer-2:8080", cfg.Peers[0].URL)
}

func TestLoadRejectsMalformedPeerEntry(t *testing.T) {
	t.Setenv("ATTESTER_PEERS", "not-enough-fields")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRelayerRequiresTokenMessengerAndGasCap(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Error(t, cfg.ValidateRelayer())

	t.Setenv("TOKEN_MESSENGER_ADDRESS", "0xmessenger")
	t.Setenv("MAX_FEE_PER_GAS", "100000000000")
	t.Setenv("ATTESTER_SERVICE_URLS", "http://localhost:8080")
	cfg, err = Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.ValidateRelayer())
}
