package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etrid-network/attest-core/internal/domain"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, ok := s.Get(domain.EVMEthereum)
	assert.False(t, ok)
}

func TestSetThenReopenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(domain.EVMEthereum, 12345))
	require.NoError(t, s.Set(domain.Solana, 987))

	reopened, err := Open(path)
	require.NoError(t, err)

	block, ok := reopened.Get(domain.EVMEthereum)
	require.True(t, ok)
	assert.Equal(t, uint64(12345), block)

	block, ok = reopened.Get(domain.Solana)
	require.True(t, ok)
	assert.Equal(t, uint64(987), block)
}

func TestSetOverwritesPreviousValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(domain.Bitcoin, 1))
	require.NoError(t, s.Set(domain.Bitcoin, 2))

	block, ok := s.Get(domain.Bitcoin)
	require.True(t, ok)
	assert.Equal(t, uint64(2), block)
}
