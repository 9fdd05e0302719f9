package tron

import "github.com/etrid-network/attest-core/internal/adapter/evm"

// NewParser returns the CCTP-style body decoder TRON shares with the
// EVM-family adapters: TVM event log payloads use the identical
// big-endian header+body layout (§6.2).
func NewParser() *evm.Parser {
	return evm.NewParser()
}
