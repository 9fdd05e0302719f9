package message

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Amount128 is an unsigned 128-bit integer, the width the wire formats
// in §6.2 and §4.2 use for transfer amounts. It wraps big.Int and
// enforces the 2^128-1 ceiling at construction and decode time.
type Amount128 struct {
	v *big.Int
}

var max128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// NewAmount128 validates that v fits in 128 bits and is non-negative.
func NewAmount128(v *big.Int) (Amount128, error) {
	if v == nil || v.Sign() < 0 {
		return Amount128{}, fmt.Errorf("amount must be non-negative")
	}
	if v.Cmp(max128) > 0 {
		return Amount128{}, fmt.Errorf("amount exceeds 2^128-1")
	}
	return Amount128{v: new(big.Int).Set(v)}, nil
}

// AmountFromUint64 is a convenience constructor for small amounts.
func AmountFromUint64(v uint64) Amount128 {
	return Amount128{v: new(big.Int).SetUint64(v)}
}

// IsZero reports whether the amount is exactly zero. Bridges must not
// transport zero amounts (§8 property 9).
func (a Amount128) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

// Big returns the underlying big.Int; callers must not mutate it.
func (a Amount128) Big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// LittleEndianBytes16 renders the amount as 16 little-endian bytes, the
// layout message_bytes uses (§4.2).
func (a Amount128) LittleEndianBytes16() [16]byte {
	var out [16]byte
	be := a.Big().FillBytes(make([]byte, 16)) // big-endian, zero-padded
	for i := 0; i < 16; i++ {
		out[i] = be[15-i]
	}
	return out
}

// AmountFromLittleEndianBytes16 parses the message_bytes amount field.
func AmountFromLittleEndianBytes16(b [16]byte) Amount128 {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return Amount128{v: new(big.Int).SetBytes(be)}
}

// BigEndianWord32 renders the amount as a 32-byte big-endian word, the
// layout the EVM CCTP-style message body uses for `amount` (§6.2).
func (a Amount128) BigEndianWord32() [32]byte {
	var out [32]byte
	a.Big().FillBytes(out[:])
	return out
}

// AmountFromBigEndianWord32 parses a 32-byte big-endian EVM amount word,
// rejecting values above 2^128-1 per §6.2.
func AmountFromBigEndianWord32(word [32]byte) (Amount128, error) {
	v := new(big.Int).SetBytes(word[:])
	return NewAmount128(v)
}

// Uint64BigEndian is a helper used by several chain-specific encodings
// (nonces, slots) that are native u64 big-endian on the wire.
func Uint64BigEndian(v uint64) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], v)
	return out
}
