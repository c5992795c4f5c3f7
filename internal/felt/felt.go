// Package felt provides helpers for working with 252-bit field elements as
// they appear on the wire: contract addresses, event selectors, keys and
// data values. Field elements are carried as 32-byte common.Hash values,
// which gives hex parsing/formatting and big-integer conversion for free.
package felt

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector computes the event selector for a logical event name: the
// keccak256 hash of the name truncated to the low 250 bits.
func Selector(name string) common.Hash {
	h := crypto.Keccak256Hash([]byte(name))
	h[0] &= 0x03
	return h
}

// FromHex parses a 0x-prefixed (or bare) hex string into a field element.
func FromHex(s string) common.Hash {
	return common.HexToHash(s)
}

// FromBig converts a big integer into a field element.
func FromBig(v *big.Int) common.Hash {
	return common.BigToHash(v)
}

// ToBig converts a field element into a big integer.
func ToBig(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// ToDecimal renders a field element as a decimal big-integer string, the
// canonical payload representation for numeric fields.
func ToDecimal(h common.Hash) string {
	return ToBig(h).String()
}

// FromString encodes a short ASCII string into a field element,
// right-aligned the way Cairo short strings are emitted.
func FromString(s string) common.Hash {
	return common.BytesToHash([]byte(s))
}

// ToShortString decodes a field element that represents text into a
// printable ASCII string. Non-printable bytes (including the left zero
// padding) are dropped.
func ToShortString(h common.Hash) string {
	var b strings.Builder
	for _, c := range h[:] {
		if c >= 0x20 && c <= 0x7e {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Equal reports whether two hex representations refer to the same field
// element, regardless of 0x prefix, case or leading zeroes.
func Equal(a, b string) bool {
	return FromHex(a) == FromHex(b)
}
