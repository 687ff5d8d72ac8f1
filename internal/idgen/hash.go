// Package idgen generates short, prefixed record IDs such as "pr-4k2xq9".
package idgen

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Prefixes per record kind.
const (
	PrefixPrinter   = "pr"
	PrefixGcode     = "gc"
	PrefixProduct   = "prod"
	PrefixComponent = "cmp"
	PrefixEntry     = "se"
)

// DefaultLength is the number of base36 characters after the prefix.
const DefaultLength = 6

// EncodeBase36 converts a byte slice to a base36 string of specified length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	// Keep least significant digits
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// New returns prefix + "-" + length base36 characters drawn from a random
// UUID. Callers that need uniqueness guarantees retry on a storage conflict.
func New(prefix string, length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	u := uuid.New()
	return prefix + "-" + EncodeBase36(u[:], length)
}

// HasPrefix reports whether id was generated with prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"-")
}
