// Package address normalizes hex chain addresses to their EIP-55 checksum form.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

var ErrInvalid = errors.New("invalid address")

// Checksum returns the mixed-case checksum encoding of a 20 byte hex address.
// Input is accepted in any case, with or without the 0x prefix.
func Checksum(addr string) (string, error) {
	raw := strings.TrimSpace(addr)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(raw) != 40 {
		return "", fmt.Errorf("%w: %q", ErrInvalid, addr)
	}
	lower := strings.ToLower(raw)
	if _, err := hex.DecodeString(lower); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalid, addr)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			nibble := digest[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c -= 'a' - 'A'
			}
		}
		out = append(out, c)
	}
	return string(out), nil
}

// Equal reports whether two addresses refer to the same account.
func Equal(a, b string) bool {
	ca, err := Checksum(a)
	if err != nil {
		return false
	}
	cb, err := Checksum(b)
	if err != nil {
		return false
	}
	return ca == cb
}
