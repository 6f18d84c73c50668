// Package shortcode generates and validates the public identifiers used in
// /s/{code} and /img/{code} paths.
package shortcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// alphabet is the full lowercase alphanumeric set. Codes are never manually
// transcribed, so no characters are excluded for ambiguity.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length of generated codes. 36^8 is roughly 2.8e12 combinations, far beyond
// anything an attacker can enumerate and enough to keep collisions rare.
const Length = 8

// Codes between MinLength and MaxLength are accepted by the public endpoints;
// anything else is rejected before touching the store.
const (
	MinLength = 6
	MaxLength = 10
)

// Generate draws a code of Length characters from the alphabet using
// crypto/rand. Predictable codes would let an attacker guess tracking links,
// so math/rand is not an option here.
func Generate() (string, error) {
	code := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}

// IsValid reports whether code has an acceptable length and contains only
// alphabet characters.
func IsValid(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
