// Package sluggen provides short-code generation.
// Generators should be safe for concurrent use.
package sluggen

import (
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// DefaultLength is the code length used by the shortener.
	DefaultLength = 6

	// Bytes at or above this value are rejected so every character of the
	// alphabet is drawn with equal probability (248 = 4 * 62).
	rejectAbove = 256 - 256%len(base62Chars)
)

// Generator generates short codes.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

// base62Generator draws codes from crypto/rand over the 62-char alphanumeric alphabet.
type base62Generator struct{}

// NewBase62 returns a new base62 code generator.
func NewBase62() Generator {
	return &base62Generator{}
}

// Generate generates a random base62 string of the specified length.
func (g *base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, base62Chars[int(b)%len(base62Chars)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
