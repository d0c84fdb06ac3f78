// Package idgen mints and validates the opaque owner identifiers used to
// attribute links to a local user.
package idgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator generates unique identifiers.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate() (uuid.UUID, error)
}

type v4Gen struct{}

// NewV4 returns a Generator that produces random UUID v4 values.
func NewV4() Generator { return v4Gen{} }

func (v4Gen) Generate() (uuid.UUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("uuid v4 generation failed: %w", err)
	}
	return id, nil
}

// Parse validates s as a UUID in the 36-character dashed form and returns it
// in lowercase. Surrounding whitespace is ignored; urn, braced and undashed
// forms are rejected.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("identifier cannot be empty")
	}
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return "", fmt.Errorf("malformed identifier %q: want xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("malformed identifier %q: %w", s, err)
	}
	return id.String(), nil
}
