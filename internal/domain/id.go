package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// TransferIDBytes is the entropy behind every transfer id (256 bits).
const TransferIDBytes = 32

// IDGenerator mints transfer identifiers: 64 lower-case hex characters.
type IDGenerator struct {
	source io.Reader
}

// NewIDGenerator reads from crypto/rand.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{source: rand.Reader}
}

// NewIDGeneratorFrom reads from the given source. Tests only.
func NewIDGeneratorFrom(source io.Reader) *IDGenerator {
	return &IDGenerator{source: source}
}

// NewID returns a fresh identifier. An unreadable entropy source is an
// environment failure, never a domain error.
func (g *IDGenerator) NewID() (string, error) {
	buf := make([]byte, TransferIDBytes)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("%w: entropy source: %w", ErrEnvironmentFailure, err)
	}
	return hex.EncodeToString(buf), nil
}
