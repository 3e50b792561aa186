// Package nonce mints opaque identifier strings used to correlate
// requests with responses and to name newly registered receivers.
package nonce

import (
	uuid "github.com/satori/go.uuid"
)

// New returns a fresh opaque identifier carrying at least 120 bits of
// randomness. A version-4 UUID supplies 122 random bits, comfortably
// over that floor, and collides with negligible probability.
func New() string {
	return uuid.NewV4().String()
}
