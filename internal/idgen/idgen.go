// Package idgen generates random identifiers for requests and
// client-assigned transactions.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TransactionPrefix marks client-assigned transaction ids.
const TransactionPrefix = "tx_"

// New generates a random (version 4) UUID string.
func New() string {
	b := random(16)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix followed by 24 random hex chars.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(random(12))
}

// Transaction returns a fresh client transaction id, e.g. "tx_3f9a...".
func Transaction() string {
	return WithPrefix(TransactionPrefix)
}

func random(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}
