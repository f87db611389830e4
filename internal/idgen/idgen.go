// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// codeAlphabet omits ambiguous characters (0/O, 1/I/L) so transaction codes
// survive being read over the phone to bank staff.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// WithPrefix generates a random ID with a prefix (e.g. "txn_", "pay_", "dsp_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Code generates a human-readable reference of n characters from the
// unambiguous alphabet, with a prefix (e.g. Code("TXN-", 10)).
func Code(prefix string, n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return prefix + string(out)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
