// Package pubkey provides truncated pubkey strings (ShortString) used as
// low-cardinality time-series tag values, and a non-panicking base58
// parser (Parse).
package pubkey

import "github.com/gagliardetto/solana-go"

// TagLen is the number of leading base58 characters kept for a
// low-cardinality tag value.
const TagLen = 8

// ShortString truncates a base58-encoded Solana public key to the first
// TagLen characters, enough to keep tag cardinality manageable while
// staying visually distinguishable across validators.
func ShortString(key solana.PublicKey) string {
	s := key.String()
	if len(s) <= TagLen {
		return s
	}
	return s[:TagLen]
}

// Parse parses a base58 string into a solana.PublicKey, returning the zero
// key and an error on malformed input rather than panicking (unlike
// solana.MustPublicKeyFromBase58).
func Parse(s string) (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(s)
}
