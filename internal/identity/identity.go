// Package identity handles the conversions and validation at the
// boundary between the RPC wire format (32-byte keys) and the storage
// form (64-character lowercase hex), plus the operator-declared primary
// set.
package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/thesimplekid/contact-group-auth/pkg/helpers"
)

// HexLen is the length in characters of a pubkey's canonical hex form.
const HexLen = 64

// ParsePubkeyHex validates that s is a 64-character lowercase hex string
// decoding to a 32-byte value that is a valid secp256k1 x-only point,
// the curve nostr keys live on. Malformed or non-curve input is
// rejected rather than admitted as an identity that can never actually
// sign for itself. Use this at the authenticated-identity boundary:
// resolving an event's author, the auth_pubkey a relay vouches for, and
// the operator's own primary key set.
func ParsePubkeyHex(s string) (string, error) {
	if _, err := parsePubkeyHexFormat(s); err != nil {
		return "", err
	}
	raw, _ := helpers.HexToBytes(s)
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return "", fmt.Errorf("pubkey is not a valid curve point: %w", err)
	}
	return s, nil
}

// ParseFollowedPubkeyHex validates only the hex shape of a pubkey named
// in a third party's "p" tag. Unlike ParsePubkeyHex it does not require
// the value to sit on the curve: nothing here ever needs that identity
// to produce a signature, only to be a stable graph-node key, matching
// how the original relay's contact-list parser treated follow entries
// as opaque identifiers.
func ParseFollowedPubkeyHex(s string) (string, error) {
	return parsePubkeyHexFormat(s)
}

func parsePubkeyHexFormat(s string) (string, error) {
	if len(s) != HexLen {
		return "", fmt.Errorf("pubkey must be %d hex characters, got %d", HexLen, len(s))
	}
	for _, c := range s {
		if !isLowerHex(c) {
			return "", fmt.Errorf("pubkey must be lowercase hex: %q", s)
		}
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid pubkey hex: %w", err)
	}
	return s, nil
}

func isLowerHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// BytesToHex converts a raw 32-byte pubkey (the RPC wire form) to its
// canonical lowercase hex string.
func BytesToHex(b []byte) (string, error) {
	if len(b) != 32 {
		return "", fmt.Errorf("pubkey must be 32 bytes, got %d", len(b))
	}
	return hex.EncodeToString(b), nil
}

// Set is the process-wide, immutable-after-startup primary set: the
// root identities pinned at the highest trust tier.
type Set map[string]struct{}

// NewSet builds a Set from a list of hex pubkeys, validating each one.
// Invalid entries are rejected with an error naming the offending key
// rather than silently dropped: this set is authoritative and operator
// typos here are a configuration bug worth surfacing at startup.
func NewSet(keys []string) (Set, error) {
	s := make(Set, len(keys))
	for _, k := range keys {
		valid, err := ParsePubkeyHex(k)
		if err != nil {
			return nil, fmt.Errorf("invalid primary key %q: %w", k, err)
		}
		s[valid] = struct{}{}
	}
	return s, nil
}

// Contains reports whether p is in the primary set.
func (s Set) Contains(p string) bool {
	_, ok := s[p]
	return ok
}

// AsSet returns a plain copy suitable for passing to graph.Index
// operations that take a generic set.
func (s Set) AsSet() map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
