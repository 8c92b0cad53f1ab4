package identity

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ExtractFollowedPubkeys reads a kind-3 contact list's followed set:
// every distinct hex pubkey named by a "p" tag. Tags that are too short
// or whose pubkey doesn't parse are dropped silently; a malformed tag
// from a relay peer isn't worth rejecting the whole contact list over.
func ExtractFollowedPubkeys(tags nostr.Tags) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		pubkey, err := ParseFollowedPubkeyHex(tag[1])
		if err != nil {
			continue
		}
		out[pubkey] = struct{}{}
	}
	return out
}

// OperatorKey is the service's own nostr identity. The daemon resolves
// it at startup and logs its npub; no code path signs with it.
type OperatorKey struct {
	PrivateKeyHex string
	PublicKeyHex  string
	Npub          string
}

// LoadOrGenerateOperatorKey resolves the operator key: raw hex or
// bech32 nsec accepted, a fresh key generated when raw is empty.
// The caller is responsible for logging the derived npub; an operator
// who doesn't persist a generated key gets a new identity on every
// restart, which is surprising enough to call out at the log site
// rather than bury here.
func LoadOrGenerateOperatorKey(raw string) (OperatorKey, error) {
	sk := raw
	if sk == "" {
		sk = nostr.GeneratePrivateKey()
	} else if prefix, value, err := nip19.Decode(raw); err == nil {
		if prefix != "nsec" {
			return OperatorKey{}, fmt.Errorf("nostr_key bech32 prefix must be nsec, got %q", prefix)
		}
		decoded, ok := value.(string)
		if !ok {
			return OperatorKey{}, fmt.Errorf("nostr_key nsec did not decode to a string")
		}
		sk = decoded
	}

	pub, err := nostr.GetPublicKey(sk)
	if err != nil {
		return OperatorKey{}, fmt.Errorf("deriving operator public key: %w", err)
	}

	npub, err := nip19.EncodePublicKey(pub)
	if err != nil {
		return OperatorKey{}, fmt.Errorf("encoding operator npub: %w", err)
	}

	return OperatorKey{PrivateKeyHex: sk, PublicKeyHex: pub, Npub: npub}, nil
}
