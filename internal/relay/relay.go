// Package relay talks to the upstream nostr relay: it fetches kind-3
// contact-list events for a set of pubkeys so the tier engine can seed
// and maintain the follow graph.
package relay

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/thesimplekid/contact-group-auth/internal/identity"
	"github.com/thesimplekid/contact-group-auth/pkg/logging"
)

// Client wraps a single upstream relay connection.
type Client struct {
	relay *nostr.Relay
	log   *logging.Logger
}

// Connect dials the relay at url.
func Connect(ctx context.Context, url string) (*Client, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay %s: %w", url, err)
	}
	return &Client{relay: r, log: logging.GetDefault().Component("relay")}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.relay.Close()
}

// ContactsOf fetches the latest kind-3 contact-list event for each key
// in keys and returns each author's followed-pubkey set. Authors with
// no contact-list event on the relay are simply absent from the result,
// not an error.
func (c *Client) ContactsOf(ctx context.Context, keys map[string]struct{}) (map[string]map[string]struct{}, error) {
	if len(keys) == 0 {
		return map[string]map[string]struct{}{}, nil
	}

	authors := make([]string, 0, len(keys))
	for k := range keys {
		authors = append(authors, k)
	}

	events, err := c.relay.QuerySync(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindFollowList},
		Authors: authors,
	})
	if err != nil {
		return nil, fmt.Errorf("querying contact lists: %w", err)
	}

	latest := make(map[string]*nostr.Event, len(authors))
	for _, ev := range events {
		cur, ok := latest[ev.PubKey]
		if !ok || ev.CreatedAt > cur.CreatedAt {
			latest[ev.PubKey] = ev
		}
	}

	out := make(map[string]map[string]struct{}, len(latest))
	for author, ev := range latest {
		out[author] = identity.ExtractFollowedPubkeys(ev.Tags)
	}

	c.log.Debug("fetched contact lists", "requested", len(authors), "found", len(out))
	return out, nil
}
