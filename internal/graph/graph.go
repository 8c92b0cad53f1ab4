// Package graph is a thin, typed facade over the embedded store,
// exposing the account/follows/followers/events tables as set-valued
// operations. It knows about tiers; the store package does not.
package graph

import (
	"fmt"

	"github.com/thesimplekid/contact-group-auth/internal/store"
	"github.com/thesimplekid/contact-group-auth/internal/tier"
)

// Account is a persisted {pubkey, tier} record.
type Account struct {
	Pubkey string
	Tier   tier.Tier
}

// Index exposes the trust graph's tables as typed operations, each one
// opening exactly one store transaction.
type Index struct {
	store *store.Store
}

// New wraps a Store with the typed graph operations.
func New(s *store.Store) *Index {
	return &Index{store: s}
}

// ReadAccount returns the account record for p, or ok=false if none
// exists. The Other substitution for absent records is the caller's
// job, so callers can distinguish "no record" from "tier pinned at
// Other".
func (g *Index) ReadAccount(p string) (Account, bool, error) {
	var acc Account
	var found bool
	err := g.store.View(func(r *store.ReadTx) error {
		rank, ok, err := r.GetAccount(p)
		if err != nil {
			return err
		}
		if ok {
			acc = Account{Pubkey: p, Tier: tier.FromRank(rank)}
			found = true
		}
		return nil
	})
	return acc, found, err
}

// TierOf returns the effective tier for p, substituting Other when no
// account record exists.
func (g *Index) TierOf(p string) (tier.Tier, error) {
	acc, ok, err := g.ReadAccount(p)
	if err != nil {
		return tier.Other, err
	}
	if !ok {
		return tier.Other, nil
	}
	return acc.Tier, nil
}

// WriteAccount upserts a.
func (g *Index) WriteAccount(a Account) error {
	return g.store.Update(func(w *store.WriteTx) error {
		return w.PutAccount(a.Pubkey, int(a.Tier))
	})
}

// SetTier upserts t for every identity in s, atomically in one
// transaction.
func (g *Index) SetTier(s map[string]struct{}, t tier.Tier) error {
	if len(s) == 0 {
		return nil
	}
	return g.store.Update(func(w *store.WriteTx) error {
		for p := range s {
			if err := w.PutAccount(p, int(t)); err != nil {
				return err
			}
		}
		return nil
	})
}

// FollowsOf returns the set of identities p follows.
func (g *Index) FollowsOf(p string) (map[string]struct{}, error) {
	return g.values(store.Follows, p)
}

// FollowersOf returns the set of identities that follow p.
func (g *Index) FollowersOf(p string) (map[string]struct{}, error) {
	return g.values(store.Followers, p)
}

func (g *Index) values(table store.Table, key string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := g.store.View(func(r *store.ReadTx) error {
		values, err := r.Values(table, key)
		if err != nil {
			return err
		}
		for _, v := range values {
			out[v] = struct{}{}
		}
		return nil
	})
	return out, err
}

// AddEdges records p -> c for every c in set, in both the follows and
// followers multimaps within a single transaction, so the forward and
// reverse edge sets can never diverge. Self-loops are filtered
// silently.
func (g *Index) AddEdges(p string, set map[string]struct{}) error {
	if len(set) == 0 {
		return nil
	}
	return g.store.Update(func(w *store.WriteTx) error {
		for c := range set {
			if c == p {
				continue
			}
			if err := w.Insert(store.Follows, p, c); err != nil {
				return err
			}
			if err := w.Insert(store.Followers, c, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveEdges is the inverse of AddEdges.
func (g *Index) RemoveEdges(p string, set map[string]struct{}) error {
	if len(set) == 0 {
		return nil
	}
	return g.store.Update(func(w *store.WriteTx) error {
		for c := range set {
			if err := w.Remove(store.Follows, p, c); err != nil {
				return err
			}
			if err := w.Remove(store.Followers, c, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// retainWindow is how far back event timestamps stay useful: the rate
// limiter's largest window is 24 hours, so anything older can go.
const retainWindow = 86400

// AppendEvent records an admission timestamp for p, lazily pruning
// timestamps that have aged out of every rate-limit window.
func (g *Index) AppendEvent(p string, ts int64) error {
	return g.store.Update(func(w *store.WriteTx) error {
		if err := w.PruneEvents(p, ts-retainWindow); err != nil {
			return err
		}
		return w.InsertEvent(p, ts)
	})
}

// EventsOf returns every timestamp recorded for p.
func (g *Index) EventsOf(p string) ([]int64, error) {
	var out []int64
	err := g.store.View(func(r *store.ReadTx) error {
		var err error
		out, err = r.Events(p)
		return err
	})
	return out, err
}

// ClearGraph empties the account, follows and followers tables.
func (g *Index) ClearGraph() error {
	return g.store.ClearGraph()
}

// IterateAccounts walks every account record in key order.
func (g *Index) IterateAccounts(fn func(pubkey string, t tier.Tier) error) error {
	return g.store.IterateAccounts(func(pubkey string, rank int) error {
		return fn(pubkey, tier.FromRank(rank))
	})
}

// FollowerTiers returns the current tier of every follower of p, reading
// each account record in the same snapshot. Missing records are Other.
func (g *Index) FollowerTiers(p string) (map[string]tier.Tier, error) {
	out := make(map[string]tier.Tier)
	err := g.store.View(func(r *store.ReadTx) error {
		followers, err := r.Values(store.Followers, p)
		if err != nil {
			return fmt.Errorf("follower tiers: %w", err)
		}
		for _, f := range followers {
			rank, ok, err := r.GetAccount(f)
			if err != nil {
				return err
			}
			if ok {
				out[f] = tier.FromRank(rank)
			} else {
				out[f] = tier.Other
			}
		}
		return nil
	})
	return out, err
}
