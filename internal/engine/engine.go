// Package engine implements tier propagation: the rules that keep an
// identity's trust tier consistent with its position in the follow
// graph as edges appear and disappear.
package engine

import (
	"context"

	"github.com/thesimplekid/contact-group-auth/internal/graph"
	"github.com/thesimplekid/contact-group-auth/internal/identity"
	"github.com/thesimplekid/contact-group-auth/internal/tier"
	"github.com/thesimplekid/contact-group-auth/pkg/logging"
)

// Engine recomputes tiers as the follow graph changes. It holds no
// mutable state of its own beyond the immutable primary set; all state
// lives in the Graph Index.
type Engine struct {
	graph   *graph.Index
	primary identity.Set
	log     *logging.Logger
}

// New builds a tier engine over index, pinned to the given primary set.
func New(index *graph.Index, primary identity.Set) *Engine {
	return &Engine{
		graph:   index,
		primary: primary,
		log:     logging.GetDefault().Component("engine"),
	}
}

// Recompute reassigns p's tier from its followers' current tiers. hint
// is the tier floor the caller believes p should reach from the edge
// that triggered this call. The result is the more trusted of hint and
// one step below p's best follower (Other when p has no followers), so
// it never falls below the hint.
func (e *Engine) Recompute(ctx context.Context, p string, hint tier.Tier) error {
	if e.primary.Contains(p) {
		return e.graph.WriteAccount(graph.Account{Pubkey: p, Tier: tier.Primary})
	}

	followerTiers, err := e.graph.FollowerTiers(p)
	if err != nil {
		return err
	}

	best := tier.Other
	for _, t := range followerTiers {
		best = tier.Min(best, t)
	}

	candidate := tier.Demote(best)
	newTier := tier.Min(hint, candidate)

	return e.graph.WriteAccount(graph.Account{Pubkey: p, Tier: newTier})
}

// ApplyContactUpdate reconciles u's follow set with newSet and runs a
// bounded two-hop sweep over whatever changed. Each hop demotes the
// propagated hint (for a Primary u: Secondary, then Tertiary). The sweep
// stops after the second hop and never recurses; identities further out
// are not recomputed by this update.
//
// If u has no account record yet, the update is silently ignored: an
// identity must have a tier before its follows can propagate.
func (e *Engine) ApplyContactUpdate(ctx context.Context, u string, newSet map[string]struct{}) error {
	_, ok, err := e.graph.ReadAccount(u)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Debug("ignoring contact update for unknown account", "pubkey", u)
		return nil
	}

	cur, err := e.graph.FollowsOf(u)
	if err != nil {
		return err
	}

	added := difference(newSet, cur)
	removed := difference(cur, newSet)

	if err := e.graph.AddEdges(u, added); err != nil {
		return err
	}
	if err := e.graph.RemoveEdges(u, removed); err != nil {
		return err
	}

	uTier, err := e.graph.TierOf(u)
	if err != nil {
		return err
	}
	followHint := tier.Demote(uTier)
	dropHint := tier.Other

	for v := range added {
		if err := e.Recompute(ctx, v, followHint); err != nil {
			return err
		}
		if err := e.sweepFollowees(ctx, v, tier.Demote(followHint)); err != nil {
			return err
		}
	}

	for v := range removed {
		if err := e.Recompute(ctx, v, dropHint); err != nil {
			return err
		}
		if err := e.sweepFollowees(ctx, v, tier.Demote(dropHint)); err != nil {
			return err
		}
	}

	return nil
}

// sweepFollowees recomputes every identity v follows with the given
// hint: the second hop of the bounded sweep.
func (e *Engine) sweepFollowees(ctx context.Context, v string, hint tier.Tier) error {
	followees, err := e.graph.FollowsOf(v)
	if err != nil {
		return err
	}
	for w := range followees {
		if err := e.Recompute(ctx, w, hint); err != nil {
			return err
		}
	}
	return nil
}

// Seed runs the initialization sweep: the primary set is pinned, then
// contacts are fetched and tiers assigned out to the third hop
// (Quaternary) inclusive, persisting edges at every level. Identities
// beyond the third hop stay at Other until they gain a follower of
// better tier.
//
// contactsOf is the upstream relay collaborator: given a set of pubkeys
// it returns each one's current followee set. Seed never calls it from
// inside a store transaction; every fetch completes before the next
// batch of edges is written.
func (e *Engine) Seed(ctx context.Context, contactsOf func(ctx context.Context, keys map[string]struct{}) (map[string]map[string]struct{}, error)) error {
	if len(e.primary) == 0 {
		return nil
	}

	primarySet := e.primary.AsSet()
	if err := e.graph.SetTier(primarySet, tier.Primary); err != nil {
		return err
	}

	hops := []tier.Tier{tier.Secondary, tier.Tertiary, tier.Quaternary}
	frontier := primarySet
	seen := union(primarySet)

	for _, hopTier := range hops {
		contacts, err := contactsOf(ctx, frontier)
		if err != nil {
			return err
		}

		nextFrontier := make(map[string]struct{})
		for author, follows := range contacts {
			if err := e.graph.AddEdges(author, follows); err != nil {
				return err
			}
			for f := range follows {
				if _, already := seen[f]; !already {
					nextFrontier[f] = struct{}{}
				}
			}
		}

		if len(nextFrontier) == 0 {
			break
		}
		if err := e.graph.SetTier(nextFrontier, hopTier); err != nil {
			return err
		}
		for f := range nextFrontier {
			seen[f] = struct{}{}
		}
		e.log.Info("seeded tier", "tier", hopTier.String(), "count", len(nextFrontier))
		frontier = nextFrontier
	}

	return nil
}

func difference(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func union(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}
