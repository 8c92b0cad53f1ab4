package engine

import (
	"context"
	"os"
	"testing"

	"github.com/thesimplekid/contact-group-auth/internal/graph"
	"github.com/thesimplekid/contact-group-auth/internal/identity"
	"github.com/thesimplekid/contact-group-auth/internal/store"
	"github.com/thesimplekid/contact-group-auth/internal/tier"
)

// Graph keys for the scenarios below: only the relative trust
// relationships matter, not the literal hex values.
const (
	alice = "799500000000000000000000000000000000000000000000000000000000f9f9"
	bob   = "d81e000000000000000000000000000000000000000000000000000000004203"
	carol = "7c27000000000000000000000000000000000000000000000000000000005dc2"
	dave  = "5b3a000000000000000000000000000000000000000000000000000000003922"
)

func newTestEngine(t *testing.T, primaryKeys ...string) (*Engine, *graph.Index) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "trustgraph-engine-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.New(&store.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	index := graph.New(s)
	primary := make(identity.Set, len(primaryKeys))
	for _, k := range primaryKeys {
		primary[k] = struct{}{}
	}
	return New(index, primary), index
}

func set(items ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

func wantTier(t *testing.T, g *graph.Index, pubkey string, want tier.Tier) {
	t.Helper()
	got, err := g.TierOf(pubkey)
	if err != nil {
		t.Fatalf("TierOf(%s) error = %v", pubkey, err)
	}
	if got != want {
		t.Errorf("TierOf(%s) = %v, want %v", pubkey, got, want)
	}
}

func wantFollows(t *testing.T, g *graph.Index, pubkey string, want map[string]struct{}) {
	t.Helper()
	got, err := g.FollowsOf(pubkey)
	if err != nil {
		t.Fatalf("FollowsOf(%s) error = %v", pubkey, err)
	}
	if len(got) != len(want) {
		t.Fatalf("FollowsOf(%s) = %v, want %v", pubkey, got, want)
	}
	for k := range want {
		if _, ok := got[k]; !ok {
			t.Fatalf("FollowsOf(%s) = %v, want %v", pubkey, got, want)
		}
	}
}

func TestBootstrapPrimaryToSecondary(t *testing.T) {
	e, g := newTestEngine(t, alice)
	ctx := context.Background()

	if err := g.WriteAccount(graph.Account{Pubkey: alice, Tier: tier.Primary}); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, alice, set(bob, carol)); err != nil {
		t.Fatalf("ApplyContactUpdate() error = %v", err)
	}

	wantTier(t, g, bob, tier.Secondary)
	wantTier(t, g, carol, tier.Secondary)
	wantFollows(t, g, alice, set(bob, carol))

	followers, err := g.FollowersOf(bob)
	if err != nil {
		t.Fatalf("FollowersOf() error = %v", err)
	}
	if _, ok := followers[alice]; !ok || len(followers) != 1 {
		t.Fatalf("FollowersOf(bob) = %v, want {alice}", followers)
	}
}

func TestUnfollowDemotesToOther(t *testing.T) {
	e, g := newTestEngine(t, alice)
	ctx := context.Background()

	if err := g.WriteAccount(graph.Account{Pubkey: alice, Tier: tier.Primary}); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, alice, set(bob, carol)); err != nil {
		t.Fatalf("ApplyContactUpdate() error = %v", err)
	}

	if err := e.ApplyContactUpdate(ctx, alice, set(bob)); err != nil {
		t.Fatalf("ApplyContactUpdate() (unfollow) error = %v", err)
	}

	wantTier(t, g, bob, tier.Secondary)
	wantTier(t, g, carol, tier.Other)
	wantFollows(t, g, alice, set(bob))

	followersOfCarol, err := g.FollowersOf(carol)
	if err != nil {
		t.Fatalf("FollowersOf() error = %v", err)
	}
	if len(followersOfCarol) != 0 {
		t.Fatalf("FollowersOf(carol) = %v, want none", followersOfCarol)
	}
}

func TestRefollowRestoresTier(t *testing.T) {
	e, g := newTestEngine(t, alice)
	ctx := context.Background()

	if err := g.WriteAccount(graph.Account{Pubkey: alice, Tier: tier.Primary}); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, alice, set(bob, carol)); err != nil {
		t.Fatalf("ApplyContactUpdate() error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, alice, set(bob)); err != nil {
		t.Fatalf("ApplyContactUpdate() (unfollow) error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, alice, set(bob, carol)); err != nil {
		t.Fatalf("ApplyContactUpdate() (refollow) error = %v", err)
	}

	wantTier(t, g, carol, tier.Secondary)
}

func TestTwoHopPropagation(t *testing.T) {
	e, g := newTestEngine(t, alice)
	ctx := context.Background()

	if err := g.WriteAccount(graph.Account{Pubkey: alice, Tier: tier.Primary}); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, alice, set(bob, carol)); err != nil {
		t.Fatalf("ApplyContactUpdate() error = %v", err)
	}

	if err := e.ApplyContactUpdate(ctx, bob, set(dave)); err != nil {
		t.Fatalf("ApplyContactUpdate(bob) error = %v", err)
	}

	wantTier(t, g, dave, tier.Tertiary)
}

func TestTwoHopUnfollowDemotesDeeperHop(t *testing.T) {
	e, g := newTestEngine(t, alice)
	ctx := context.Background()

	if err := g.WriteAccount(graph.Account{Pubkey: alice, Tier: tier.Primary}); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, alice, set(bob, carol)); err != nil {
		t.Fatalf("ApplyContactUpdate() error = %v", err)
	}
	if err := e.ApplyContactUpdate(ctx, bob, set(dave)); err != nil {
		t.Fatalf("ApplyContactUpdate(bob) error = %v", err)
	}

	// alice drops bob, keeping only carol.
	if err := e.ApplyContactUpdate(ctx, alice, set(carol)); err != nil {
		t.Fatalf("ApplyContactUpdate(alice drop bob) error = %v", err)
	}

	wantTier(t, g, bob, tier.Other)
	wantTier(t, g, dave, tier.Other)
}

// Identities in the primary set stay pinned at Primary regardless of
// the hint Recompute is called with.
func TestRecomputePinsPrimarySet(t *testing.T) {
	e, g := newTestEngine(t, alice)
	if err := e.Recompute(context.Background(), alice, tier.Other); err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	wantTier(t, g, alice, tier.Primary)
}

// A contact update for an identity with no account record is silently
// ignored.
func TestApplyContactUpdateIgnoresUnknownAccount(t *testing.T) {
	e, g := newTestEngine(t)
	if err := e.ApplyContactUpdate(context.Background(), alice, set(bob)); err != nil {
		t.Fatalf("ApplyContactUpdate() error = %v, want nil (silently ignored)", err)
	}
	follows, err := g.FollowsOf(alice)
	if err != nil {
		t.Fatalf("FollowsOf() error = %v", err)
	}
	if len(follows) != 0 {
		t.Fatalf("FollowsOf(alice) = %v, want none (update ignored)", follows)
	}
}

func TestApplyContactUpdateYieldsExactFollowSet(t *testing.T) {
	e, g := newTestEngine(t, alice)
	if err := g.WriteAccount(graph.Account{Pubkey: alice, Tier: tier.Primary}); err != nil {
		t.Fatalf("WriteAccount() error = %v", err)
	}
	if err := e.ApplyContactUpdate(context.Background(), alice, set(bob, carol, dave)); err != nil {
		t.Fatalf("ApplyContactUpdate() error = %v", err)
	}
	wantFollows(t, g, alice, set(bob, carol, dave))

	if err := e.ApplyContactUpdate(context.Background(), alice, set(carol)); err != nil {
		t.Fatalf("ApplyContactUpdate() (shrink) error = %v", err)
	}
	wantFollows(t, g, alice, set(carol))
}

func TestSeedAssignsOutToQuaternary(t *testing.T) {
	e, g := newTestEngine(t, alice)
	ctx := context.Background()

	contacts := map[string]map[string]struct{}{
		alice: set(bob),
		bob:   set(carol),
		carol: set(dave),
	}

	err := e.Seed(ctx, func(_ context.Context, keys map[string]struct{}) (map[string]map[string]struct{}, error) {
		out := make(map[string]map[string]struct{})
		for k := range keys {
			if c, ok := contacts[k]; ok {
				out[k] = c
			}
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	wantTier(t, g, alice, tier.Primary)
	wantTier(t, g, bob, tier.Secondary)
	wantTier(t, g, carol, tier.Tertiary)
	wantTier(t, g, dave, tier.Quaternary)
}

func TestSeedNoopWithEmptyPrimarySet(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.Seed(context.Background(), func(_ context.Context, keys map[string]struct{}) (map[string]map[string]struct{}, error) {
		t.Fatal("contactsOf should not be called with an empty primary set")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
}
