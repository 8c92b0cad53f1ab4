// Package authz is the authorization facade: the single entry point an
// upstream relay calls per event, tying together the graph index, the
// tier engine, and the rate limiter.
package authz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/thesimplekid/contact-group-auth/internal/config"
	"github.com/thesimplekid/contact-group-auth/internal/engine"
	"github.com/thesimplekid/contact-group-auth/internal/graph"
	"github.com/thesimplekid/contact-group-auth/internal/identity"
	"github.com/thesimplekid/contact-group-auth/internal/ratelimit"
	"github.com/thesimplekid/contact-group-auth/internal/tier"
	"github.com/thesimplekid/contact-group-auth/pkg/logging"
)

// Decision is the outcome of an admission check.
type Decision string

const (
	Permit Decision = "permit"
	Deny   Decision = "deny"
)

// Request is everything the facade needs to admit or deny one event.
type Request struct {
	Event      nostr.Event
	AuthPubkey string // optional; empty when the relay has none to offer
}

// Reply is the facade's verdict, including the reason string a denied
// client sees.
type Reply struct {
	CorrelationID string
	Decision      Decision
	Tier          tier.Tier
	Reason        string
}

// Facade ties the Graph Index, tier engine, and rate limiter together
// behind the single Admit entry point an upstream relay calls per
// event.
type Facade struct {
	graph  *graph.Index
	engine *engine.Engine
	config *config.Config
	log    *logging.Logger
}

// New builds a Facade. cfg is held by pointer and read on every Admit
// call, so changes to the Config it points to apply to the next
// request; nothing in this package reloads config.toml.
func New(index *graph.Index, eng *engine.Engine, cfg *config.Config) *Facade {
	return &Facade{
		graph:  index,
		engine: eng,
		config: cfg,
		log:    logging.GetDefault().Component("authz"),
	}
}

// Admit resolves the event's author, checks its tier's rate-limit
// policy, records the event on permit, and, for kind-3 contact-list
// events, synchronously propagates the new follow set through the tier
// engine before replying.
func (f *Facade) Admit(ctx context.Context, req Request) Reply {
	correlationID := uuid.New().String()
	author := req.AuthPubkey
	if author == "" {
		author = req.Event.PubKey
	}

	pubkey, err := identity.ParsePubkeyHex(author)
	if err != nil {
		f.log.Warn("rejecting malformed author pubkey", "correlation_id", correlationID, "err", err)
		return Reply{CorrelationID: correlationID, Decision: Deny, Tier: tier.Other, Reason: ratelimit.ReasonError}
	}

	t, err := f.graph.TierOf(pubkey)
	if err != nil {
		f.log.Error("graph state fault, denying", "correlation_id", correlationID, "pubkey", pubkey, "err", err)
		return Reply{CorrelationID: correlationID, Decision: Deny, Tier: tier.Other, Reason: ratelimit.ReasonError}
	}

	policy := f.config.PolicyFor(int(t)).AsRateLimitPolicy()

	events, err := f.graph.EventsOf(pubkey)
	if err != nil {
		f.log.Error("event history fault, denying", "correlation_id", correlationID, "pubkey", pubkey, "err", err)
		return Reply{CorrelationID: correlationID, Decision: Deny, Tier: t, Reason: ratelimit.ReasonError}
	}

	now := time.Now()
	decision := ratelimit.Decide(policy, events, now)
	if !decision.Permit {
		f.log.Info("denied", "correlation_id", correlationID, "pubkey", pubkey, "tier", t.String(), "reason", decision.Reason)
		return Reply{CorrelationID: correlationID, Decision: Deny, Tier: t, Reason: decision.Reason}
	}

	// The admission wall-clock time is recorded, not the event's own
	// claimed created_at.
	if err := f.graph.AppendEvent(pubkey, now.Unix()); err != nil {
		f.log.Error("failed to record admitted event", "correlation_id", correlationID, "pubkey", pubkey, "err", err)
	}

	if req.Event.Kind == nostr.KindFollowList {
		followed := identity.ExtractFollowedPubkeys(req.Event.Tags)
		if err := f.engine.ApplyContactUpdate(ctx, pubkey, followed); err != nil {
			// A propagation fault doesn't retroactively deny an already
			// rate-limit-permitted event: log loudly, admit anyway.
			f.log.Error("contact update propagation failed, admitting anyway", "correlation_id", correlationID, "pubkey", pubkey, "err", err)
		}
	}

	f.log.Debug("permitted", "correlation_id", correlationID, "pubkey", pubkey, "tier", t.String())
	return Reply{CorrelationID: correlationID, Decision: Permit, Tier: t}
}
