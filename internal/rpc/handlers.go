package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/thesimplekid/contact-group-auth/internal/authz"
	"github.com/thesimplekid/contact-group-auth/internal/identity"
	"github.com/thesimplekid/contact-group-auth/internal/tier"
)

// EventAdmitParams is the event_admit request body.
type EventAdmitParams struct {
	Event      nostr.Event `json:"event"`
	AuthPubkey string      `json:"auth_pubkey,omitempty"`
}

// EventAdmitResult is the event_admit response body.
type EventAdmitResult struct {
	CorrelationID string `json:"correlation_id"`
	Decision      string `json:"decision"`
	Tier          string `json:"tier"`
	Message       string `json:"message,omitempty"`
}

func (s *Server) eventAdmit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p EventAdmitParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid event_admit params: %w", err)
	}

	reply := s.facade.Admit(ctx, authz.Request{Event: p.Event, AuthPubkey: p.AuthPubkey})

	result := EventAdmitResult{
		CorrelationID: reply.CorrelationID,
		Decision:      string(reply.Decision),
		Tier:          reply.Tier.String(),
		Message:       reply.Reason,
	}

	if s.decisionsHub != nil {
		s.decisionsHub.Broadcast(DecisionEvent{
			CorrelationID: reply.CorrelationID,
			Pubkey:        p.Event.PubKey,
			Tier:          reply.Tier.String(),
			Decision:      string(reply.Decision),
			Reason:        reply.Reason,
		})
	}

	return result, nil
}

// AdminDumpAccountsResult is a single row of the admin_dumpAccounts
// debug listing.
type AdminDumpAccountsResult struct {
	Pubkey string `json:"pubkey"`
	Tier   string `json:"tier"`
}

func (s *Server) adminDumpAccounts(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var out []AdminDumpAccountsResult
	err := s.graph.IterateAccounts(func(pubkey string, t tier.Tier) error {
		out = append(out, AdminDumpAccountsResult{Pubkey: pubkey, Tier: t.String()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dumping accounts: %w", err)
	}
	return out, nil
}

// AdminTierOfParams is the admin_tierOf request body.
type AdminTierOfParams struct {
	Pubkey string `json:"pubkey"`
}

// AdminTierOfResult is the admin_tierOf response body.
type AdminTierOfResult struct {
	Pubkey string `json:"pubkey"`
	Tier   string `json:"tier"`
}

func (s *Server) adminTierOf(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AdminTierOfParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid admin_tierOf params: %w", err)
	}

	pubkey, err := identity.ParsePubkeyHex(p.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid pubkey: %w", err)
	}

	t, err := s.graph.TierOf(pubkey)
	if err != nil {
		return nil, fmt.Errorf("looking up tier: %w", err)
	}

	return AdminTierOfResult{Pubkey: pubkey, Tier: t.String()}, nil
}
