package ratelimit

import (
	"testing"
	"time"
)

func intPtr(i int) *int { return &i }

func TestDecideDeniesWhenCanPublishFalse(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	got := Decide(Policy{CanPublish: false}, nil, now)
	if got.Permit || got.Reason != ReasonNotAllowed {
		t.Errorf("Decide() = %+v, want deny %q", got, ReasonNotAllowed)
	}
}

func TestDecideUnlimitedWhenCapsNil(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	events := make([]int64, 0, 1000)
	for i := int64(0); i < 1000; i++ {
		events = append(events, now.Unix())
	}
	got := Decide(Policy{CanPublish: true}, events, now)
	if !got.Permit {
		t.Errorf("Decide() = %+v, want permit", got)
	}
}

func TestDecideOrderIsDayBeforeHour(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	// Three events in the last hour, over both caps, so if hour were
	// checked first it would report the hour reason instead.
	events := []int64{now.Unix(), now.Unix(), now.Unix()}
	policy := Policy{CanPublish: true, PerDay: intPtr(1), PerHour: intPtr(1)}
	got := Decide(policy, events, now)
	if got.Permit || got.Reason != ReasonDayExhausted {
		t.Errorf("Decide() = %+v, want deny %q", got, ReasonDayExhausted)
	}
}

func TestDecideHourExhaustedWhenDayWithinCap(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	events := []int64{now.Unix(), now.Unix()}
	policy := Policy{CanPublish: true, PerDay: intPtr(10), PerHour: intPtr(1)}
	got := Decide(policy, events, now)
	if got.Permit || got.Reason != ReasonHourExhausted {
		t.Errorf("Decide() = %+v, want deny %q", got, ReasonHourExhausted)
	}
}

func TestDecideIsStrictlyGreaterThan(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	events := []int64{now.Unix(), now.Unix()}
	policy := Policy{CanPublish: true, PerDay: intPtr(2), PerHour: intPtr(2)}
	got := Decide(policy, events, now)
	if !got.Permit {
		t.Errorf("Decide() = %+v, want permit when count == cap", got)
	}
}

func TestDecideIgnoresEventsOutsideWindow(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	old := now.Add(-48 * time.Hour).Unix()
	events := []int64{old, old, old}
	policy := Policy{CanPublish: true, PerDay: intPtr(1), PerHour: intPtr(1)}
	got := Decide(policy, events, now)
	if !got.Permit {
		t.Errorf("Decide() = %+v, want permit with only stale events", got)
	}
}

func TestDecideCountsEventAtExactWindowBoundary(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	boundary := now.Add(-dayWindow).Unix()
	events := []int64{boundary}
	policy := Policy{CanPublish: true, PerDay: intPtr(0)}
	got := Decide(policy, events, now)
	if got.Permit {
		t.Errorf("Decide() = %+v, want deny: boundary timestamp counts as within window", got)
	}
}
