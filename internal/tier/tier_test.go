package tier

import "testing"

func TestDemoteIsMonotonicAndFixedAtOther(t *testing.T) {
	cases := []struct {
		in   Tier
		want Tier
	}{
		{Primary, Secondary},
		{Secondary, Tertiary},
		{Tertiary, Quaternary},
		{Quaternary, Other},
		{Other, Other},
	}
	for _, c := range cases {
		if got := Demote(c.in); got != c.want {
			t.Errorf("Demote(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestMin(t *testing.T) {
	if Min(Primary, Secondary) != Primary {
		t.Error("Min should prefer the more trusted (lower-rank) tier")
	}
	if Min(Other, Quaternary) != Quaternary {
		t.Error("Min should prefer Quaternary over Other")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, want := range []Tier{Primary, Secondary, Tertiary, Quaternary, Other} {
		got, err := Parse(want.String())
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", want.String(), err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %v, want %v", want.String(), got, want)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("legendary"); err == nil {
		t.Error("expected error for unknown tier name")
	}
}

func TestFromRankClampsToOther(t *testing.T) {
	if FromRank(-1) != Other {
		t.Error("negative rank should clamp to Other")
	}
	if FromRank(99) != Other {
		t.Error("out-of-range rank should clamp to Other")
	}
	if FromRank(int(Tertiary)) != Tertiary {
		t.Error("in-range rank should round-trip")
	}
}
