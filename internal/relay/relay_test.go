package relay

import (
	"context"
	"testing"
)

func TestContactsOfEmptyKeysSkipsQuery(t *testing.T) {
	c := &Client{}
	out, err := c.ContactsOf(context.Background(), map[string]struct{}{})
	if err != nil {
		t.Fatalf("ContactsOf() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("ContactsOf(empty) = %v, want empty", out)
	}
}
