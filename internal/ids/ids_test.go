package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := NewAt(base)
	b := NewAt(base)
	c := NewAt(base.Add(time.Second))
	if !(a < b && b < c) {
		t.Fatalf("ids not ordered: %s %s %s", a, b, c)
	}
}

func TestValid(t *testing.T) {
	if !Valid(New()) {
		t.Fatal("expected generated id to be valid")
	}
	for _, bad := range []string{"", "  ", "not-an-id", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		if Valid(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
