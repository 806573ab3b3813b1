package util

import (
	"encoding/hex"
	"testing"
	"time"
)

func TestNewIDShapeAndOrder(t *testing.T) {
	id := NewID()
	if len(id) != 24 {
		t.Fatalf("expected 24 chars, got %d (%q)", len(id), id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Fatalf("expected hex id, got %q: %v", id, err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := newIDAt(base)
	later := newIDAt(base.Add(time.Millisecond))
	if earlier[:12] == later[:12] || earlier >= later {
		t.Fatalf("ids must sort by time: %s !< %s", earlier, later)
	}
	if a, b := newIDAt(base), newIDAt(base); a == b {
		t.Fatalf("ids at the same millisecond must still differ: %s", a)
	}
}
