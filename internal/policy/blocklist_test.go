package policy

import (
	"testing"
	"time"
)

func TestBlocklistExpires(t *testing.T) {
	b := NewBlocklist()
	now := time.Now()

	b.Block("10.0.0.1", time.Minute, now)
	if !b.Blocked("10.0.0.1", now.Add(30*time.Second)) {
		t.Fatalf("expected address blocked")
	}
	if b.Blocked("10.0.0.2", now) {
		t.Fatalf("expected other address allowed")
	}
	if b.Blocked("10.0.0.1", now.Add(time.Minute)) {
		t.Fatalf("expected block expired")
	}
	if b.Len() != 0 {
		t.Fatalf("expected expired entry removed, got %d", b.Len())
	}
}

func TestBlocklistKeepsLongerBan(t *testing.T) {
	b := NewBlocklist()
	now := time.Now()

	b.Block("10.0.0.1", time.Hour, now)
	b.Block("10.0.0.1", time.Minute, now)
	if !b.Blocked("10.0.0.1", now.Add(30*time.Minute)) {
		t.Fatalf("expected longer ban kept")
	}
}

func TestBlocklistIgnoresEmpty(t *testing.T) {
	b := NewBlocklist()
	now := time.Now()

	b.Block("", time.Minute, now)
	b.Block("10.0.0.1", 0, now)
	if b.Len() != 0 {
		t.Fatalf("expected no entries, got %d", b.Len())
	}
}
