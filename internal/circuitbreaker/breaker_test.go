package circuitbreaker

import (
	"testing"
	"time"
)

func TestClosedAllowsRequests(t *testing.T) {
	b := New(3, time.Second)
	if !b.Allow("whk_a") {
		t.Fatal("unknown key should be allowed")
	}
	if b.State("whk_a") != StateClosed {
		t.Fatal("unknown key should report closed")
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		b.RecordFailure("whk_a")
	}
	if b.State("whk_a") != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State("whk_a"))
	}
	if b.Allow("whk_a") {
		t.Fatal("open circuit should reject requests")
	}
}

func TestHalfOpenProbe(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("whk_a")
	if b.Allow("whk_a") {
		t.Fatal("should be open immediately after trip")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow("whk_a") {
		t.Fatal("expired open circuit should allow a probe")
	}
	if b.State("whk_a") != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State("whk_a"))
	}
	// Second request during probe is rejected
	if b.Allow("whk_a") {
		t.Fatal("half-open should only allow one probe")
	}

	b.RecordSuccess("whk_a")
	if b.State("whk_a") != StateClosed {
		t.Fatalf("successful probe should close circuit, got %s", b.State("whk_a"))
	}
	if !b.Allow("whk_a") {
		t.Fatal("closed circuit should allow requests")
	}
}

func TestFailedProbeReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.RecordFailure("whk_a")
	time.Sleep(15 * time.Millisecond)
	if !b.Allow("whk_a") {
		t.Fatal("expected probe to be allowed")
	}
	b.RecordFailure("whk_a")
	if b.State("whk_a") != StateOpen {
		t.Fatalf("failed probe should reopen, got %s", b.State("whk_a"))
	}
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)
	b.RecordFailure("whk_a")
	if b.Allow("whk_a") {
		t.Fatal("tripped key should be rejected")
	}
	if !b.Allow("whk_b") {
		t.Fatal("untripped key should be allowed")
	}
}
