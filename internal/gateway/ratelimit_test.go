// ABOUTME: Tests for the dual sliding-window rate limiter
// ABOUTME: Uses the injected clock to make window boundaries deterministic

package gateway

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock installs a controllable clock on the limiter.
func fakeClock(rl *RateLimiter) func(d time.Duration) {
	cur := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return cur }
	return func(d time.Duration) { cur = cur.Add(d) }
}

func TestCheckAndRecord_PerSecondCap(t *testing.T) {
	rl := NewRateLimiter(5, 60, time.Minute)
	advance := fakeClock(rl)

	for i := 0; i < 5; i++ {
		if !rl.CheckAndRecord("s1") {
			t.Fatalf("message %d within cap should pass", i+1)
		}
	}
	if rl.CheckAndRecord("s1") {
		t.Fatal("sixth message in the same second should be rejected")
	}

	// After the second window slides past the burst, traffic resumes.
	advance(1100 * time.Millisecond)
	if !rl.CheckAndRecord("s1") {
		t.Fatal("message after window slid should pass")
	}
}

func TestCheckAndRecord_PerMinuteCap(t *testing.T) {
	rl := NewRateLimiter(0, 3, time.Minute)
	advance := fakeClock(rl)

	for i := 0; i < 3; i++ {
		if !rl.CheckAndRecord("s1") {
			t.Fatalf("message %d within cap should pass", i+1)
		}
		advance(2 * time.Second) // spread out so no per-second clustering
	}
	if rl.CheckAndRecord("s1") {
		t.Fatal("fourth message within the minute should be rejected")
	}

	advance(61 * time.Second)
	if !rl.CheckAndRecord("s1") {
		t.Fatal("message after the minute window expired should pass")
	}
}

func TestCheckAndRecord_RollingMinuteWindow(t *testing.T) {
	rl := NewRateLimiter(10, 5, time.Minute)
	advance := fakeClock(rl)

	for i := 0; i < 5; i++ {
		if !rl.CheckAndRecord("s1") {
			t.Fatalf("message %d should pass", i+1)
		}
	}

	// Half a minute later the burst is still inside the rolling window.
	advance(30 * time.Second)
	if rl.CheckAndRecord("s1") {
		t.Fatal("message at t+30s should still be rejected")
	}

	// Once the burst ages out the session recovers without any reset step.
	advance(31 * time.Second)
	if !rl.CheckAndRecord("s1") {
		t.Fatal("message at t+61s should pass")
	}
}

func TestCheckAndRecord_RejectionNotRecorded(t *testing.T) {
	rl := NewRateLimiter(2, 60, time.Minute)
	advance := fakeClock(rl)

	rl.CheckAndRecord("s1")
	rl.CheckAndRecord("s1")
	for i := 0; i < 10; i++ {
		if rl.CheckAndRecord("s1") {
			t.Fatal("over-cap message should be rejected")
		}
	}

	// Rejected attempts must not extend the penalty.
	advance(1100 * time.Millisecond)
	if !rl.CheckAndRecord("s1") {
		t.Fatal("window should have cleared despite rejected attempts")
	}
}

func TestCheckAndRecord_SessionsIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 60, time.Minute)
	fakeClock(rl)

	if !rl.CheckAndRecord("s1") {
		t.Fatal("first message for s1 should pass")
	}
	if rl.CheckAndRecord("s1") {
		t.Fatal("second message for s1 should be rejected")
	}
	if !rl.CheckAndRecord("s2") {
		t.Fatal("first message for s2 should pass regardless of s1")
	}
}

func TestCheckAndRecord_FirstMessageAlwaysPasses(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	fakeClock(rl)

	for i := 0; i < 20; i++ {
		if !rl.CheckAndRecord(fmt.Sprintf("s-%d", i)) {
			t.Fatalf("first message for session %d should pass", i)
		}
	}
}

func TestSweep_DropsIdleSessions(t *testing.T) {
	rl := NewRateLimiter(5, 60, time.Minute)
	advance := fakeClock(rl)

	rl.CheckAndRecord("idle")
	rl.CheckAndRecord("busy")

	advance(2 * time.Minute)
	rl.CheckAndRecord("busy") // refreshes touched

	if removed := rl.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d windows, want 1", removed)
	}
	if n := rl.size(); n != 1 {
		t.Errorf("tracked sessions = %d, want 1", n)
	}

	// A swept session starts fresh.
	if !rl.CheckAndRecord("idle") {
		t.Fatal("message for swept session should pass")
	}
}

// A caller that looked its window up just before a sweep must record into the
// tracked replacement, never into the removed window.
func TestSweep_DoesNotOrphanConcurrentRecord(t *testing.T) {
	rl := NewRateLimiter(5, 60, time.Minute)
	advance := fakeClock(rl)

	rl.CheckAndRecord("s1")
	stale := rl.window("s1") // reference held across the sweep, as a racing caller would

	advance(2 * time.Minute)
	if removed := rl.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d windows, want 1", removed)
	}

	stale.mu.Lock()
	dead := stale.dead
	stale.mu.Unlock()
	if !dead {
		t.Fatal("swept window should be marked dead")
	}

	if !rl.CheckAndRecord("s1") {
		t.Fatal("record after sweep should pass")
	}

	fresh := rl.window("s1")
	if fresh == stale {
		t.Fatal("record landed in the swept window")
	}
	fresh.mu.Lock()
	n := len(fresh.stamps)
	fresh.mu.Unlock()
	if n != 1 {
		t.Errorf("tracked window has %d stamps, want 1", n)
	}
}
