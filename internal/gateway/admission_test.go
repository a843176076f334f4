// ABOUTME: Tests for the connection admission controller
// ABOUTME: Covers per-session and global caps and counter integrity under concurrency

package gateway

import (
	"fmt"
	"sync"
	"testing"
)

func TestTryAdmit_PerSessionLimit(t *testing.T) {
	a := NewAdmissionController(1, 100)

	if res := a.TryAdmit("u1"); !res.Accepted {
		t.Fatalf("first admit rejected: %+v", res)
	}
	res := a.TryAdmit("u1")
	if res.Accepted {
		t.Fatal("second admit for same session should be rejected")
	}
	if res.Reason != ReasonPerSessionLimit {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonPerSessionLimit)
	}

	// A different session is unaffected.
	if res := a.TryAdmit("u2"); !res.Accepted {
		t.Fatalf("admit for other session rejected: %+v", res)
	}

	global, sum := a.Counts()
	if global != 2 || sum != 2 {
		t.Errorf("counts = %d/%d, want 2/2", global, sum)
	}
}

func TestTryAdmit_GlobalLimit(t *testing.T) {
	a := NewAdmissionController(10, 2)

	a.TryAdmit("a")
	a.TryAdmit("b")
	res := a.TryAdmit("c")
	if res.Accepted {
		t.Fatal("admit beyond global cap should be rejected")
	}
	if res.Reason != ReasonGlobalLimit {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonGlobalLimit)
	}
}

func TestTryAdmit_RejectionMutatesNothing(t *testing.T) {
	a := NewAdmissionController(1, 100)
	a.TryAdmit("u1")

	for i := 0; i < 5; i++ {
		a.TryAdmit("u1")
	}

	global, sum := a.Counts()
	if global != 1 || sum != 1 {
		t.Errorf("counts after rejections = %d/%d, want 1/1", global, sum)
	}
}

func TestRelease_FreesSlot(t *testing.T) {
	a := NewAdmissionController(1, 100)

	a.TryAdmit("u1")
	a.Release("u1")
	if res := a.TryAdmit("u1"); !res.Accepted {
		t.Fatal("admit after release should succeed")
	}
}

func TestRelease_NeverGoesNegative(t *testing.T) {
	a := NewAdmissionController(2, 100)

	a.Release("ghost")
	a.TryAdmit("u1")
	a.Release("u1")
	a.Release("u1") // double release from a duplicated cleanup path

	global, sum := a.Counts()
	if global != 0 || sum != 0 {
		t.Errorf("counts = %d/%d, want 0/0", global, sum)
	}

	// The slot accounting is still coherent.
	if res := a.TryAdmit("u1"); !res.Accepted {
		t.Fatal("admit after double release should succeed")
	}
	if res := a.TryAdmit("u1"); !res.Accepted {
		t.Fatal("second admit within cap should succeed")
	}
	if res := a.TryAdmit("u1"); res.Accepted {
		t.Fatal("third admit should hit the per-session cap")
	}
}

func TestAdmission_ConcurrentCountsStayConsistent(t *testing.T) {
	const sessions = 50
	const maxGlobal = 30
	a := NewAdmissionController(1, maxGlobal)

	var wg sync.WaitGroup
	admitted := make([]bool, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			admitted[i] = a.TryAdmit(fmt.Sprintf("s-%d", i)).Accepted
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, ok := range admitted {
		if ok {
			accepted++
		}
	}
	if accepted != maxGlobal {
		t.Errorf("accepted = %d, want %d", accepted, maxGlobal)
	}

	global, sum := a.Counts()
	if global != sum {
		t.Errorf("global %d != per-session sum %d", global, sum)
	}
	if global != maxGlobal {
		t.Errorf("global = %d, want %d", global, maxGlobal)
	}

	for i := 0; i < sessions; i++ {
		if admitted[i] {
			a.Release(fmt.Sprintf("s-%d", i))
		}
	}
	global, sum = a.Counts()
	if global != 0 || sum != 0 {
		t.Errorf("counts after full release = %d/%d, want 0/0", global, sum)
	}
}
