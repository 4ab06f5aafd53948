package capture

import (
	"fmt"
	"testing"
	"time"
)

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func TestGuardIdenticalBurstWithinOneSecond(t *testing.T) {
	g := NewGuard(1, 1, 100, time.Minute)
	g.now = fixedClock(time.Unix(1000, 0), 10*time.Millisecond)

	accepted := 0
	for i := 0; i < 100; i++ {
		if g.Allow("p1", "GET", "https://api.example.com/users") == Accepted {
			accepted++
		}
	}
	if accepted == 0 || accepted >= 100 {
		t.Fatalf("expected a rate-limited subset, accepted %d", accepted)
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted identical call, got %d", accepted)
	}
}

func TestGuardThrottlesDistinctCalls(t *testing.T) {
	g := NewGuard(1, 1, 1000, time.Minute)
	g.now = fixedClock(time.Unix(1000, 0), 10*time.Millisecond)

	verdicts := map[Verdict]int{}
	for i := 0; i < 100; i++ {
		verdicts[g.Allow("p1", "GET", fmt.Sprintf("https://api.example.com/items/%d", i))]++
	}
	if verdicts[Accepted] > 2 {
		t.Fatalf("expected at most 2 accepted in ~1s at 1/s, got %d", verdicts[Accepted])
	}
	if verdicts[Throttled] == 0 {
		t.Fatalf("expected throttled calls")
	}
	if verdicts[Duplicate] != 0 {
		t.Fatalf("distinct calls must not be duplicates")
	}
}

func TestGuardIsPerProxy(t *testing.T) {
	g := NewGuard(1, 1, 100, time.Minute)
	g.now = fixedClock(time.Unix(1000, 0), 0)

	if v := g.Allow("p1", "GET", "https://a.test/x"); v != Accepted {
		t.Fatalf("expected accepted, got %v", v)
	}
	if v := g.Allow("p2", "GET", "https://a.test/x"); v != Accepted {
		t.Fatalf("other proxy should have its own bucket, got %v", v)
	}
	if v := g.Allow("p1", "POST", "https://a.test/y"); v != Throttled {
		t.Fatalf("expected throttled, got %v", v)
	}
	g.Forget("p1")
	if v := g.Allow("p1", "POST", "https://a.test/y"); v != Accepted {
		t.Fatalf("forgotten proxy should start with a fresh bucket, got %v", v)
	}
}
