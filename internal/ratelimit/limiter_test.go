package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when told to, making refill deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(rpm int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(rpm)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_ExactCapacityThenReject(t *testing.T) {
	const rpm = 10
	l, _ := newTestLimiter(rpm)

	for i := 0; i < rpm; i++ {
		d := l.Allow("key-a", nil)
		if !d.Allowed {
			t.Fatalf("check %d rejected, want all %d admitted", i, rpm)
		}
		if d.Remaining != rpm-1-i {
			t.Errorf("check %d remaining = %d, want %d", i, d.Remaining, rpm-1-i)
		}
	}

	d := l.Allow("key-a", nil)
	if d.Allowed {
		t.Fatalf("check %d admitted, want rejection after bucket drained", rpm)
	}
	if d.RetryAfter <= 0 {
		t.Error("rejection must carry a positive retry-after hint")
	}
	// Empty bucket at 10 rpm regenerates one token in 6s.
	if want := 6 * time.Second; d.RetryAfter != want {
		t.Errorf("RetryAfter = %v, want %v", d.RetryAfter, want)
	}
}

func TestLimiter_OneTokenRegenerates(t *testing.T) {
	const rpm = 10
	l, clock := newTestLimiter(rpm)

	for i := 0; i < rpm; i++ {
		l.Allow("key-a", nil)
	}
	if d := l.Allow("key-a", nil); d.Allowed {
		t.Fatal("bucket should be empty")
	}

	// Enough time for exactly one token.
	clock.Advance(6 * time.Second)

	if d := l.Allow("key-a", nil); !d.Allowed {
		t.Fatal("one token should have regenerated")
	}
	if d := l.Allow("key-a", nil); d.Allowed {
		t.Fatal("only one token should have regenerated")
	}
}

func TestLimiter_RefillClampsToCapacity(t *testing.T) {
	const rpm = 5
	l, clock := newTestLimiter(rpm)

	l.Allow("key-a", nil)

	// A long idle period must not accumulate more than capacity.
	clock.Advance(time.Hour)

	admitted := 0
	for i := 0; i < rpm*2; i++ {
		if l.Allow("key-a", nil).Allowed {
			admitted++
		}
	}
	if admitted != rpm {
		t.Errorf("admitted %d after long idle, want %d (clamped to capacity)", admitted, rpm)
	}
}

func TestLimiter_ClockSkewNeverDrains(t *testing.T) {
	const rpm = 10
	l, clock := newTestLimiter(rpm)

	l.Allow("key-a", nil)
	remaining := l.Allow("key-a", nil).Remaining

	// Clock moves backwards; tokens must not decrease from refill math.
	clock.Advance(-time.Minute)

	d := l.Allow("key-a", nil)
	if !d.Allowed {
		t.Fatal("check under clock skew should still spend an available token")
	}
	if d.Remaining != remaining-1 {
		t.Errorf("remaining = %d, want %d (no refill, one spent)", d.Remaining, remaining-1)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	const rpm = 3
	l, _ := newTestLimiter(rpm)

	for i := 0; i < rpm; i++ {
		l.Allow("key-a", nil)
	}
	if d := l.Allow("key-a", nil); d.Allowed {
		t.Fatal("key-a should be exhausted")
	}

	if d := l.Allow("key-b", nil); !d.Allowed {
		t.Error("exhausting key-a must not affect key-b")
	}
}

func TestLimiter_PerKeyOverride(t *testing.T) {
	l, _ := newTestLimiter(60)

	override := 2
	if d := l.Allow("key-a", &override); !d.Allowed || d.Limit != 2 {
		t.Fatalf("Allow() = %+v, want allowed with limit 2", d)
	}
	l.Allow("key-a", &override)

	if d := l.Allow("key-a", &override); d.Allowed {
		t.Error("override of 2 rpm should exhaust after two checks")
	}

	// Zero/negative overrides fall back to the default.
	zero := 0
	if d := l.Allow("key-b", &zero); d.Limit != 60 {
		t.Errorf("Limit with zero override = %d, want 60", d.Limit)
	}
}

func TestLimiter_NoDoubleSpendUnderConcurrency(t *testing.T) {
	const rpm = 50
	l, _ := newTestLimiter(rpm)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < rpm*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("key-a", nil).Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != rpm {
		t.Errorf("admitted %d under concurrency, want exactly %d", admitted, rpm)
	}
}
