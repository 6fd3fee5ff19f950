package rate

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(at time.Time) (*Limiter, *time.Time) {
	current := at
	l := New(WithClock(func() time.Time { return current }))
	return l, &current
}

func TestCheckAndConsumeBudget(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))

	for i := 0; i < 3; i++ {
		d := l.CheckAndConsume("user-1", 3, time.Minute)
		if !d.Allowed {
			t.Fatalf("request %d must be allowed", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, 3-(i+1), d.Remaining)
		}
	}

	d := l.CheckAndConsume("user-1", 3, time.Minute)
	if d.Allowed {
		t.Fatal("fourth request must be denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("denied decision must report 0 remaining, got %d", d.Remaining)
	}
}

func TestWindowResetsAfterBoundary(t *testing.T) {
	l, current := newTestLimiter(time.Unix(1700000000, 0))

	for i := 0; i < 3; i++ {
		l.CheckAndConsume("user-1", 3, time.Minute)
	}
	if d := l.CheckAndConsume("user-1", 3, time.Minute); d.Allowed {
		t.Fatal("budget must be exhausted")
	}

	*current = current.Add(time.Minute + time.Second)
	d := l.CheckAndConsume("user-1", 3, time.Minute)
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("new window must start fresh, got %+v", d)
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))

	for i := 0; i < 5; i++ {
		l.CheckAndConsume("user-1", 5, time.Hour)
	}
	if d := l.CheckAndConsume("user-1", 5, time.Hour); d.Allowed {
		t.Fatal("user-1 must be exhausted")
	}
	if d := l.CheckAndConsume("user-2", 5, time.Hour); !d.Allowed {
		t.Fatal("user-2 must not be affected by user-1")
	}
}

func TestResetClearsIdentifier(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))

	for i := 0; i < 3; i++ {
		l.CheckAndConsume("user-1", 3, time.Minute)
	}
	l.Reset("user-1")

	if got := l.Peek("user-1", time.Minute); got != 0 {
		t.Fatalf("expected empty window after reset, got %d", got)
	}
	if d := l.CheckAndConsume("user-1", 3, time.Minute); !d.Allowed {
		t.Fatal("request after reset must be allowed")
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))

	l.CheckAndConsume("user-1", 3, time.Minute)
	if got := l.Peek("user-1", time.Minute); got != 1 {
		t.Fatalf("expected count 1, got %d", got)
	}
	if got := l.Peek("user-1", time.Minute); got != 1 {
		t.Fatalf("peek must not consume, got %d", got)
	}
}

func TestDegenerateParametersAllow(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1700000000, 0))

	if d := l.CheckAndConsume("user-1", 0, time.Minute); !d.Allowed {
		t.Fatal("zero budget must be treated as unlimited")
	}
	if d := l.CheckAndConsume("user-1", 3, 0); !d.Allowed {
		t.Fatal("zero window must be treated as unlimited")
	}
}

func TestSweepPurgesExpiredWindows(t *testing.T) {
	current := time.Unix(1700000000, 0)
	l := New(
		WithClock(func() time.Time { return current }),
		WithSweepInterval(time.Minute),
	)

	for i := 0; i < 100; i++ {
		l.CheckAndConsume("user-"+strconv.Itoa(i), 5, time.Minute)
	}

	current = current.Add(5 * time.Minute)
	// The sweep is opportunistic and per shard; re-touching the same
	// identifiers guarantees every shard holding a stale window is visited.
	for i := 0; i < 100; i++ {
		l.CheckAndConsume("user-"+strconv.Itoa(i), 5, time.Minute)
	}

	total := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		total += len(sh.windows)
		sh.mu.Unlock()
	}
	if total != 100 {
		t.Fatalf("expired windows were not purged, %d live windows", total)
	}
}

func TestConcurrentConsumeNeverOverAdmits(t *testing.T) {
	l := New()
	const budget = 50
	const workers = 8
	const perWorker = 20

	var allowed int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if l.CheckAndConsume("shared", budget, time.Hour).Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed > budget {
		t.Fatalf("over-admitted: %d allowed with budget %d", allowed, budget)
	}
}
