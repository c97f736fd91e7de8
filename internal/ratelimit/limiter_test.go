package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fixedClock lets tests advance time manually.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(config Config) (*Limiter, *fixedClock) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(config)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_RequestWindow(t *testing.T) {
	l, clock := newTestLimiter(Config{MaxRequestsPerMinute: 3, MaxToolCallsPerQuery: 50, MaxAgentLoops: 50})

	for i := 0; i < 3; i++ {
		if !l.CanProceed() {
			t.Fatalf("request %d should be allowed", i)
		}
		l.RecordRequest()
	}

	if l.CanProceed() {
		t.Error("request past the cap should be denied")
	}
	if got := l.RemainingRequests(); got != 0 {
		t.Errorf("RemainingRequests = %d, want 0", got)
	}

	// Once the oldest request ages past 60s the window opens again.
	clock.Advance(61 * time.Second)
	if !l.CanProceed() {
		t.Error("request should be allowed after window expires")
	}
	if got := l.CurrentRequestCount(); got != 0 {
		t.Errorf("CurrentRequestCount = %d after expiry, want 0", got)
	}
}

func TestLimiter_TimeUntilNextRequest(t *testing.T) {
	l, clock := newTestLimiter(Config{MaxRequestsPerMinute: 2, MaxToolCallsPerQuery: 50, MaxAgentLoops: 50})

	if got := l.TimeUntilNextRequest(); got != 0 {
		t.Errorf("wait below cap = %v, want 0", got)
	}

	l.RecordRequest()
	clock.Advance(10 * time.Second)
	l.RecordRequest()

	// At cap: wait until the oldest request exits the window (50s left).
	if got := l.TimeUntilNextRequest(); got != 50*time.Second {
		t.Errorf("TimeUntilNextRequest = %v, want 50s", got)
	}
}

func TestQueryBudget_ToolCalls(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequestsPerMinute: 20, MaxToolCallsPerQuery: 2, MaxAgentLoops: 50})
	b := l.NewQueryBudget()

	if !b.CanMakeToolCall() || !b.CanMakeToolCall() {
		t.Fatal("tool calls within budget should be allowed")
	}
	if b.CanMakeToolCall() {
		t.Error("tool call past the budget should be denied")
	}

	// Loop counter is independent of the exhausted tool-call counter.
	if !b.CanContinueAgentLoop() {
		t.Error("loop counter should be unaffected by tool-call exhaustion")
	}
}

func TestQueryBudget_IndependentPerQuery(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequestsPerMinute: 20, MaxToolCallsPerQuery: 1, MaxAgentLoops: 1})

	first := l.NewQueryBudget()
	first.CanMakeToolCall()
	first.CanContinueAgentLoop()
	if first.CanMakeToolCall() || first.CanContinueAgentLoop() {
		t.Fatal("first budget should be exhausted")
	}

	// A budget minted for a new query starts fresh and leaves the
	// exhausted one untouched.
	second := l.NewQueryBudget()
	if !second.CanMakeToolCall() {
		t.Error("fresh budget should allow a tool call")
	}
	if !second.CanContinueAgentLoop() {
		t.Error("fresh budget should allow a loop iteration")
	}
	if first.CanMakeToolCall() {
		t.Error("exhausted budget must stay exhausted")
	}
}

func TestQueryBudget_ConcurrentToolCalls(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequestsPerMinute: 20, MaxToolCallsPerQuery: 50, MaxAgentLoops: 50})
	b := l.NewQueryBudget()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.CanMakeToolCall() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed %d concurrent tool calls, want exactly 50", allowed)
	}
}

func TestLimiter_Status(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequestsPerMinute: 2, MaxToolCallsPerQuery: 50, MaxAgentLoops: 50})

	l.RecordRequest()
	budget := l.NewQueryBudget()
	budget.CanMakeToolCall()

	status := l.GetStatus(budget)
	if status.RequestCount != 1 {
		t.Errorf("RequestCount = %d, want 1", status.RequestCount)
	}
	if status.RemainingRequests != 1 {
		t.Errorf("RemainingRequests = %d, want 1", status.RemainingRequests)
	}
	if status.ToolCallsUsed != 1 {
		t.Errorf("ToolCallsUsed = %d, want 1", status.ToolCallsUsed)
	}
	if status.WaitTime != 0 {
		t.Errorf("WaitTime = %v below cap, want 0", status.WaitTime)
	}
}
