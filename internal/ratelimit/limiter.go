// Package ratelimit enforces the per-minute request cap and the per-query
// tool-call and agent-loop budgets.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// MaxRequestsPerMinute caps requests in a rolling one-minute window.
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`
	// MaxToolCallsPerQuery caps tool invocations within a single query.
	MaxToolCallsPerQuery int `yaml:"max_tool_calls_per_query"`
	// MaxAgentLoops caps reasoning-loop iterations within a single query.
	MaxAgentLoops int `yaml:"max_agent_loops"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: 20,
		MaxToolCallsPerQuery: 50,
		MaxAgentLoops:        50,
	}
}

const window = time.Minute

// Limiter tracks the rolling one-minute request window shared by all
// conversations and mints per-query budgets for the tool-call and loop
// counters. The window is the only state concurrent queries share;
// exhausting one counter never blocks the others.
type Limiter struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time

	requests []time.Time // timestamps inside the rolling window
}

// NewLimiter creates a new limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	if config.MaxRequestsPerMinute <= 0 {
		config.MaxRequestsPerMinute = DefaultConfig().MaxRequestsPerMinute
	}
	if config.MaxToolCallsPerQuery <= 0 {
		config.MaxToolCallsPerQuery = DefaultConfig().MaxToolCallsPerQuery
	}
	if config.MaxAgentLoops <= 0 {
		config.MaxAgentLoops = DefaultConfig().MaxAgentLoops
	}
	return &Limiter{config: config, now: time.Now}
}

// prune drops timestamps older than the window (must hold l.mu).
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.requests = l.requests[i:]
	}
}

// CanProceed reports whether a new request fits in the rolling window.
func (l *Limiter) CanProceed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.requests) < l.config.MaxRequestsPerMinute
}

// RecordRequest counts a request against the rolling window.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	l.requests = append(l.requests, now)
}

// CurrentRequestCount returns the number of requests inside the window.
func (l *Limiter) CurrentRequestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.requests)
}

// RemainingRequests returns how many requests fit before the window cap.
func (l *Limiter) RemainingRequests() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	remaining := l.config.MaxRequestsPerMinute - len(l.requests)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeUntilNextRequest returns how long until the oldest counted request
// exits the window. Zero when below the cap.
func (l *Limiter) TimeUntilNextRequest() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.requests) < l.config.MaxRequestsPerMinute {
		return 0
	}
	wait := l.requests[0].Add(window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// QueryBudget holds the tool-call and loop counters for one in-flight
// query. Each query gets its own budget, so a new query on one
// conversation never resets the counters of another conversation's
// in-flight query.
type QueryBudget struct {
	mu           sync.Mutex
	toolCalls    int
	loops        int
	maxToolCalls int
	maxLoops     int
}

// NewQueryBudget mints a fresh budget from the configured per-query caps.
func (l *Limiter) NewQueryBudget() *QueryBudget {
	return &QueryBudget{
		maxToolCalls: l.config.MaxToolCallsPerQuery,
		maxLoops:     l.config.MaxAgentLoops,
	}
}

// CanMakeToolCall checks the tool-call budget and consumes one slot when
// available.
func (b *QueryBudget) CanMakeToolCall() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.toolCalls >= b.maxToolCalls {
		return false
	}
	b.toolCalls++
	return true
}

// CanContinueAgentLoop checks the loop budget and consumes one iteration
// when available.
func (b *QueryBudget) CanContinueAgentLoop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loops >= b.maxLoops {
		return false
	}
	b.loops++
	return true
}

// Status is a read-only snapshot for UI feedback. The tool-call and loop
// fields reflect the budget passed to GetStatus, zero when no query is
// active.
type Status struct {
	RequestCount      int           `json:"request_count"`
	RemainingRequests int           `json:"remaining_requests"`
	ToolCallsUsed     int           `json:"tool_calls_used"`
	LoopsUsed         int           `json:"loops_used"`
	WaitTime          time.Duration `json:"wait_time"`
}

// GetStatus returns the current limiter state. budget may be nil when no
// query is in flight.
func (l *Limiter) GetStatus(budget *QueryBudget) Status {
	l.mu.Lock()
	now := l.now()
	l.prune(now)

	var wait time.Duration
	if len(l.requests) >= l.config.MaxRequestsPerMinute {
		wait = l.requests[0].Add(window).Sub(now)
		if wait < 0 {
			wait = 0
		}
	}
	remaining := l.config.MaxRequestsPerMinute - len(l.requests)
	if remaining < 0 {
		remaining = 0
	}
	status := Status{
		RequestCount:      len(l.requests),
		RemainingRequests: remaining,
		WaitTime:          wait,
	}
	l.mu.Unlock()

	if budget != nil {
		budget.mu.Lock()
		status.ToolCallsUsed = budget.toolCalls
		status.LoopsUsed = budget.loops
		budget.mu.Unlock()
	}
	return status
}
