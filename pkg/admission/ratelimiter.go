// Package admission gates every request before expensive pipeline work:
// a per-client sliding-window rate limiter with a concurrent-burst bound,
// and a process resource monitor that fails closed on overload.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RateLimitError reports an admission rejection with retry guidance.
type RateLimitError struct {
	WindowSeconds int
	MaxRequests   int
	RetryAfter    time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %ds window", e.MaxRequests, e.WindowSeconds)
}

// OverloadError reports a fail-closed rejection due to resource pressure.
type OverloadError struct {
	Reason string
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("system overloaded: %s", e.Reason)
}

// Metrics is a point-in-time snapshot of a client's limiter state.
type Metrics struct {
	RequestsInWindow  int `json:"requestsInWindow"`
	ActiveRequests    int `json:"activeRequests"`
	RemainingRequests int `json:"remainingRequests"`
	RemainingBurst    int `json:"remainingBurst"`
}

type clientState struct {
	stamps   []time.Time         // request times inside the window, oldest first
	active   map[string]struct{} // in-flight request IDs (burst slots)
	lastSeen time.Time
}

// Limiter enforces a sliding request window plus a concurrent-burst bound per
// client. When a Redis client is supplied the window check is distributed
// across instances via a sorted set; the burst bound is always local since it
// tracks this process's in-flight requests. Redis errors degrade to the local
// window rather than rejecting traffic.
type Limiter struct {
	window      time.Duration
	maxRequests int
	burst       int
	rdb         *redis.Client

	mu      sync.Mutex
	clients map[string]*clientState
	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a limiter. rdb may be nil for purely local operation.
func NewLimiter(window time.Duration, maxRequests, burst int, rdb *redis.Client) *Limiter {
	return &Limiter{
		window:      window,
		maxRequests: maxRequests,
		burst:       burst,
		rdb:         rdb,
		clients:     make(map[string]*clientState),
		now:         time.Now,
	}
}

// Check records an admission attempt. It returns a *RateLimitError when
// either the window or the burst bound is exceeded; on success the request
// holds a burst slot until Complete is called.
func (l *Limiter) Check(ctx context.Context, clientID, requestID string) error {
	if l.rdb != nil {
		if err := l.checkDistributed(ctx, clientID); err != nil {
			return err
		}
		return l.acquireBurst(clientID, requestID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	st := l.state(clientID, now)
	l.prune(st, now)

	if len(st.stamps) >= l.maxRequests {
		return &RateLimitError{
			WindowSeconds: int(l.window.Seconds()),
			MaxRequests:   l.maxRequests,
			RetryAfter:    st.stamps[0].Add(l.window).Sub(now),
		}
	}
	if len(st.active) >= l.burst {
		return &RateLimitError{WindowSeconds: 1, MaxRequests: l.burst, RetryAfter: time.Second}
	}
	st.stamps = append(st.stamps, now)
	st.active[requestID] = struct{}{}
	return nil
}

// Complete releases the burst slot for a request. Safe to call on every exit
// path including requests that were never admitted.
func (l *Limiter) Complete(clientID, requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.clients[clientID]; ok {
		delete(st.active, requestID)
	}
}

// ClientMetrics returns the current window/burst usage for a client.
func (l *Limiter) ClientMetrics(clientID string) Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.clients[clientID]
	if !ok {
		return Metrics{RemainingRequests: l.maxRequests, RemainingBurst: l.burst}
	}
	l.prune(st, l.now())
	return Metrics{
		RequestsInWindow:  len(st.stamps),
		ActiveRequests:    len(st.active),
		RemainingRequests: l.maxRequests - len(st.stamps),
		RemainingBurst:    l.burst - len(st.active),
	}
}

func (l *Limiter) acquireBurst(clientID, requestID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(clientID, l.now())
	if len(st.active) >= l.burst {
		return &RateLimitError{WindowSeconds: 1, MaxRequests: l.burst, RetryAfter: time.Second}
	}
	st.active[requestID] = struct{}{}
	return nil
}

// checkDistributed runs the sliding-window check against Redis using an
// atomic Lua script over a sorted set of request timestamps.
func (l *Limiter) checkDistributed(ctx context.Context, clientID string) error {
	const script = `
		local key = KEYS[1]
		local now = tonumber(ARGV[1])
		local window_start = tonumber(ARGV[2])
		local capacity = tonumber(ARGV[3])
		local window_ms = tonumber(ARGV[4])

		redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
		local count = redis.call('ZCARD', key)
		if count < capacity then
			redis.call('ZADD', key, now, now .. ':' .. redis.call('INCR', key .. ':seq'))
			redis.call('PEXPIRE', key, window_ms + 1000)
			return 1
		end
		return 0
	`
	now := l.now()
	res, err := l.rdb.Eval(ctx, script, []string{"sentra:rl:" + clientID},
		float64(now.UnixMicro())/1e6,
		float64(now.Add(-l.window).UnixMicro())/1e6,
		l.maxRequests,
		l.window.Milliseconds(),
	).Result()
	if err != nil {
		// Redis down: fall back to the local window so availability wins.
		l.mu.Lock()
		st := l.state(clientID, now)
		l.prune(st, now)
		over := len(st.stamps) >= l.maxRequests
		if !over {
			st.stamps = append(st.stamps, now)
		}
		l.mu.Unlock()
		if over {
			return &RateLimitError{WindowSeconds: int(l.window.Seconds()), MaxRequests: l.maxRequests, RetryAfter: l.window}
		}
		return nil
	}
	if allowed, _ := res.(int64); allowed != 1 {
		return &RateLimitError{WindowSeconds: int(l.window.Seconds()), MaxRequests: l.maxRequests, RetryAfter: l.window}
	}
	return nil
}

// state returns (creating if needed) the per-client record. Caller holds mu.
func (l *Limiter) state(clientID string, now time.Time) *clientState {
	st, ok := l.clients[clientID]
	if !ok {
		// Opportunistic cleanup keeps the map bounded without a sweeper goroutine.
		if len(l.clients) > 4096 {
			for id, s := range l.clients {
				if now.Sub(s.lastSeen) > 2*l.window && len(s.active) == 0 {
					delete(l.clients, id)
				}
			}
		}
		st = &clientState{active: make(map[string]struct{})}
		l.clients[clientID] = st
	}
	st.lastSeen = now
	return st
}

// prune drops timestamps that left the window. Caller holds mu.
func (l *Limiter) prune(st *clientState, now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(st.stamps) && st.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		st.stamps = append(st.stamps[:0], st.stamps[i:]...)
	}
}
