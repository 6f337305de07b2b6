// Package ratelimit provides token bucket rate limiting for HTTP requests and
// websocket events.
package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	lastUpdate time.Time
	rate       float64
	burst      int
	tokens     float64
	requests   int64
	rejected   int64
	mu         sync.Mutex
}

// New creates a limiter allowing rate events per second with the given burst.
func New(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow reports whether one more event fits in the bucket and consumes it.
func (l *Limiter) Allow() bool {
	return l.allowAt(time.Now())
}

func (l *Limiter) allowAt(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests++

	elapsed := now.Sub(l.lastUpdate).Seconds()
	if elapsed > 0 {
		l.tokens = min(l.tokens+elapsed*l.rate, float64(l.burst))
		l.lastUpdate = now
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}

	l.rejected++
	return false
}

// Stats holds limiter counters.
type Stats struct {
	Rate          float64 `json:"rate"`
	Burst         int     `json:"burst"`
	ActiveClients int     `json:"active_clients,omitempty"`
	Requests      int64   `json:"total_requests"`
	Rejected      int64   `json:"total_rejected"`
}

// Stats returns the limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Rate: l.rate, Burst: l.burst, Requests: l.requests, Rejected: l.rejected}
}

// PerClient keeps an independent Limiter per client key.
type PerClient struct {
	lastCleanup     time.Time
	clients         map[string]*Limiter
	rate            float64
	burst           int
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	mu              sync.Mutex
}

// NewPerClient creates a per-client limiter.
func NewPerClient(rate float64, burst int) *PerClient {
	return &PerClient{
		rate:            rate,
		burst:           burst,
		clients:         make(map[string]*Limiter),
		cleanupInterval: 5 * time.Minute,
		maxIdleTime:     10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

func (p *PerClient) limiter(key string) *Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastCleanup) > p.cleanupInterval {
		p.cleanupLocked()
	}

	l, ok := p.clients[key]
	if !ok {
		l = New(p.rate, p.burst)
		p.clients[key] = l
	}
	return l
}

// cleanupLocked drops idle limiters. Caller must hold p.mu.
func (p *PerClient) cleanupLocked() {
	now := time.Now()
	for key, l := range p.clients {
		l.mu.Lock()
		idle := now.Sub(l.lastUpdate) > p.maxIdleTime
		l.mu.Unlock()
		if idle {
			delete(p.clients, key)
		}
	}
	p.lastCleanup = now
}

// Allow reports whether the client identified by key may proceed.
func (p *PerClient) Allow(key string) bool {
	return p.limiter(key).Allow()
}

// Forget drops a client's limiter, e.g. when its connection closes.
func (p *PerClient) Forget(key string) {
	p.mu.Lock()
	delete(p.clients, key)
	p.mu.Unlock()
}

// Stats aggregates counters across clients.
func (p *PerClient) Stats() Stats {
	p.mu.Lock()
	s := Stats{Rate: p.rate, Burst: p.burst, ActiveClients: len(p.clients)}
	limiters := make([]*Limiter, 0, len(p.clients))
	for _, l := range p.clients {
		limiters = append(limiters, l)
	}
	p.mu.Unlock()

	for _, l := range limiters {
		l.mu.Lock()
		s.Requests += l.requests
		s.Rejected += l.rejected
		l.mu.Unlock()
	}
	return s
}

// Middleware rejects requests over the per-client limit with 429.
// Clients are keyed by X-Real-IP (set by chi's RealIP middleware) or RemoteAddr.
func Middleware(p *PerClient) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if ip := r.Header.Get("X-Real-IP"); ip != "" {
				key = ip
			}
			if !p.Allow(key) {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
