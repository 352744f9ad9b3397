package server

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxConnectionsPerIP    = 64
	connectionsPerSecondIP = 10.0
	connectionBurstIP      = 20
)

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

// ConnectionLimits guards the upgrade path: a global cap on concurrent
// connections, a per-IP cap, and a per-IP token-bucket rate on new
// connections.
type ConnectionLimits struct {
	current atomic.Int64
	max     int64

	mu        sync.Mutex
	perIP     map[string]int
	limiters  map[string]*rateLimiterEntry
	cleanupAt time.Time
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimits creates a limiter with the given global maximum.
func NewConnectionLimits(globalMax int64) *ConnectionLimits {
	return &ConnectionLimits{
		max:       globalMax,
		perIP:     make(map[string]int),
		limiters:  make(map[string]*rateLimiterEntry),
		cleanupAt: time.Now().Add(5 * time.Minute),
	}
}

// Acquire attempts to admit a connection from ip. On rejection it returns
// false and the limit that tripped.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allowRate(ip) {
		return false, LimitReasonRate
	}

	for {
		current := l.current.Load()
		if current >= l.max {
			return false, LimitReasonGlobal
		}
		if l.current.CompareAndSwap(current, current+1) {
			break
		}
	}

	l.mu.Lock()
	if l.perIP[ip] >= maxConnectionsPerIP {
		l.mu.Unlock()
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	l.perIP[ip]++
	l.mu.Unlock()

	return true, ""
}

// Release returns the slots held by a connection from ip.
func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	if count := l.perIP[ip]; count > 0 {
		l.perIP[ip] = count - 1
		if l.perIP[ip] == 0 {
			delete(l.perIP, ip)
		}
	}
	l.mu.Unlock()
	l.current.Add(-1)
}

// Current returns the number of admitted connections.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) allowRate(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Now().After(l.cleanupAt) {
		l.cleanupStale()
		l.cleanupAt = time.Now().Add(5 * time.Minute)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(connectionsPerSecondIP), connectionBurstIP),
		}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// cleanupStale drops limiters idle for 10 minutes. Caller holds mu.
func (l *ConnectionLimits) cleanupStale() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}
