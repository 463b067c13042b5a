package network

import (
	"net"
	"sync"
	"time"
)

// Accept limits for downstream listeners.
const (
	DefaultMaxConnPerSec   = 10  // new connections per second per source IP
	DefaultMaxPendingConns = 100 // connections still in handshake or login
)

// rateTracker counts per-IP events within a rolling one second window.
type rateTracker struct {
	mu        sync.Mutex
	counts    map[string]*rateBucket
	maxPerSec int
	now       func() time.Time
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

func newRateTracker(maxPerSec int) *rateTracker {
	return &rateTracker{
		counts:    make(map[string]*rateBucket),
		maxPerSec: maxPerSec,
		now:       time.Now,
	}
}

func (rt *rateTracker) allow(ip string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := rt.now()
	b, exists := rt.counts[ip]
	if !exists || now.Sub(b.windowStart) >= time.Second {
		rt.counts[ip] = &rateBucket{count: 1, windowStart: now}
		rt.prune(now)
		return true
	}

	b.count++
	return b.count <= rt.maxPerSec
}

// prune drops expired windows so the map stays bounded by recent sources.
func (rt *rateTracker) prune(now time.Time) {
	for ip, b := range rt.counts {
		if now.Sub(b.windowStart) >= time.Second {
			delete(rt.counts, ip)
		}
	}
}

func extractIP(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, _ := net.SplitHostPort(addr.String())
	return host
}
