// Package ratelimit applies a per-client-IP token bucket in front of the
// dispatcher, so a single noisy or hostile source cannot monopolize the
// worker pool or the upstream forwarder.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the limiter. A zero QueriesPerSecond disables limiting
// entirely: Allow always returns true.
type Config struct {
	QueriesPerSecond float64
	BurstSize        int
	CleanupInterval  time.Duration
}

// DefaultConfig mirrors the defaults used by the rest of the DNS ecosystem
// for a recursive/forwarding resolver exposed to untrusted clients.
func DefaultConfig() Config {
	return Config{
		QueriesPerSecond: 100,
		BurstSize:        200,
		CleanupInterval:  5 * time.Minute,
	}
}

// Limiter is a per-client-IP token bucket rate limiter. Its per-IP limiter
// map is cleared periodically by a background goroutine rather than on the
// Allow hot path, so a burst of traffic never pays for the clear itself.
type Limiter struct {
	mu            sync.Mutex
	limitersByIP  map[string]*rate.Limiter
	queriesPerSec rate.Limit
	burstSize     int
	exemptNets    []*net.IPNet
	disabled      bool

	stopCleanup chan struct{}
	cleanupDone sync.WaitGroup
}

// New creates a Limiter from cfg and starts its background cleanup sweep.
func New(cfg Config) *Limiter {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l := &Limiter{
		limitersByIP:  make(map[string]*rate.Limiter),
		queriesPerSec: rate.Limit(cfg.QueriesPerSecond),
		burstSize:     cfg.BurstSize,
		disabled:      cfg.QueriesPerSecond <= 0,
		stopCleanup:   make(chan struct{}),
	}
	l.cleanupDone.Add(1)
	go l.cleanupLoop(interval)
	return l
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	close(l.stopCleanup)
	l.cleanupDone.Wait()
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	defer l.cleanupDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			l.limitersByIP = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		case <-l.stopCleanup:
			return
		}
	}
}

// Allow reports whether a query from ip should proceed.
func (l *Limiter) Allow(ip net.IP) bool {
	if l.disabled || l.isExempt(ip) {
		return true
	}

	key := ip.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limitersByIP[key]
	if !ok {
		limiter = rate.NewLimiter(l.queriesPerSec, l.burstSize)
		l.limitersByIP[key] = limiter
	}
	return limiter.Allow()
}

// AddExempt excludes an IP or CIDR range from rate limiting entirely.
func (l *Limiter) AddExempt(cidr string) error {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		ip := net.ParseIP(cidr)
		if ip == nil {
			return err
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exemptNets = append(l.exemptNets, ipnet)
	return nil
}

func (l *Limiter) isExempt(ip net.IP) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.exemptNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Stats reports how many distinct client limiters are currently tracked.
type Stats struct {
	TrackedClients int
	ExemptNets     int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		TrackedClients: len(l.limitersByIP),
		ExemptNets:     len(l.exemptNets),
	}
}
