package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/kvmesh/internal/metrics"
)

// acceptLimiter gates TCP accepts before the TLS handshake, adapted
// from the teacher's ConnectionRateLimiter: a global token bucket plus
// one per-IP token bucket, with periodic cleanup of stale per-IP
// entries. Still golang.org/x/time/rate underneath, just gating plain
// net.Conn accepts instead of websocket upgrades.
type acceptLimiter struct {
	ipLimiters map[string]*ipLimiterEntry
	ipMu       sync.RWMutex
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	global      *rate.Limiter
	globalBurst int
	globalRate  float64

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// AcceptLimiterConfig configures an acceptLimiter. Zero values fall back
// to the teacher's original defaults.
type AcceptLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
	Logger      zerolog.Logger
}

func newAcceptLimiter(cfg AcceptLimiterConfig) *acceptLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &acceptLimiter{
		ipLimiters:  make(map[string]*ipLimiterEntry),
		ipBurst:     cfg.IPBurst,
		ipRate:      cfg.IPRate,
		ipTTL:       cfg.IPTTL,
		global:      rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		globalBurst: cfg.GlobalBurst,
		globalRate:  cfg.GlobalRate,
		logger:      cfg.Logger.With().Str("component", "accept_limiter").Logger(),
		stopCleanup: make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(time.Minute)
	go l.cleanupLoop()

	l.logger.Info().
		Int("ip_burst", l.ipBurst).
		Float64("ip_rate", l.ipRate).
		Int("global_burst", l.globalBurst).
		Float64("global_rate", l.globalRate).
		Msg("accept limiter initialized")

	return l
}

// allow reports whether a connection attempt from ip may proceed,
// checking the global bucket first (cheap, no map lookup) then the
// per-IP bucket.
func (l *acceptLimiter) allow(ip string) bool {
	if !l.global.Allow() {
		metrics.ConnectionsRejected.WithLabelValues("global_rate").Inc()
		return false
	}
	if !l.ipLimiterFor(ip).Allow() {
		metrics.ConnectionsRejected.WithLabelValues("per_ip_rate").Inc()
		return false
	}
	return true
}

func (l *acceptLimiter) ipLimiterFor(ip string) *rate.Limiter {
	l.ipMu.RLock()
	entry, ok := l.ipLimiters[ip]
	l.ipMu.RUnlock()
	if ok {
		l.ipMu.Lock()
		entry.lastAccess = time.Now()
		l.ipMu.Unlock()
		return entry.limiter
	}

	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	if entry, ok = l.ipLimiters[ip]; ok {
		entry.lastAccess = time.Now()
		return entry.limiter
	}
	lim := rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst)
	l.ipLimiters[ip] = &ipLimiterEntry{limiter: lim, lastAccess: time.Now()}
	return lim
}

func (l *acceptLimiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			l.cleanupTicker.Stop()
			return
		}
	}
}

func (l *acceptLimiter) cleanup() {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()
	now := time.Now()
	for ip, entry := range l.ipLimiters {
		if now.Sub(entry.lastAccess) > l.ipTTL {
			delete(l.ipLimiters, ip)
		}
	}
}

func (l *acceptLimiter) stop() {
	close(l.stopCleanup)
}
