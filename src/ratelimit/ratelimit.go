package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beatwave/playsync/src/types"
)

// Rule bounds one event kind to MaxEvents per Window.
type Rule struct {
	MaxEvents int
	Window    time.Duration
}

// Config maps event kinds to their rules. Kinds without a rule fall back to
// Default.
type Config struct {
	Rules         map[types.EventKind]Rule
	Default       Rule
	SweepInterval time.Duration
}

// DefaultConfig returns the default per-event-kind limits.
func DefaultConfig() Config {
	return Config{
		Rules: map[types.EventKind]Rule{
			types.EventAudioPlay:    {MaxEvents: 10, Window: 10 * time.Second},
			types.EventAudioPause:   {MaxEvents: 10, Window: 10 * time.Second},
			types.EventAudioSeek:    {MaxEvents: 20, Window: 10 * time.Second},
			types.EventBeatChange:   {MaxEvents: 10, Window: 10 * time.Second},
			types.EventRequestState: {MaxEvents: 5, Window: 10 * time.Second},
			types.EventMasterClosed: {MaxEvents: 5, Window: 10 * time.Second},
		},
		Default:       Rule{MaxEvents: 5, Window: 10 * time.Second},
		SweepInterval: 30 * time.Second,
	}
}

// connCounters holds the sliding windows for one connection. Each connection
// has its own lock, so checks never contend across connections.
type connCounters struct {
	mu      sync.Mutex
	windows map[types.EventKind][]time.Time
}

// Limiter maintains per-connection, per-event-kind sliding windows. A
// background sweep evicts windows that have gone idle and drops state for
// connections that are no longer registered.
type Limiter struct {
	cfg     Config
	mu      sync.RWMutex
	conns   map[string]*connCounters
	present func(connID string) bool
	logger  zerolog.Logger
}

// New creates a Limiter with the given config.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Default.MaxEvents <= 0 {
		cfg.Default = Rule{MaxEvents: 5, Window: 10 * time.Second}
	}
	return &Limiter{
		cfg:    cfg,
		conns:  make(map[string]*connCounters),
		logger: logger.With().Str("component", "ratelimit").Logger(),
	}
}

// SetPresenceCheck installs a callback the sweep uses to drop counters for
// connections that are no longer registered.
func (l *Limiter) SetPresenceCheck(fn func(connID string) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.present = fn
}

func (l *Limiter) ruleFor(kind types.EventKind) Rule {
	if rule, ok := l.cfg.Rules[kind]; ok && rule.MaxEvents > 0 && rule.Window > 0 {
		return rule
	}
	return l.cfg.Default
}

// Check applies the sliding window for (connID, kind) at time now. A rejected
// event is not recorded; retryAfter is the earliest time the caller may retry.
func (l *Limiter) Check(connID string, kind types.EventKind, now time.Time) (bool, time.Duration) {
	rule := l.ruleFor(kind)

	l.mu.RLock()
	cc, ok := l.conns[connID]
	l.mu.RUnlock()
	if !ok {
		l.mu.Lock()
		cc, ok = l.conns[connID]
		if !ok {
			cc = &connCounters{windows: make(map[types.EventKind][]time.Time)}
			l.conns[connID] = cc
		}
		l.mu.Unlock()
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	cutoff := now.Add(-rule.Window)
	window := cc.windows[kind]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rule.MaxEvents {
		cc.windows[kind] = kept
		retryAfter := kept[0].Add(rule.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	cc.windows[kind] = append(kept, now)
	return true, 0
}

// Remove drops all counters for a connection. Called immediately on close;
// the sweep is only a backstop for connections that vanish without one.
func (l *Limiter) Remove(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, connID)
}

// Has reports whether any counters exist for the connection.
func (l *Limiter) Has(connID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.conns[connID]
	return ok
}

// Run executes the background sweep until ctx is cancelled. The sweep runs on
// a fixed interval, independent of request traffic, so idle counters cannot
// accumulate for the lifetime of the process.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// sweep prunes expired timestamps, evicts empty windows, and drops counters
// for connections the presence check no longer knows.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	present := l.present
	conns := make(map[string]*connCounters, len(l.conns))
	for id, cc := range l.conns {
		conns[id] = cc
	}
	l.mu.Unlock()

	var evicted []string
	for id, cc := range conns {
		if present != nil && !present(id) {
			evicted = append(evicted, id)
			continue
		}
		cc.mu.Lock()
		for kind, window := range cc.windows {
			rule := l.ruleFor(kind)
			cutoff := now.Add(-rule.Window)
			kept := window[:0]
			for _, ts := range window {
				if ts.After(cutoff) {
					kept = append(kept, ts)
				}
			}
			if len(kept) == 0 {
				delete(cc.windows, kind)
			} else {
				cc.windows[kind] = kept
			}
		}
		empty := len(cc.windows) == 0
		cc.mu.Unlock()
		if empty {
			evicted = append(evicted, id)
		}
	}

	if len(evicted) == 0 {
		return
	}
	l.mu.Lock()
	for _, id := range evicted {
		cc, ok := l.conns[id]
		if !ok {
			continue
		}
		if present != nil && !present(id) {
			delete(l.conns, id)
			continue
		}
		// Re-check under the connection lock: a concurrent Check may have
		// recorded a fresh event since the snapshot above.
		cc.mu.Lock()
		if len(cc.windows) == 0 {
			delete(l.conns, id)
		}
		cc.mu.Unlock()
	}
	l.mu.Unlock()
	l.logger.Debug().Int("connections", len(evicted)).Msg("swept idle rate counters")
}
