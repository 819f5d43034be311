// Package ratelimit is a single-process fixed-window request counter.
// Counters are not shared between instances.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Config struct {
	Requests int           // per window, default 30
	Window   time.Duration // default 60s
}

type Limiter struct {
	cfg Config

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

type window struct {
	start time.Time
	count int
}

// Decision is the result of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter int // seconds, set when not allowed
}

func New(cfg Config) *Limiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
	}
}

// Allow counts one request against key and reports whether it fits in the
// current window. The check and the increment happen under one lock.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &window{start: now}
		l.windows[key] = w
	}

	if w.count >= l.cfg.Requests {
		retry := w.start.Add(l.cfg.Window).Sub(now)
		return Decision{Allowed: false, RetryAfter: int(math.Ceil(retry.Seconds()))}
	}
	w.count++
	return Decision{Allowed: true, Remaining: l.cfg.Requests - w.count}
}

// sweep drops expired windows at most once per window length.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.Window {
		return
	}
	l.lastSweep = now
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.windows, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Key builds the limiter key for an operation and client address.
func Key(operation, client string) string {
	return operation + ":" + client
}

// ClientIP returns the first X-Forwarded-For hop, else the host part of
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
