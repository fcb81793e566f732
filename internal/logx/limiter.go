package logx

import (
	"sync"
	"time"
)

// Limiter gates repeated warnings so a failing collaborator cannot storm the
// log. Each key is allowed through at most once per window.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// NewLimiter returns a Limiter with the given suppression window.
func NewLimiter(window time.Duration) *Limiter {
	return &Limiter{window: window, last: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether a message for key should be logged now. When it
// returns true the key's window is restarted.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if t, ok := l.last[key]; ok && now.Sub(t) < l.window {
		return false
	}
	l.last[key] = now
	return true
}
