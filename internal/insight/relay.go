// Package insight gates asynchronous clip-level findings from the vision
// service: one spoken utterance per clip for the life of the process, and a
// separate dedupe-plus-cooldown decision for relaying the raw message to the
// producer.
//
// Not safe for concurrent use; owned by the gateway's dispatch loop.
package insight

import (
	"strings"
	"time"

	"github.com/haldvik/lookout/internal/protocol"
)

// Config tunes the relay gates.
type Config struct {
	RelayEnabled bool
	DedupeWindow time.Duration
	Cooldown     time.Duration
}

// Relay holds insight dedupe state.
type Relay struct {
	cfg Config

	seen          map[string]time.Time
	uttered       map[string]struct{}
	lastRelayedAt time.Time

	now func() time.Time
}

// New creates a relay.
func New(cfg Config) *Relay {
	return &Relay{
		cfg:     cfg,
		seen:    make(map[string]time.Time),
		uttered: make(map[string]struct{}),
		now:     time.Now,
	}
}

// Utterance returns the spoken text for msg, at most once per clip id. The
// spoken-style text is preferred over the one-line summary; a clip with
// neither yields nothing. Utterance membership never expires.
func (r *Relay) Utterance(msg protocol.Insight) (string, bool) {
	if _, done := r.uttered[msg.ClipID]; done {
		return "", false
	}
	text := strings.TrimSpace(msg.Summary.TTSResponse)
	if text == "" {
		text = strings.TrimSpace(msg.Summary.OneLiner)
	}
	if text == "" {
		return "", false
	}
	r.uttered[msg.ClipID] = struct{}{}
	return text, true
}

// ShouldRelay decides whether the raw insight is forwarded to the producer.
// The clip id is recorded as seen regardless of the outcome, so a clip that
// loses to the global cooldown will not relay later either.
func (r *Relay) ShouldRelay(clipID string) bool {
	now := r.now()

	for id, at := range r.seen {
		if now.Sub(at) >= r.cfg.DedupeWindow {
			delete(r.seen, id)
		}
	}
	_, dup := r.seen[clipID]
	r.seen[clipID] = now

	if !r.cfg.RelayEnabled {
		return false
	}
	if dup {
		return false
	}
	if r.cfg.Cooldown > 0 && !r.lastRelayedAt.IsZero() && now.Sub(r.lastRelayedAt) < r.cfg.Cooldown {
		return false
	}
	r.lastRelayedAt = now
	return true
}
