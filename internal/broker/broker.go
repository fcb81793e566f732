// Package broker holds a bounded, time- and count-limited buffer of recently
// received frames. It backs on-demand frame lookups (captioning) and the
// backpressure counters reported to producers.
//
// The broker is not safe for concurrent use; it is owned by the gateway's
// dispatch loop.
package broker

import (
	"time"

	"github.com/haldvik/lookout/internal/protocol"
)

// Config bounds the broker. MaxBytes <= 0 disables the byte cap.
type Config struct {
	Enabled   bool
	MaxFrames int
	MaxAge    time.Duration
	MaxBytes  int64
}

// Entry is one retained frame. Never mutated after insertion.
type Entry struct {
	Env        protocol.FrameEnvelope
	ReceivedAt time.Time
}

// PushResult reports the outcome of one push. Dropped counts entries evicted
// by this call only.
type PushResult struct {
	Accepted   bool
	QueueDepth int
	Dropped    int
}

// Stats is a read-only snapshot of broker occupancy.
type Stats struct {
	Enabled      bool  `json:"enabled"`
	MaxFrames    int   `json:"max_frames"`
	MaxAgeMS     int64 `json:"max_age_ms"`
	MaxBytes     int64 `json:"max_bytes"`
	QueueDepth   int   `json:"queue_depth"`
	DroppedTotal int64 `json:"dropped_total"`
	TotalBytes   int64 `json:"total_bytes"`
}

// Broker retains frames oldest-first. Lookups scan the slice; the frame count
// is bounded by MaxFrames, which stays small in practice.
type Broker struct {
	cfg     Config
	entries []Entry

	totalBytes   int64
	droppedTotal int64

	now func() time.Time
}

// New creates a broker with the given bounds.
func New(cfg Config) *Broker {
	return &Broker{cfg: cfg, now: time.Now}
}

// Push admits env, evicting older entries as needed to stay within bounds.
// A single entry larger than the byte cap is rejected without touching
// existing state. Never blocks.
func (b *Broker) Push(env protocol.FrameEnvelope) PushResult {
	if !b.cfg.Enabled {
		return PushResult{Accepted: true}
	}
	if b.cfg.MaxBytes > 0 && int64(len(env.Bytes)) > b.cfg.MaxBytes {
		return PushResult{Accepted: false, QueueDepth: len(b.entries)}
	}

	now := b.now()
	dropped := 0

	if b.cfg.MaxAge > 0 {
		cutoff := now.Add(-b.cfg.MaxAge)
		for len(b.entries) > 0 && b.entries[0].ReceivedAt.Before(cutoff) {
			b.evictOldest()
			dropped++
		}
	}
	for b.cfg.MaxFrames > 0 && len(b.entries) > b.cfg.MaxFrames-1 {
		b.evictOldest()
		dropped++
	}
	if b.cfg.MaxBytes > 0 {
		for len(b.entries) > 0 && b.totalBytes+int64(len(env.Bytes)) > b.cfg.MaxBytes {
			b.evictOldest()
			dropped++
		}
	}

	b.entries = append(b.entries, Entry{Env: env, ReceivedAt: now})
	b.totalBytes += int64(len(env.Bytes))
	b.droppedTotal += int64(dropped)
	return PushResult{Accepted: true, QueueDepth: len(b.entries), Dropped: dropped}
}

// ByFrameID returns the retained frame with the given id, if any. Read-only.
func (b *Broker) ByFrameID(id string) (protocol.FrameEnvelope, bool) {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Env.FrameID == id {
			return b.entries[i].Env, true
		}
	}
	return protocol.FrameEnvelope{}, false
}

// Latest returns the most recently pushed frame, if any. Read-only.
func (b *Broker) Latest() (protocol.FrameEnvelope, bool) {
	if len(b.entries) == 0 {
		return protocol.FrameEnvelope{}, false
	}
	return b.entries[len(b.entries)-1].Env, true
}

// Stats returns the current occupancy snapshot.
func (b *Broker) Stats() Stats {
	return Stats{
		Enabled:      b.cfg.Enabled,
		MaxFrames:    b.cfg.MaxFrames,
		MaxAgeMS:     b.cfg.MaxAge.Milliseconds(),
		MaxBytes:     b.cfg.MaxBytes,
		QueueDepth:   len(b.entries),
		DroppedTotal: b.droppedTotal,
		TotalBytes:   b.totalBytes,
	}
}

func (b *Broker) evictOldest() {
	b.totalBytes -= int64(len(b.entries[0].Env.Bytes))
	b.entries = b.entries[1:]
}
