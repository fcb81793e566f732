// Package motion implements the Tier-0 trigger: a cheap per-frame change
// score over downsampled grayscale thumbnails, run through a hysteresis state
// machine. It performs no I/O and runs on the frame-ingestion hot path.
package motion

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

// Config tunes the gate. Thresholds are mean-absolute-difference scores over
// 8-bit gray pixels; ResetThreshold is normally below TriggerThreshold so the
// gate does not flap at the boundary.
type Config struct {
	ThumbW           int
	ThumbH           int
	TriggerThreshold float64
	ResetThreshold   float64
	MinPersistFrames int
	Cooldown         time.Duration
}

// Result is the outcome of scoring one frame.
type Result struct {
	Score     float64
	Triggered bool
}

// Gate holds per-stream motion state. Not safe for concurrent use; owned by
// the gateway's dispatch loop.
type Gate struct {
	cfg Config

	prev          []uint8
	triggered     bool
	consecutive   int
	lastTriggerAt time.Time

	now func() time.Time
}

// New creates a gate.
func New(cfg Config) *Gate {
	if cfg.ThumbW <= 0 {
		cfg.ThumbW = 64
	}
	if cfg.ThumbH <= 0 {
		cfg.ThumbH = 64
	}
	if cfg.MinPersistFrames <= 0 {
		cfg.MinPersistFrames = 1
	}
	return &Gate{cfg: cfg, now: time.Now}
}

// Process scores one JPEG frame against the previous one. A frame that fails
// to decode scores 0, cannot trigger, and leaves the comparison baseline
// unchanged.
func (g *Gate) Process(jpeg []byte) Result {
	thumb, err := g.thumbnail(jpeg)
	if err != nil {
		return Result{}
	}
	return g.observe(thumb)
}

// Reset clears all motion state, including the trigger cooldown.
func (g *Gate) Reset() {
	g.prev = nil
	g.triggered = false
	g.consecutive = 0
	g.lastTriggerAt = time.Time{}
}

// Triggered reports whether the gate is currently in the triggered state.
func (g *Gate) Triggered() bool { return g.triggered }

// observe applies the score and hysteresis transition for one thumbnail.
func (g *Gate) observe(thumb []uint8) Result {
	score := 0.0
	if g.prev != nil && len(g.prev) == len(thumb) {
		var sum int64
		for i := range thumb {
			d := int64(thumb[i]) - int64(g.prev[i])
			if d < 0 {
				d = -d
			}
			sum += d
		}
		score = float64(sum) / float64(len(thumb))
	}
	hadPrev := g.prev != nil
	g.prev = thumb

	if !hadPrev {
		return Result{}
	}

	if g.triggered {
		if score <= g.cfg.ResetThreshold {
			g.triggered = false
			g.consecutive = 0
		}
		return Result{Score: score}
	}

	if score >= g.cfg.TriggerThreshold {
		g.consecutive++
		if g.consecutive >= g.cfg.MinPersistFrames {
			if g.cfg.Cooldown > 0 && !g.lastTriggerAt.IsZero() &&
				g.now().Sub(g.lastTriggerAt) < g.cfg.Cooldown {
				// Cooldown active: stay untriggered so the gate does not
				// oscillate into immediate re-triggers.
				return Result{Score: score}
			}
			g.triggered = true
			g.consecutive = 0
			g.lastTriggerAt = g.now()
			return Result{Score: score, Triggered: true}
		}
	} else {
		g.consecutive = 0
	}
	return Result{Score: score}
}

// thumbnail decodes and downsamples a frame to a small grayscale buffer.
func (g *Gate) thumbnail(data []byte) ([]uint8, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	dst := image.NewGray(image.Rect(0, 0, g.cfg.ThumbW, g.cfg.ThumbH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst.Pix, nil
}
