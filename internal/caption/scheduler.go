// Package caption implements the Tier-1 stage: a single-slot, latest-wins
// scheduler that turns motion triggers into captioning calls. At most one
// request is in flight; a new trigger replaces any unstarted pending one.
package caption

import (
	"context"
	"strings"
	"time"

	"github.com/haldvik/lookout/internal/logx"
	"github.com/haldvik/lookout/internal/metrics"
	"github.com/haldvik/lookout/internal/protocol"
)

// FrameSource lets the scheduler re-read a frame's bytes at start time.
type FrameSource interface {
	ByFrameID(id string) (protocol.FrameEnvelope, bool)
}

// Emit delivers a finished, non-duplicate caption.
type Emit func(env protocol.FrameEnvelope, res Result)

// Config tunes the scheduler.
type Config struct {
	Cooldown     time.Duration
	DedupeWindow time.Duration
	Timeout      time.Duration
}

// Status is a read-only snapshot for health reporting.
type Status struct {
	InFlight      bool   `json:"in_flight"`
	LastLatencyMS int64  `json:"last_latency_ms"`
	LastText      string `json:"last_text"`
}

// Scheduler owns the single caption slot. All methods except the spawned
// worker body run on the gateway's dispatch loop; completions re-enter the
// loop through post.
type Scheduler struct {
	cfg    Config
	src    FrameSource
	client Captioner
	emit   Emit
	warn   *logx.Limiter

	pending    string
	inFlight   bool
	timerArmed bool

	lastStartedAt time.Time
	lastText      string
	lastTextAt    time.Time
	lastLatency   time.Duration

	now   func() time.Time
	post  func(fn func())
	after func(d time.Duration, fn func())
	spawn func(fn func())
}

// NewScheduler creates a scheduler. A nil client disables captioning; triggers
// are then ignored. post must run fn on the owning dispatch loop; after must
// arm a timer whose callback also runs on that loop.
func NewScheduler(cfg Config, src FrameSource, client Captioner, emit Emit, warn *logx.Limiter, post func(func()), after func(time.Duration, func())) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		src:    src,
		client: client,
		emit:   emit,
		warn:   warn,
		now:    time.Now,
		post:   post,
		after:  after,
		spawn:  func(fn func()) { go fn() },
	}
}

// Schedule records frameID as the caption candidate, superseding any pending
// not-yet-started request, and drains if the slot is free.
func (s *Scheduler) Schedule(frameID string) {
	s.pending = frameID
	s.maybeStart()
}

// CancelPending drops any pending candidate. Invoked on producer disconnect;
// an already in-flight request is left to finish and dedupe naturally.
func (s *Scheduler) CancelPending() {
	s.pending = ""
}

// Status returns the health snapshot.
func (s *Scheduler) Status() Status {
	return Status{
		InFlight:      s.inFlight,
		LastLatencyMS: s.lastLatency.Milliseconds(),
		LastText:      s.lastText,
	}
}

// maybeStart is the drain loop: start the pending candidate unless a request
// is in flight or the cooldown has not elapsed.
func (s *Scheduler) maybeStart() {
	if s.client == nil || s.inFlight || s.pending == "" {
		return
	}
	if s.cfg.Cooldown > 0 && !s.lastStartedAt.IsZero() {
		if rem := s.cfg.Cooldown - s.now().Sub(s.lastStartedAt); rem > 0 {
			if !s.timerArmed {
				s.timerArmed = true
				s.after(rem, func() {
					s.timerArmed = false
					s.maybeStart()
				})
			}
			return
		}
	}

	id := s.pending
	s.pending = ""
	env, ok := s.src.ByFrameID(id)
	if !ok {
		if s.warn.Allow("caption_frame_gone") {
			logx.Log.Warn().Str("frame_id", id).Msg("caption candidate evicted before start")
		}
		return
	}

	s.inFlight = true
	s.lastStartedAt = s.now()
	s.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		start := time.Now()
		res, err := s.client.Caption(ctx, env.Bytes)
		elapsed := time.Since(start)
		s.post(func() { s.finish(env, res, elapsed, err) })
	})
}

// finish applies one completed request and immediately re-drains in case a
// new trigger arrived meanwhile.
func (s *Scheduler) finish(env protocol.FrameEnvelope, res Result, elapsed time.Duration, err error) {
	s.inFlight = false
	defer s.maybeStart()

	if err != nil {
		metrics.RecordCaption(false, 0)
		if s.warn.Allow("caption_request") {
			logx.Log.Warn().Err(err).Str("frame_id", env.FrameID).Msg("caption request failed")
		}
		return
	}
	metrics.RecordCaption(true, elapsed.Seconds())
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return
	}
	if text == s.lastText && s.now().Sub(s.lastTextAt) < s.cfg.DedupeWindow {
		logx.Log.Debug().Str("frame_id", env.FrameID).Msg("duplicate caption suppressed")
		return
	}
	s.lastText = text
	s.lastTextAt = s.now()
	s.lastLatency = elapsed
	res.Text = text
	s.emit(env, res)
}
