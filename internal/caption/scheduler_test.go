package caption

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haldvik/lookout/internal/logx"
	"github.com/haldvik/lookout/internal/protocol"
)

type fakeSource map[string]protocol.FrameEnvelope

func (s fakeSource) ByFrameID(id string) (protocol.FrameEnvelope, bool) {
	env, ok := s[id]
	return env, ok
}

type fakeCaptioner struct {
	calls []string
	res   Result
	err   error
}

func (c *fakeCaptioner) Caption(_ context.Context, jpeg []byte) (Result, error) {
	c.calls = append(c.calls, string(jpeg))
	return c.res, c.err
}

type harness struct {
	sched   *Scheduler
	cap     *fakeCaptioner
	emitted []Result
	timers  []func()
	now     time.Time
}

// newHarness wires a scheduler whose loop, timers, and worker goroutine all
// run synchronously so tests are deterministic.
func newHarness(cfg Config, src fakeSource, cap *fakeCaptioner) *harness {
	h := &harness{cap: cap, now: time.Unix(1000, 0)}
	h.sched = NewScheduler(cfg, src, cap,
		func(env protocol.FrameEnvelope, res Result) { h.emitted = append(h.emitted, res) },
		logx.NewLimiter(time.Minute),
		func(fn func()) { fn() },
		func(d time.Duration, fn func()) { h.timers = append(h.timers, fn) },
	)
	h.sched.now = func() time.Time { return h.now }
	h.sched.spawn = func(fn func()) { fn() }
	return h
}

func src(ids ...string) fakeSource {
	s := fakeSource{}
	for _, id := range ids {
		s[id] = protocol.FrameEnvelope{FrameID: id, TSMS: 1, Width: 64, Height: 64, Mime: protocol.FrameMime, Bytes: []byte(id)}
	}
	return s
}

func TestLatestWinsUnderCooldown(t *testing.T) {
	cap := &fakeCaptioner{res: Result{Text: "a cat"}}
	h := newHarness(Config{Cooldown: 5 * time.Second, Timeout: time.Second}, src("a", "b"), cap)

	// Seed the cooldown so neither schedule starts immediately.
	h.sched.lastStartedAt = h.now

	h.sched.Schedule("a")
	h.sched.Schedule("b")
	if len(cap.calls) != 0 {
		t.Fatalf("no request should start during cooldown")
	}
	if len(h.timers) != 1 {
		t.Fatalf("expected a single armed retry timer, got %d", len(h.timers))
	}

	h.now = h.now.Add(6 * time.Second)
	h.timers[0]()
	if len(cap.calls) != 1 || cap.calls[0] != "b" {
		t.Fatalf("expected exactly one call for frame b, got %v", cap.calls)
	}
}

func TestSingleSlotInFlight(t *testing.T) {
	cap := &fakeCaptioner{res: Result{Text: "one"}}
	h := newHarness(Config{Timeout: time.Second}, src("a", "b"), cap)

	// Hold the completion so a second schedule arrives while in flight.
	var done func()
	h.sched.spawn = func(fn func()) { done = fn }
	h.sched.Schedule("a")
	if !h.sched.Status().InFlight {
		t.Fatalf("expected in-flight after schedule")
	}
	h.sched.Schedule("b")
	if done == nil {
		t.Fatalf("worker not spawned")
	}
	// Completing a re-drains and starts b.
	h.sched.spawn = func(fn func()) { fn() }
	cap.res = Result{Text: "two"}
	done()
	if len(cap.calls) != 2 || cap.calls[1] != "b" {
		t.Fatalf("expected b to start after a finished, got %v", cap.calls)
	}
	if len(h.emitted) != 2 {
		t.Fatalf("expected 2 emissions, got %d", len(h.emitted))
	}
}

func TestDedupeWindowSuppressesRepeatText(t *testing.T) {
	cap := &fakeCaptioner{res: Result{Text: "  an empty room  "}}
	h := newHarness(Config{DedupeWindow: 10 * time.Second, Timeout: time.Second}, src("a", "b", "c"), cap)

	h.sched.Schedule("a")
	h.now = h.now.Add(2 * time.Second)
	h.sched.Schedule("b")
	if len(h.emitted) != 1 {
		t.Fatalf("identical text inside window should be suppressed, got %d emissions", len(h.emitted))
	}
	if h.emitted[0].Text != "an empty room" {
		t.Fatalf("expected trimmed text, got %q", h.emitted[0].Text)
	}
	h.now = h.now.Add(11 * time.Second)
	h.sched.Schedule("c")
	if len(h.emitted) != 2 {
		t.Fatalf("identical text outside window should emit, got %d", len(h.emitted))
	}
}

func TestFailureClearsSlotAndRedrains(t *testing.T) {
	cap := &fakeCaptioner{err: errors.New("connect refused")}
	h := newHarness(Config{Timeout: time.Second}, src("a"), cap)

	h.sched.Schedule("a")
	if h.sched.Status().InFlight {
		t.Fatalf("slot must be free after failure")
	}
	if len(h.emitted) != 0 {
		t.Fatalf("failure must not emit")
	}
	cap.err = nil
	cap.res = Result{Text: "ok"}
	h.sched.Schedule("a")
	if len(h.emitted) != 1 {
		t.Fatalf("scheduler must recover after failure")
	}
}

func TestEvictedFrameSkipped(t *testing.T) {
	cap := &fakeCaptioner{res: Result{Text: "x"}}
	h := newHarness(Config{Timeout: time.Second}, src("kept"), cap)

	h.sched.Schedule("gone")
	if len(cap.calls) != 0 {
		t.Fatalf("evicted frame must not start a request")
	}
	if h.sched.Status().InFlight {
		t.Fatalf("slot must stay free for a missing frame")
	}
}

func TestNilClientIgnoresTriggers(t *testing.T) {
	h := newHarness(Config{Timeout: time.Second}, src("a"), &fakeCaptioner{})
	h.sched.client = nil

	h.sched.Schedule("a")
	if h.sched.Status().InFlight || len(h.emitted) != 0 {
		t.Fatalf("scheduler without a client must ignore triggers")
	}
}

func TestCancelPendingDropsCandidate(t *testing.T) {
	cap := &fakeCaptioner{res: Result{Text: "x"}}
	h := newHarness(Config{Cooldown: 5 * time.Second, Timeout: time.Second}, src("a"), cap)
	h.sched.lastStartedAt = h.now

	h.sched.Schedule("a")
	h.sched.CancelPending()
	h.now = h.now.Add(6 * time.Second)
	for _, fn := range h.timers {
		fn()
	}
	if len(cap.calls) != 0 {
		t.Fatalf("canceled candidate must not start, got %v", cap.calls)
	}
}
