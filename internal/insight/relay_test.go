package insight

import (
	"testing"
	"time"

	"github.com/haldvik/lookout/internal/protocol"
)

func msg(clipID, tts, oneLiner string) protocol.Insight {
	return protocol.Insight{
		Type:   "insight",
		V:      protocol.Version,
		ClipID: clipID,
		TSMS:   1,
		Summary: protocol.InsightSummary{
			OneLiner:    oneLiner,
			TTSResponse: tts,
			Severity:    protocol.SeverityLow,
		},
	}
}

func TestUtteranceOneShotPerClip(t *testing.T) {
	r := New(Config{RelayEnabled: true, DedupeWindow: time.Minute})
	text, ok := r.Utterance(msg("c1", "someone is at the door", "person detected"))
	if !ok || text != "someone is at the door" {
		t.Fatalf("expected tts text, got %q ok=%v", text, ok)
	}
	// Redelivery of the same clip must not speak again.
	if _, ok := r.Utterance(msg("c1", "someone is at the door", "")); ok {
		t.Fatalf("second utterance for same clip must be suppressed")
	}
	if _, ok := r.Utterance(msg("c2", "", "dog in frame")); !ok {
		t.Fatalf("new clip should speak via one-liner fallback")
	}
}

func TestUtteranceSkipsBlankText(t *testing.T) {
	r := New(Config{})
	if _, ok := r.Utterance(msg("c1", "   ", " ")); ok {
		t.Fatalf("blank summary must not speak")
	}
	// A blank first delivery must not burn the clip's one shot.
	if _, ok := r.Utterance(msg("c1", "now with text", "")); !ok {
		t.Fatalf("clip with text after blank delivery should speak")
	}
}

func TestShouldRelayDedupeWindow(t *testing.T) {
	now := time.Unix(0, 0)
	r := New(Config{RelayEnabled: true, DedupeWindow: 10 * time.Second})
	r.now = func() time.Time { return now }

	if !r.ShouldRelay("c1") {
		t.Fatalf("first relay should pass")
	}
	now = now.Add(2 * time.Second)
	if r.ShouldRelay("c1") {
		t.Fatalf("duplicate clip inside window must not relay")
	}
	now = now.Add(11 * time.Second)
	if !r.ShouldRelay("c1") {
		t.Fatalf("clip outside dedupe window should relay again")
	}
}

func TestShouldRelayCooldownStillRecordsSeen(t *testing.T) {
	now := time.Unix(0, 0)
	r := New(Config{RelayEnabled: true, DedupeWindow: time.Minute, Cooldown: 30 * time.Second})
	r.now = func() time.Time { return now }

	if !r.ShouldRelay("c1") {
		t.Fatalf("first relay should pass")
	}
	now = now.Add(5 * time.Second)
	// New clip inside the global cooldown: rejected now...
	if r.ShouldRelay("c2") {
		t.Fatalf("relay inside global cooldown must be rejected")
	}
	now = now.Add(40 * time.Second)
	// ...and still recorded as seen, so it does not relay later either.
	if r.ShouldRelay("c2") {
		t.Fatalf("cooldown-rejected clip was recorded as seen and must not relay")
	}
	if !r.ShouldRelay("c3") {
		t.Fatalf("fresh clip after cooldown should relay")
	}
}

func TestShouldRelayDisabled(t *testing.T) {
	r := New(Config{RelayEnabled: false, DedupeWindow: time.Minute})
	if r.ShouldRelay("c1") {
		t.Fatalf("relay disabled must reject")
	}
}
