package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	if c.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", c.Port)
	}
	if !c.BrokerEnabled || c.BrokerMaxFrames != 30 {
		t.Fatalf("unexpected broker defaults: %+v", c)
	}
	if c.MotionTriggerThreshold <= c.MotionResetThreshold {
		t.Fatalf("default thresholds must form a hysteresis band")
	}
	if c.RouteTTL.D() != 5*time.Second {
		t.Fatalf("expected 5s route ttl, got %v", c.RouteTTL.D())
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	data := []byte(`
port: 9090
broker_enabled: false
broker_max_age: 2s
caption_cooldown: 1500
vision_url: ws://vision:8765/ws
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var c Config
	c.SetDefaults()
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", c.Port)
	}
	if c.BrokerEnabled {
		t.Fatalf("file should disable broker")
	}
	if c.BrokerMaxAge.D() != 2*time.Second {
		t.Fatalf("duration string not parsed: %v", c.BrokerMaxAge.D())
	}
	if c.CaptionCooldown.D() != 1500*time.Millisecond {
		t.Fatalf("bare number should parse as milliseconds: %v", c.CaptionCooldown.D())
	}
	// Untouched keys keep their defaults.
	if c.BrokerMaxFrames != 30 {
		t.Fatalf("unrelated default disturbed: %d", c.BrokerMaxFrames)
	}
	if c.VisionURL != "ws://vision:8765/ws" {
		t.Fatalf("vision url not loaded: %q", c.VisionURL)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	var c Config
	c.SetDefaults()
	c.CaptionURL = "http://from-file:9000"
	t.Setenv("CAPTION_URL", "http://from-env:9000")
	t.Setenv("PORT", "7070")
	c.ApplyEnv()
	if c.CaptionURL != "http://from-env:9000" {
		t.Fatalf("env should override file: %q", c.CaptionURL)
	}
	if c.Port != 7070 {
		t.Fatalf("env port not applied: %d", c.Port)
	}
}

func TestApplyEnvMetricsPortForms(t *testing.T) {
	var c Config
	c.SetDefaults()
	t.Setenv("METRICS_PORT", "9100")
	c.ApplyEnv()
	if c.MetricsAddr != ":9100" {
		t.Fatalf("bare port should gain a colon: %q", c.MetricsAddr)
	}
	t.Setenv("METRICS_PORT", "127.0.0.1:9100")
	c.ApplyEnv()
	if c.MetricsAddr != "127.0.0.1:9100" {
		t.Fatalf("full address should pass through: %q", c.MetricsAddr)
	}
}
