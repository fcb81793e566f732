// Package config resolves relay configuration with the precedence
// defaults < YAML file < environment < flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all relay tunables.
type Config struct {
	Port           int      `yaml:"port"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	ConfigFile     string   `yaml:"-"`

	BrokerEnabled   bool     `yaml:"broker_enabled"`
	BrokerMaxFrames int      `yaml:"broker_max_frames"`
	BrokerMaxAge    Duration `yaml:"broker_max_age"`
	BrokerMaxBytes  int64    `yaml:"broker_max_bytes"`

	ThumbWidth             int      `yaml:"thumb_width"`
	ThumbHeight            int      `yaml:"thumb_height"`
	MotionTriggerThreshold float64  `yaml:"motion_trigger_threshold"`
	MotionResetThreshold   float64  `yaml:"motion_reset_threshold"`
	MotionPersistFrames    int      `yaml:"motion_persist_frames"`
	MotionCooldown         Duration `yaml:"motion_cooldown"`

	CaptionURL          string   `yaml:"caption_url"`
	CaptionCooldown     Duration `yaml:"caption_cooldown"`
	CaptionDedupeWindow Duration `yaml:"caption_dedupe_window"`
	CaptionTimeout      Duration `yaml:"caption_timeout"`

	InsightRelayEnabled bool     `yaml:"insight_relay_enabled"`
	InsightDedupeWindow Duration `yaml:"insight_dedupe_window"`
	InsightCooldown     Duration `yaml:"insight_cooldown"`

	VisionURL          string   `yaml:"vision_url"`
	VisionForward      bool     `yaml:"vision_forward"`
	VisionSampleEveryN int      `yaml:"vision_sample_every_n"`
	RouteTTL           Duration `yaml:"route_ttl"`

	ExecutiveURL           string   `yaml:"executive_url"`
	ExecutiveIngestTimeout Duration `yaml:"executive_ingest_timeout"`

	RedisAddr  string   `yaml:"redis_addr"`
	JournalMax int64    `yaml:"journal_max"`
	JournalTTL Duration `yaml:"journal_ttl"`

	WarnCooldown Duration `yaml:"warn_cooldown"`
}

// SetDefaults initializes c with built-in defaults.
func (c *Config) SetDefaults() {
	c.Port = 8080
	c.MetricsAddr = ":8080"
	c.LogLevel = "info"

	c.BrokerEnabled = true
	c.BrokerMaxFrames = 30
	c.BrokerMaxAge = Duration(10 * time.Second)
	c.BrokerMaxBytes = 0

	c.ThumbWidth = 64
	c.ThumbHeight = 64
	c.MotionTriggerThreshold = 10
	c.MotionResetThreshold = 5
	c.MotionPersistFrames = 2
	c.MotionCooldown = Duration(10 * time.Second)

	c.CaptionCooldown = Duration(5 * time.Second)
	c.CaptionDedupeWindow = Duration(30 * time.Second)
	c.CaptionTimeout = Duration(20 * time.Second)

	c.InsightRelayEnabled = true
	c.InsightDedupeWindow = Duration(5 * time.Minute)
	c.InsightCooldown = Duration(30 * time.Second)

	c.VisionForward = true
	c.VisionSampleEveryN = 3
	c.RouteTTL = Duration(5 * time.Second)

	c.ExecutiveIngestTimeout = Duration(1500 * time.Millisecond)

	c.JournalMax = 500
	c.JournalTTL = Duration(24 * time.Hour)

	c.WarnCooldown = Duration(30 * time.Second)
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		c.ConfigFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := os.Getenv("CAPTION_URL"); v != "" {
		c.CaptionURL = v
	}
	if v := os.Getenv("VISION_URL"); v != "" {
		c.VisionURL = v
	}
	if v := os.Getenv("EXECUTIVE_URL"); v != "" {
		c.ExecutiveURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
}

// BindFlags binds command line flags using the current config values as
// defaults; main calls flag.Parse afterwards.
func (c *Config) BindFlags() {
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
		return nil
	})
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})

	flag.BoolVar(&c.BrokerEnabled, "broker", c.BrokerEnabled, "retain recent frames for on-demand lookups")
	flag.IntVar(&c.BrokerMaxFrames, "broker-max-frames", c.BrokerMaxFrames, "maximum frames retained by the broker")
	c.durationFlag("broker-max-age", &c.BrokerMaxAge, "maximum frame retention age")
	flag.Int64Var(&c.BrokerMaxBytes, "broker-max-bytes", c.BrokerMaxBytes, "maximum cumulative frame bytes retained (0 disables the cap)")

	flag.Float64Var(&c.MotionTriggerThreshold, "motion-trigger", c.MotionTriggerThreshold, "motion score at which the gate arms")
	flag.Float64Var(&c.MotionResetThreshold, "motion-reset", c.MotionResetThreshold, "motion score below which the gate resets")
	flag.IntVar(&c.MotionPersistFrames, "motion-persist", c.MotionPersistFrames, "consecutive above-threshold frames required to trigger")
	c.durationFlag("motion-cooldown", &c.MotionCooldown, "minimum delay between motion triggers")

	flag.StringVar(&c.CaptionURL, "caption-url", c.CaptionURL, "captioning service base URL")
	c.durationFlag("caption-cooldown", &c.CaptionCooldown, "minimum delay between caption requests")
	c.durationFlag("caption-dedupe-window", &c.CaptionDedupeWindow, "window during which an identical caption is suppressed")
	c.durationFlag("caption-timeout", &c.CaptionTimeout, "caption request timeout")

	flag.BoolVar(&c.InsightRelayEnabled, "insight-relay", c.InsightRelayEnabled, "relay insight messages to the producer")
	c.durationFlag("insight-dedupe-window", &c.InsightDedupeWindow, "window during which a repeated clip id is suppressed")
	c.durationFlag("insight-cooldown", &c.InsightCooldown, "minimum delay between relayed insights")

	flag.StringVar(&c.VisionURL, "vision-url", c.VisionURL, "secondary vision service websocket URL")
	flag.BoolVar(&c.VisionForward, "vision-forward", c.VisionForward, "forward sampled frames to the vision service")
	flag.IntVar(&c.VisionSampleEveryN, "vision-sample-every", c.VisionSampleEveryN, "forward every Nth accepted frame")
	c.durationFlag("route-ttl", &c.RouteTTL, "how long a forwarded frame awaits its vision reply")

	flag.StringVar(&c.ExecutiveURL, "executive-url", c.ExecutiveURL, "executive service base URL")
	c.durationFlag("executive-ingest-timeout", &c.ExecutiveIngestTimeout, "fire-and-forget event ingest timeout")

	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis address for the optional event journal")
	flag.Int64Var(&c.JournalMax, "journal-max", c.JournalMax, "maximum journal entries retained")
	c.durationFlag("journal-ttl", &c.JournalTTL, "journal key expiry")

	c.durationFlag("warn-cooldown", &c.WarnCooldown, "minimum delay between repeated warnings per failure class")
}

func (c *Config) durationFlag(name string, d *Duration, usage string) {
	flag.Func(name, usage, func(v string) error {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	})
}

// LoadFile overlays the config from a YAML file.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// Duration is a time.Duration that unmarshals from YAML as either a Go
// duration string ("5s") or a bare number of milliseconds.
type Duration time.Duration

// D returns the underlying time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := node.Decode(&ms); err != nil {
		return fmt.Errorf("invalid duration: %s", node.Value)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
