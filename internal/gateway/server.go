// Package gateway owns the producer connection and the dispatch loop that
// drives the ingestion pipeline: broker, motion gate, caption scheduler,
// insight relay, and the vision link forward path.
//
// All pipeline state is owned by a single dispatch goroutine. Socket read
// loops, timers, and HTTP handlers never touch it directly; they post
// closures onto the loop and the loop runs each handler to completion, which
// is what preserves the per-frame ordering guarantees without locks.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haldvik/lookout/internal/broker"
	"github.com/haldvik/lookout/internal/caption"
	"github.com/haldvik/lookout/internal/config"
	"github.com/haldvik/lookout/internal/executive"
	"github.com/haldvik/lookout/internal/insight"
	"github.com/haldvik/lookout/internal/journal"
	"github.com/haldvik/lookout/internal/logx"
	"github.com/haldvik/lookout/internal/metrics"
	"github.com/haldvik/lookout/internal/motion"
	"github.com/haldvik/lookout/internal/protocol"
	"github.com/haldvik/lookout/internal/router"
	"github.com/haldvik/lookout/internal/vision"
)

// Server is the relay gateway.
type Server struct {
	cfg  config.Config
	warn *logx.Limiter

	broker   *broker.Broker
	routes   *router.Table
	gate     *motion.Gate
	captions *caption.Scheduler
	insights *insight.Relay
	link     *vision.Link
	exec     *executive.Client
	journal  *journal.Journal

	loop         chan func()
	producer     *producer
	forwardCount uint64

	promReg *prometheus.Registry
	now     func() time.Time
}

// New wires the pipeline. jn may be nil when the event journal is disabled.
func New(cfg config.Config, jn *journal.Journal) *Server {
	warn := logx.NewLimiter(cfg.WarnCooldown.D())
	s := &Server{
		cfg:     cfg,
		warn:    warn,
		loop:    make(chan func(), 256),
		journal: jn,
		promReg: prometheus.NewRegistry(),
		now:     time.Now,
	}
	metrics.Register(s.promReg)

	s.broker = broker.New(broker.Config{
		Enabled:   cfg.BrokerEnabled,
		MaxFrames: cfg.BrokerMaxFrames,
		MaxAge:    cfg.BrokerMaxAge.D(),
		MaxBytes:  cfg.BrokerMaxBytes,
	})
	s.routes = router.New(cfg.RouteTTL.D(), func(frameID string, _ any) {
		logx.Log.Debug().Str("frame_id", frameID).Msg("vision reply never arrived; route expired")
	})
	s.gate = motion.New(motion.Config{
		ThumbW:           cfg.ThumbWidth,
		ThumbH:           cfg.ThumbHeight,
		TriggerThreshold: cfg.MotionTriggerThreshold,
		ResetThreshold:   cfg.MotionResetThreshold,
		MinPersistFrames: cfg.MotionPersistFrames,
		Cooldown:         cfg.MotionCooldown.D(),
	})
	s.insights = insight.New(insight.Config{
		RelayEnabled: cfg.InsightRelayEnabled,
		DedupeWindow: cfg.InsightDedupeWindow.D(),
		Cooldown:     cfg.InsightCooldown.D(),
	})
	s.exec = executive.New(executive.Config{
		BaseURL:       cfg.ExecutiveURL,
		IngestTimeout: cfg.ExecutiveIngestTimeout.D(),
	}, warn)

	var captioner caption.Captioner
	if cfg.CaptionURL != "" {
		captioner = caption.NewClient(cfg.CaptionURL)
	}
	s.captions = caption.NewScheduler(
		caption.Config{
			Cooldown:     cfg.CaptionCooldown.D(),
			DedupeWindow: cfg.CaptionDedupeWindow.D(),
			Timeout:      cfg.CaptionTimeout.D(),
		},
		s.broker,
		captioner,
		s.emitCaption,
		warn,
		s.post,
		func(d time.Duration, fn func()) { time.AfterFunc(d, func() { s.post(fn) }) },
	)

	if cfg.VisionURL != "" {
		s.link = vision.New(cfg.VisionURL,
			func(data []byte) { s.post(func() { s.handleVisionMessage(data) }) },
			func(connected bool) { metrics.SetVisionConnected(connected) },
			warn,
		)
	}
	return s
}

// Handler returns the HTTP surface: the producer socket, health, and metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	r.Use(chimiddleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	if s.cfg.MetricsAddr == fmt.Sprintf(":%d", s.cfg.Port) {
		r.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	}
	return r
}

// MetricsHandler serves the registry for a dedicated metrics listener.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})
}

// Run drives the dispatch loop and the vision link until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.link != nil {
		go func() { _ = s.link.Run(ctx) }()
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.loop:
			fn()
		case <-ticker.C:
			s.routes.Sweep()
		}
	}
}

// post schedules fn on the dispatch loop.
func (s *Server) post(fn func()) {
	s.loop <- fn
}

// send marshals v and enqueues it for p. A producer that cannot keep up with
// its own event stream is disconnected rather than allowed to stall the loop.
func (s *Server) send(p *producer, v any) {
	if p == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.sendRaw(p, b)
}

func (s *Server) sendRaw(p *producer, b []byte) {
	if p == nil {
		return
	}
	if !p.enqueue(b) {
		logx.Log.Warn().Str("client_id", p.id).Msg("producer too slow; closing connection")
		p.close()
	}
}

func (s *Server) sendError(p *producer, code, message, frameID string) {
	s.send(p, protocol.NewError(code, message, frameID))
}

func (s *Server) nowMS() int64 { return s.now().UnixMilli() }
