package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haldvik/lookout/internal/config"
	"github.com/haldvik/lookout/internal/gateway"
	"github.com/haldvik/lookout/internal/journal"
	"github.com/haldvik/lookout/internal/logx"
	"github.com/haldvik/lookout/internal/metrics"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.Config
	// Resolve config with precedence: defaults < file < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv() // allows CONFIG_FILE from env
	// Allow --config to override file path before loading it
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "--config" && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") {
			cfg.ConfigFile = strings.TrimPrefix(a, "--config=")
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	// Overlay env (after file) and then bind flags; args parsed below
	cfg.ApplyEnv()
	cfg.BindFlags()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "lookout version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("lookout version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	warn := logx.NewLimiter(cfg.WarnCooldown.D())
	var jn *journal.Journal
	if cfg.RedisAddr != "" {
		var err error
		jn, err = journal.New(journal.Config{
			Addr: cfg.RedisAddr,
			Max:  cfg.JournalMax,
			TTL:  cfg.JournalTTL.D(),
		}, warn)
		if err != nil {
			logx.Log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect redis")
		}
		defer func() { _ = jn.Close() }()
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("event journal enabled")
	}

	gw := gateway.New(cfg, jn)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: gw.Handler()}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", gw.MetricsHandler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logx.Log.Warn().Msg("termination requested")
		cancel()
	}()

	go func() { _ = gw.Run(ctx) }()
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
	}()
	if metricsSrv != nil {
		go func() {
			<-ctx.Done()
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	if cfg.VisionURL != "" {
		logx.Log.Info().Str("url", cfg.VisionURL).Msg("vision link enabled")
	}
	if cfg.CaptionURL != "" {
		logx.Log.Info().Str("url", cfg.CaptionURL).Msg("captioning enabled")
	}
	if cfg.ExecutiveURL != "" {
		logx.Log.Info().Str("url", cfg.ExecutiveURL).Msg("executive enabled")
	}
	logx.Log.Info().Int("port", cfg.Port).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
