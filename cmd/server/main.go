package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Callbridge/internal/adapters/http"
	"github.com/dkeye/Callbridge/internal/app"
	"github.com/dkeye/Callbridge/internal/app/orch"
	"github.com/dkeye/Callbridge/internal/config"
	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/metrics"
	"github.com/dkeye/Callbridge/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	var (
		m    *metrics.Metrics
		deps router.Deps
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(metrics.Config{Registry: reg})
		deps.Gatherer = reg
	}

	var recorder core.CallRecorder = core.NopRecorder{}
	if cfg.CallLogPath != "" {
		calls, err := store.Open(cfg.CallLogPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CallLogPath).Msg("failed to open call log")
		}
		defer calls.Close()
		recorder = calls
		deps.CallLog = calls
	}

	o := orch.New(app.SimplePolicy{}, recorder, m)

	r := router.SetupRouter(ctx, cfg, o, deps)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Callbridge signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
