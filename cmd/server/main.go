package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aichat/internal/app"
	"aichat/internal/config"
	"aichat/internal/httpapi"
	"aichat/internal/metrics"
	"aichat/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Bool("history", cfg.DB.Enabled()).
		Bool("redis", cfg.Redis.Enabled()).
		Bool("sealer", cfg.Crypto.Enabled()).
		Str("redaction", cfg.Gateway.RedactionLevel).
		Str("auto_policy", cfg.Gateway.AutoPolicy).
		Msg("starting aichat server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.Global()
	a, err := app.Build(ctx, cfg, log.Logger, app.Options{Metrics: m})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gateway")
	}
	defer a.Close()
	log.Info().Int("tools", len(a.Registry.Tools())).Msg("provider registry ready")

	apiCfg := httpapi.Config{
		Gateway: a.Gateway,
		Tools:   a.Registry,
		Logger:  log.Logger,
		Metrics: m,
	}
	if a.Store != nil {
		apiCfg.History = a.Store
	}

	errCh := make(chan error, 2)
	parts := a.Async(cfg, cfg.Worker.ConsumerName)
	if parts != nil {
		apiCfg.Async = &httpapi.Async{
			Queue:   parts.Queue,
			Dedupe:  parts.Dedupe,
			Results: parts.Results,
			Sealer:  a.Sealer,
			Limiter: parts.Limiter,
		}
		if cfg.Worker.Enabled {
			w := worker.New(worker.Config{
				Sender:  a.Gateway,
				Queue:   parts.Queue,
				Results: parts.Results,
				Opener:  a.Sealer,
				Logger:  log.Logger,
			})
			go func() {
				if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
					errCh <- fmt.Errorf("worker failed: %w", err)
				}
			}()
			log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")
		}
	} else {
		log.Warn().Msg("REDIS_ADDR or master key not set, async turns are disabled")
	}

	r := chi.NewRouter()
	r.Get(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle(cfg.HTTP.MetricsPath, promhttp.Handler())
	httpapi.New(apiCfg).Routes(r)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
