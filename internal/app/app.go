// Package app wires the configured collaborators into a gateway. Both the
// server and the command line client start from here.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"aichat/internal/audit"
	"aichat/internal/autoselect"
	"aichat/internal/config"
	"aichat/internal/crypto"
	"aichat/internal/gateway"
	"aichat/internal/metrics"
	"aichat/internal/providers"
	"aichat/internal/providers/registry"
	"aichat/internal/queue"
	"aichat/internal/redact"
	"aichat/internal/storage"
)

type App struct {
	Registry   *registry.Registry
	Dispatcher *gateway.Dispatcher
	Gateway    *gateway.Gateway
	// Store and Redis are nil when not configured.
	Store  *storage.Store
	Redis  *redis.Client
	Sealer *crypto.Sealer
}

// Options tweak the wiring for callers that do not need every collaborator.
type Options struct {
	SkipRedis  bool
	HTTPClient gateway.Doer
	Metrics    *metrics.Metrics
}

func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.Client.Timeout}
	}

	reg, err := registry.Default(Overrides(cfg.Providers))
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}
	level, err := redact.ParseLevel(cfg.Gateway.RedactionLevel)
	if err != nil {
		return nil, err
	}
	policy, err := autoselect.ParsePolicy(cfg.Gateway.AutoPolicy)
	if err != nil {
		return nil, err
	}

	a := &App{Registry: reg}
	success := false
	defer func() {
		if !success {
			a.Close()
		}
	}()

	gcfg := gateway.Config{
		Redactor: redact.New(level),
		Logger:   logger,
		Metrics:  opts.Metrics,
	}
	if cfg.DB.Enabled() {
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.Store = store
		gcfg.Auditor = audit.New(audit.Config{Store: store})
		gcfg.History = store
	} else {
		logger.Warn().Msg("DB_DSN not set, chat history is disabled")
	}

	if cfg.Redis.Enabled() && !opts.SkipRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = rdb
	}
	if cfg.Crypto.Enabled() {
		sealer, err := crypto.NewSealer(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			return nil, fmt.Errorf("init sealer: %w", err)
		}
		a.Sealer = sealer
	}

	a.Dispatcher = gateway.NewDispatcher(gateway.DispatcherConfig{
		Registry:   reg,
		HTTPClient: opts.HTTPClient,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	gcfg.Dispatcher = a.Dispatcher
	gcfg.Selector = autoselect.New(autoselect.Config{
		Answerer: a.Dispatcher,
		Catalog:  reg,
		Default:  providers.ToolID(cfg.Gateway.AutoDefault),
		Fallback: providers.ToolID(cfg.Gateway.AutoFallback),
		Policy:   policy,
		Logger:   logger,
	})
	a.Gateway = gateway.New(gcfg)

	success = true
	return a, nil
}

// Async returns the queue collaborators, or nil when redis or the master key
// is missing.
func (a *App) Async(cfg *config.Config, consumer string) *AsyncParts {
	if a.Redis == nil || a.Sealer == nil {
		return nil
	}
	return &AsyncParts{
		Queue:   queue.NewStreamQueue(a.Redis, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, consumer, cfg.Redis.QueueBlock),
		Dedupe:  queue.NewTurnDeduplicator(a.Redis, cfg.Redis.DedupeTTL),
		Results: queue.NewResultStore(a.Redis, cfg.Redis.ResultTTL),
		Limiter: queue.NewRateLimiter(a.Redis, cfg.Rate.TurnsPerHour),
	}
}

type AsyncParts struct {
	Queue   *queue.StreamQueue
	Dedupe  *queue.TurnDeduplicator
	Results *queue.ResultStore
	Limiter *queue.RateLimiter
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

// Overrides maps the provider file entries onto registry build options.
func Overrides(in []config.ProviderOverride) []registry.BuildOptions {
	out := make([]registry.BuildOptions, 0, len(in))
	for _, p := range in {
		out = append(out, registry.BuildOptions{
			Tool:         providers.ToolID(p.Tool),
			Kind:         p.Kind,
			BaseURL:      p.Endpoint,
			Model:        p.Model,
			Endpoint:     p.API,
			Path:         p.Path,
			InputField:   p.InputField,
			Extra:        p.Extra,
			ResponseKeys: p.ResponseKeys,
			AuthHeader:   p.AuthHeader,
			AuthScheme:   p.AuthScheme,
			Headers:      p.Headers,
			BodyTemplate: p.BodyTemplate,
			Keyless:      p.Keyless,
			AllowHost:    p.AllowHost,
		})
	}
	return out
}
