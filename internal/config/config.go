package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingMasterKey   = errors.New("at least one master key is required")
	ErrInvalidRedaction   = errors.New("REDACTION_LEVEL must be 'basic' or 'strict'")
	ErrInvalidAutoPolicy  = errors.New("AUTO_CREDENTIAL_POLICY must be 'caller' or 'none'")
	ErrUnsupportedDriver  = errors.New("DB_DRIVER must be 'postgres' or 'sqlite'")
	ErrInvalidConcurrency = errors.New("WORKER_CONCURRENCY must be > 0")
)

type Config struct {
	HTTP      HTTPConfig
	Redis     RedisConfig
	DB        DBConfig
	Worker    WorkerConfig
	Client    ClientConfig
	Gateway   GatewayConfig
	Rate      RateConfig
	Crypto    CryptoConfig
	Log       LogConfig
	Providers []ProviderOverride
}

type HTTPConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

// RedisConfig is optional; an empty Addr disables async turns.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	QueueStream string
	QueueGroup  string
	QueueBlock  time.Duration
	DedupeTTL   time.Duration
	ResultTTL   time.Duration
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// DBConfig is optional; an empty DSN means no history is kept.
type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

func (d DBConfig) Enabled() bool { return d.DSN != "" }

type WorkerConfig struct {
	Enabled      bool
	Concurrency  int
	ConsumerName string
}

// ClientConfig configures outbound provider calls. A zero Timeout means none.
type ClientConfig struct {
	Timeout time.Duration
}

type GatewayConfig struct {
	RedactionLevel string
	AutoPolicy     string
	AutoDefault    string
	AutoFallback   string
}

type RateConfig struct {
	TurnsPerHour int64
}

// CryptoConfig is empty when no master key is set; async turns are then
// refused.
type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c CryptoConfig) Enabled() bool { return len(c.Keys) > 0 }

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			Addr:        mustEnv("REDIS_ADDR", ""),
			Password:    mustEnv("REDIS_PASSWORD", ""),
			DB:          mustInt("REDIS_DB", 0),
			QueueStream: mustEnv("QUEUE_STREAM", "aichat:turns"),
			QueueGroup:  mustEnv("QUEUE_GROUP", "aichat-workers"),
			QueueBlock:  mustDuration("QUEUE_BLOCK", 5*time.Second),
			DedupeTTL:   mustDuration("TURN_DEDUPE_TTL", 6*time.Hour),
			ResultTTL:   mustDuration("TURN_RESULT_TTL", time.Hour),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Worker: WorkerConfig{
			Enabled:      mustBool("WORKER_ENABLED", true),
			Concurrency:  mustInt("WORKER_CONCURRENCY", 4),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("worker")),
		},
		Client: ClientConfig{
			Timeout: mustDuration("HTTP_TIMEOUT", 0),
		},
		Gateway: GatewayConfig{
			RedactionLevel: strings.ToLower(mustEnv("REDACTION_LEVEL", "basic")),
			AutoPolicy:     strings.ToLower(mustEnv("AUTO_CREDENTIAL_POLICY", "caller")),
			AutoDefault:    mustEnv("AUTO_DEFAULT_TOOL", "GPT"),
			AutoFallback:   mustEnv("AUTO_FALLBACK_TOOL", "FreeTool"),
		},
		Rate: RateConfig{
			TurnsPerHour: mustInt64("RATE_LIMIT_PER_HOUR", 0),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.Gateway.RedactionLevel != "basic" && cfg.Gateway.RedactionLevel != "strict" {
		return nil, ErrInvalidRedaction
	}
	if cfg.Gateway.AutoPolicy != "caller" && cfg.Gateway.AutoPolicy != "none" {
		return nil, ErrInvalidAutoPolicy
	}
	if cfg.DB.Enabled() {
		switch cfg.DB.Driver {
		case "postgres", "pgx", "sqlite", "sqlite3":
		default:
			return nil, ErrUnsupportedDriver
		}
	}
	if cfg.Worker.Concurrency < 1 {
		return nil, ErrInvalidConcurrency
	}

	cc, err := loadCryptoConfig()
	if err != nil && !errors.Is(err, ErrMissingMasterKey) {
		return nil, err
	}
	cfg.Crypto = cc

	if path := mustEnv("PROVIDERS_FILE", ""); path != "" {
		overrides, err := LoadProviderFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Providers = overrides
	}

	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		if k == "MASTER_KEY_B64" || !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, ErrMissingMasterKey
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID is required when several master keys are set")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
