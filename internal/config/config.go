// Package config builds the runtime configuration from the tier defaults
// and HARRIER_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/harrier/internal/domain"
)

const envPrefix = "HARRIER_"

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set
// in the environment win.
func Load() (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file", "error", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration using lookup for variable access.
func FromEnv(lookup func(string) (string, bool)) (*domain.Config, error) {
	e := env{lookup: lookup}

	cfg := domain.DefaultConfig()
	if e.str("TIER", "") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	cfg.Server.Host = e.str("HOST", cfg.Server.Host)
	cfg.Server.Port = e.int("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = e.int("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = e.int("WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	r := &cfg.Repository
	r.Driver = e.str("DB_DRIVER", r.Driver)
	r.SQLitePath = e.str("SQLITE_PATH", r.SQLitePath)
	r.PostgresHost = e.str("POSTGRES_HOST", r.PostgresHost)
	r.PostgresPort = e.int("POSTGRES_PORT", r.PostgresPort)
	r.PostgresUser = e.str("POSTGRES_USER", r.PostgresUser)
	r.PostgresPassword = e.str("POSTGRES_PASSWORD", r.PostgresPassword)
	r.PostgresDB = e.str("POSTGRES_DB", r.PostgresDB)
	r.PostgresSSLMode = e.str("POSTGRES_SSLMODE", r.PostgresSSLMode)
	r.MaxOpenConns = e.int("DB_MAX_OPEN_CONNS", r.MaxOpenConns)
	r.MaxIdleConns = e.int("DB_MAX_IDLE_CONNS", r.MaxIdleConns)
	r.ConnMaxLifetime = e.duration("DB_CONN_MAX_LIFETIME", r.ConnMaxLifetime)

	c := &cfg.Cache
	c.Type = e.str("CACHE_TYPE", c.Type)
	c.LocalMaxSize = e.int("CACHE_LOCAL_MAX_SIZE", c.LocalMaxSize)
	c.LocalTTL = e.duration("CACHE_LOCAL_TTL", c.LocalTTL)
	c.RedisAddr = e.str("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = e.str("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = e.int("REDIS_DB", c.RedisDB)
	c.EnableTwoPhase = e.bool("CACHE_TWO_PHASE", c.EnableTwoPhase)
	c.ResponseTTL = e.duration("CACHE_RESPONSE_TTL", c.ResponseTTL)

	b := &cfg.EventBus
	b.Type = e.str("BUS_TYPE", b.Type)
	b.ChannelBufferSize = e.int("BUS_BUFFER_SIZE", b.ChannelBufferSize)
	b.NATSUrl = e.str("NATS_URL", b.NATSUrl)
	b.NATSToken = e.str("NATS_TOKEN", b.NATSToken)
	b.NATSMaxReconnects = e.int("NATS_MAX_RECONNECTS", b.NATSMaxReconnects)
	b.NATSReconnectWait = e.int("NATS_RECONNECT_WAIT", b.NATSReconnectWait)
	b.NATSQueueGroup = e.str("NATS_QUEUE_GROUP", b.NATSQueueGroup)

	m := &cfg.Model
	m.Kind = e.str("MODEL", m.Kind)
	m.Dir = e.str("MODEL_DIR", m.Dir)
	m.URL = e.str("MODEL_URL", m.URL)
	m.Timeout = e.duration("MODEL_TIMEOUT", m.Timeout)

	cfg.Velocity.Window = e.duration("VELOCITY_WINDOW", cfg.Velocity.Window)

	x := &cfg.Explain
	x.APIKey = e.str("OPENROUTER_API_KEY", x.APIKey)
	x.BaseURL = e.str("OPENROUTER_BASE_URL", x.BaseURL)
	x.Model = e.str("OPENROUTER_MODEL", x.Model)
	x.Timeout = e.duration("EXPLAIN_TIMEOUT", x.Timeout)

	w := &cfg.Worker
	w.Enabled = e.bool("ASYNC_WORKER", w.Enabled)
	w.WorkerCount = e.int("WORKER_COUNT", w.WorkerCount)
	if tenants := e.str("TENANTS", ""); tenants != "" {
		w.TenantIDs = splitList(tenants)
	}

	cfg.Logging.Level = e.str("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = e.str("LOG_FORMAT", cfg.Logging.Format)

	t := &cfg.Tracing
	t.Endpoint = e.str("OTLP_ENDPOINT", t.Endpoint)
	t.Enabled = e.bool("TRACING", t.Enabled || t.Endpoint != "")
	t.Insecure = e.bool("OTLP_INSECURE", t.Insecure)
	t.ServiceName = e.str("SERVICE_NAME", t.ServiceName)

	if len(e.errs) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(e.errs, "; "))
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func Validate(cfg *domain.Config) error {
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported database driver %q", domain.ErrInvalidInput, cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unsupported cache type %q", domain.ErrInvalidInput, cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("%w: unsupported event bus type %q", domain.ErrInvalidInput, cfg.EventBus.Type)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", domain.ErrInvalidInput, cfg.Server.Port)
	}
	if cfg.Model.Kind == "remote" && cfg.Model.URL == "" {
		return fmt.Errorf("%w: HARRIER_MODEL_URL is required for the remote model", domain.ErrInvalidInput)
	}
	if cfg.Velocity.Window <= 0 {
		return fmt.Errorf("%w: velocity window must be positive", domain.ErrInvalidInput)
	}
	return nil
}

// env reads prefixed variables and collects parse errors.
type env struct {
	lookup func(string) (string, bool)
	errs   []string
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s%s: not an integer", envPrefix, key))
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s%s: not a boolean", envPrefix, key))
		return def
	}
	return b
}

// duration accepts Go durations ("90s") or plain seconds ("90").
func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s%s: not a duration", envPrefix, key))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
