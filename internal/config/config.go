// Package config defines configuration parsing and helpers for the sync
// kernel host process.
package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds every tunable the kernel and its host process need. Each
// value comes from its environment variable when that is set, otherwise from
// the field's envDefault tag (see Load for how defaults.yaml fits in).
type Config struct {
	AppEnv          string `env:"APP_ENV" envDefault:"dev"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"syncd"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`

	// StorePath is the on-disk path of the embedded database; ":memory:" for
	// ephemeral/test runs.
	StorePath string `env:"STORE_PATH" envDefault:"./data/syncd.db"`

	// Retry ceiling and backoff curve (spec.md §4.3). MaxRetries mirrors
	// domain.MaxRetries; kept configurable for test environments that want a
	// shorter ceiling, but the shipped default matches the pinned constant.
	MaxRetries       int           `env:"SYNC_MAX_RETRIES" envDefault:"5"`
	InitialBackoff   time.Duration `env:"SYNC_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff       time.Duration `env:"SYNC_MAX_BACKOFF" envDefault:"60s"`
	AutoSyncInterval time.Duration `env:"AUTO_SYNC_INTERVAL" envDefault:"60s"`

	// Data lifecycle (spec.md §4.7).
	UnsyncedRetention time.Duration `env:"UNSYNCED_RETENTION" envDefault:"168h"` // 7 days
	StorageCapMB      int64         `env:"STORAGE_CAP_MB" envDefault:"100"`
	MLStorageCapMB    int64         `env:"ML_STORAGE_CAP_MB" envDefault:"80"`
	MLStorageWarnPct  int           `env:"ML_STORAGE_WARN_PCT" envDefault:"80"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Transport-level HTTP retry (distinct curve from the queue scheduler's;
	// see internal/transport/httptransport).
	SyncEndpoint            string        `env:"SYNC_ENDPOINT" envDefault:"http://127.0.0.1:9000/v1/sync"`
	UploadTimeout           time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"30s"`
	UploadBackoffMaxElapsed time.Duration `env:"UPLOAD_BACKOFF_MAX_ELAPSED" envDefault:"45s"`
	UploadBackoffInitial    time.Duration `env:"UPLOAD_BACKOFF_INITIAL" envDefault:"500ms"`
	UploadBackoffMax        time.Duration `env:"UPLOAD_BACKOFF_MAX" envDefault:"10s"`
	UploadBackoffMultiplier float64       `env:"UPLOAD_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	// Network monitor (spec.md §4.4). NetProbeAddr defaults to the sync
	// endpoint's host so "can we reach the sync server" is the connectivity
	// signal out of the box; point it elsewhere (e.g. a known-stable host) to
	// decouple the two.
	NetProbeAddr     string        `env:"NET_PROBE_ADDR" envDefault:"127.0.0.1:9000"`
	NetProbeInterval time.Duration `env:"NET_PROBE_INTERVAL" envDefault:"5s"`
	NetProbeTimeout  time.Duration `env:"NET_PROBE_TIMEOUT" envDefault:"2s"`

	// Operator API (spec.md §6), a local-only HTTP surface.
	OperatorAddr            string        `env:"OPERATOR_ADDR" envDefault:"127.0.0.1:8787"`
	OperatorCORSOrigins     string        `env:"OPERATOR_CORS_ORIGINS" envDefault:"*"`
	OperatorRateLimitPerMin int           `env:"OPERATOR_RATE_LIMIT_PER_MIN" envDefault:"60"`
	HTTPReadTimeout         time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout        time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout         time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load decodes the bundled defaults.yaml into a Config and then runs
// caarlos0/env over it. env.Parse assigns every field that has an envDefault
// tag (all of them) from its environment variable or, when that is unset,
// from the tag, so the YAML values are overwritten and do not reach the
// returned Config.
func Load() (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load.yaml: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load.env: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
