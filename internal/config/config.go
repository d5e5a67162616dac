// Package config loads the scheduler's environment-driven configuration
// (§6) via internal/env's reflection-based loader, grounded on the
// the source internal/config package and its MONO_-prefixed env
// variables, generalized to SCHEDULER_-prefixed scheduler knobs.
package config

import (
	"fmt"
	"time"

	"github.com/rezkam/mono/internal/advanced"
	"github.com/rezkam/mono/internal/cache"
	"github.com/rezkam/mono/internal/control"
	"github.com/rezkam/mono/internal/dispatch"
	"github.com/rezkam/mono/internal/env"
	"github.com/rezkam/mono/internal/fleet"
	"github.com/rezkam/mono/internal/observability"
	"github.com/rezkam/mono/internal/retry"
)

// Config is the top-level scheduler configuration (§6), assembled from
// environment variables with internal/env and defaulted where §6 names a
// default.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Cache   CacheConfig
	OTel    observability.Config
	Control control.Config
	Fleet   fleet.Config
	Retry   retry.Config
	History HistoryConfig
	Dispatch DispatchConfig
	Priority PriorityConfig
}

// ServerConfig controls the scheduler process's own listening surface.
type ServerConfig struct {
	Env       string `env:"SCHEDULER_ENV"`
	InstanceID string `env:"SCHEDULER_INSTANCE_ID"`
	HealthPort string `env:"SCHEDULER_HEALTH_PORT"`
}

// StoreConfig selects and configures the persistent backend.
type StoreConfig struct {
	Backend         string        `env:"SCHEDULER_STORE_BACKEND"` // "postgres" or "memory"
	PostgresDSN     string        `env:"SCHEDULER_POSTGRES_DSN"`
	MaxOpenConns    int           `env:"SCHEDULER_POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `env:"SCHEDULER_POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `env:"SCHEDULER_POSTGRES_CONN_MAX_LIFETIME"`
}

// Validate implements env.Validator.
func (s StoreConfig) Validate() error {
	switch s.Backend {
	case "", "memory":
		return nil
	case "postgres":
		if s.PostgresDSN == "" {
			return fmt.Errorf("SCHEDULER_POSTGRES_DSN is required when SCHEDULER_STORE_BACKEND=postgres")
		}
		return nil
	default:
		return fmt.Errorf("unknown SCHEDULER_STORE_BACKEND: %s", s.Backend)
	}
}

// CacheConfig selects and configures the sorted-set/queue cache backend.
type CacheConfig struct {
	Backend  string `env:"SCHEDULER_CACHE_BACKEND"` // "redis" or "memory"
	RedisURL string `env:"SCHEDULER_REDIS_URL"`
}

// Validate implements env.Validator.
func (c CacheConfig) Validate() error {
	switch c.Backend {
	case "", "memory":
		return nil
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("SCHEDULER_REDIS_URL is required when SCHEDULER_CACHE_BACKEND=redis")
		}
		return nil
	default:
		return fmt.Errorf("unknown SCHEDULER_CACHE_BACKEND: %s", c.Backend)
	}
}

// HistoryConfig controls execution-history retention (§4.I, §6 audit
// logging retention).
type HistoryConfig struct {
	MaxEntries int           `env:"SCHEDULER_HISTORY_MAX_ENTRIES"`
	RetentionDays int        `env:"SCHEDULER_HISTORY_RETENTION_DAYS"`
	Window     time.Duration `env:"-"`
}

// DispatchConfig selects the load-balancing strategy (§4.F, §6).
type DispatchConfig struct {
	Strategy string `env:"SCHEDULER_LOAD_BALANCING_STRATEGY"`
}

// PriorityConfig controls priority-inheritance behavior (§4.J, §6).
type PriorityConfig struct {
	Strategy string  `env:"SCHEDULER_PRIORITY_INHERITANCE_STRATEGY"`
	Decay    float64 `env:"SCHEDULER_PRIORITY_DECAY"`
	MaxDepth int     `env:"SCHEDULER_PRIORITY_MAX_DEPTH"`
}

// Load reads the full Config from the environment, applying §6's stated
// defaults for any field left unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Env == "" {
		cfg.Server.Env = "dev"
	}
	if cfg.Server.HealthPort == "" {
		cfg.Server.HealthPort = "8080"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = observability.DefaultServiceName
	}

	def := control.DefaultConfig()
	if cfg.Control.TickInterval == 0 {
		cfg.Control.TickInterval = def.TickInterval
	}
	if cfg.Control.MaxJobsPerBandPerTick == 0 {
		cfg.Control.MaxJobsPerBandPerTick = def.MaxJobsPerBandPerTick
	}
	if cfg.Control.ScheduledScanInterval == 0 {
		cfg.Control.ScheduledScanInterval = def.ScheduledScanInterval
	}
	if cfg.Control.HeartbeatSweepInterval == 0 {
		cfg.Control.HeartbeatSweepInterval = def.HeartbeatSweepInterval
	}
	if cfg.Control.RebalanceInterval == 0 {
		cfg.Control.RebalanceInterval = def.RebalanceInterval
	}
	if cfg.Control.CronEvalInterval == 0 {
		cfg.Control.CronEvalInterval = def.CronEvalInterval
	}
	if cfg.Control.StuckSweepInterval == 0 {
		cfg.Control.StuckSweepInterval = def.StuckSweepInterval
	}
	if cfg.Control.CleanupInterval == 0 {
		cfg.Control.CleanupInterval = def.CleanupInterval
	}

	fleetDef := fleet.DefaultConfig()
	if cfg.Fleet.HeartbeatTimeout == 0 {
		cfg.Fleet.HeartbeatTimeout = fleetDef.HeartbeatTimeout
	}
	if cfg.Fleet.HealthCheckInterval == 0 {
		cfg.Fleet.HealthCheckInterval = fleetDef.HealthCheckInterval
	}
	if cfg.Fleet.CleanupInterval == 0 {
		cfg.Fleet.CleanupInterval = fleetDef.CleanupInterval
	}
	if cfg.Fleet.CleanupThreshold == 0 {
		cfg.Fleet.CleanupThreshold = fleetDef.CleanupThreshold
	}
	if cfg.Fleet.ConsecutiveFailureMax == 0 {
		cfg.Fleet.ConsecutiveFailureMax = fleetDef.ConsecutiveFailureMax
	}
	if cfg.Fleet.RegistrationWindow == 0 {
		cfg.Fleet.RegistrationWindow = fleetDef.RegistrationWindow
	}
	if cfg.Fleet.RegistrationMaxFails == 0 {
		cfg.Fleet.RegistrationMaxFails = fleetDef.RegistrationMaxFails
	}
	if cfg.Fleet.NotificationThrottle == 0 {
		cfg.Fleet.NotificationThrottle = fleetDef.NotificationThrottle
	}

	retryDef := retry.DefaultConfig()
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = retryDef.BaseDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = retryDef.Multiplier
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = retryDef.MaxDelay
	}
	if cfg.Retry.DLQCapacity == 0 {
		cfg.Retry.DLQCapacity = retryDef.DLQCapacity
	}
	if cfg.Retry.DLQTTL == 0 {
		cfg.Retry.DLQTTL = retryDef.DLQTTL
	}
	if cfg.Retry.StuckThreshold == 0 {
		cfg.Retry.StuckThreshold = retryDef.StuckThreshold
	}

	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = 10000
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}
	cfg.History.Window = time.Duration(cfg.History.RetentionDays) * 24 * time.Hour

	if cfg.Dispatch.Strategy == "" {
		cfg.Dispatch.Strategy = string(dispatch.StrategyIntelligent)
	}

	if cfg.Priority.Strategy == "" {
		cfg.Priority.Strategy = string(advanced.InheritMaxPriority)
	}
	if cfg.Priority.Decay == 0 {
		cfg.Priority.Decay = 0.8
	}
	if cfg.Priority.MaxDepth == 0 {
		cfg.Priority.MaxDepth = 5
	}
}

// CacheKeyPrefixes re-exports the cache package's namespaced key
// constants so callers configuring a cache.Cache backend don't need to
// import both packages.
var CacheKeyPrefixes = struct {
	Job, Worker string
}{Job: cache.PrefixJobCache, Worker: cache.PrefixWorkerCache}
