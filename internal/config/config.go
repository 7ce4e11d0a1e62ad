package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/cascade/internal/identity"
	"github.com/JaimeStill/cascade/internal/scheduler"
	"github.com/JaimeStill/cascade/pkg/database"
	"github.com/JaimeStill/cascade/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvCascadeEnv             = "CASCADE_ENV"
	EnvCascadeShutdownTimeout = "CASCADE_SHUTDOWN_TIMEOUT"
	EnvCascadeVersion         = "CASCADE_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "CASCADE_DB_HOST",
	Port:            "CASCADE_DB_PORT",
	Name:            "CASCADE_DB_NAME",
	User:            "CASCADE_DB_USER",
	Password:        "CASCADE_DB_PASSWORD",
	SSLMode:         "CASCADE_DB_SSL_MODE",
	MaxOpenConns:    "CASCADE_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "CASCADE_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "CASCADE_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "CASCADE_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "CASCADE_STORAGE_CONTAINER_NAME",
	ConnectionString: "CASCADE_STORAGE_CONNECTION_STRING",
}

var identityEnv = &identity.Env{
	Enabled:    "CASCADE_IDENTITY_ENABLED",
	Issuer:     "CASCADE_IDENTITY_ISSUER",
	ClientID:   "CASCADE_IDENTITY_CLIENT_ID",
	RolesClaim: "CASCADE_IDENTITY_ROLES_CLAIM",
}

var schedulerEnv = &scheduler.Env{
	Enabled:     "CASCADE_SCHEDULER_ENABLED",
	Interval:    "CASCADE_SCHEDULER_INTERVAL",
	Concurrency: "CASCADE_SCHEDULER_CONCURRENCY",
}

// Config is the root configuration for the Cascade service.
type Config struct {
	Server          ServerConfig     `toml:"server"`
	Database        database.Config  `toml:"database"`
	Storage         storage.Config   `toml:"storage"`
	API             APIConfig        `toml:"api"`
	Identity        identity.Config  `toml:"identity"`
	Scheduler       scheduler.Config `toml:"scheduler"`
	ShutdownTimeout string           `toml:"shutdown_timeout"`
	Version         string           `toml:"version"`
}

// Env returns the CASCADE_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvCascadeEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Identity.Merge(&overlay.Identity)
	c.Scheduler.Merge(&overlay.Scheduler)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Identity.Finalize(identityEnv); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := c.Scheduler.Finalize(schedulerEnv); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvCascadeShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvCascadeVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvCascadeEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
