package scheduler

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds timeout scanner parameters.
type Config struct {
	Enabled     *bool  `toml:"enabled"`
	Interval    string `toml:"interval"`
	Concurrency int    `toml:"concurrency"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Enabled     string
	Interval    string
	Concurrency string
}

// IntervalDuration returns Interval as a time.Duration.
func (c *Config) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	return d
}

// IsEnabled reports whether the scanner should run. Nil means enabled.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Enabled != nil {
		c.Enabled = overlay.Enabled
	}
	if overlay.Interval != "" {
		c.Interval = overlay.Interval
	}
	if overlay.Concurrency != 0 {
		c.Concurrency = overlay.Concurrency
	}
}

func (c *Config) loadDefaults() {
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.Enabled = &b
			}
		}
	}
	if env.Interval != "" {
		if v := os.Getenv(env.Interval); v != "" {
			c.Interval = v
		}
	}
	if env.Concurrency != "" {
		if v := os.Getenv(env.Concurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.Concurrency = n
			}
		}
	}
}

func (c *Config) validate() error {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("interval must be positive: %s", c.Interval)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1: %d", c.Concurrency)
	}
	return nil
}
