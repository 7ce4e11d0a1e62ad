package identity

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds OIDC verification parameters.
// When Enabled is false, requests are attributed to a development caller
// built from override headers; no tokens are verified.
type Config struct {
	Enabled    bool   `toml:"enabled"`
	Issuer     string `toml:"issuer"`
	ClientID   string `toml:"client_id"`
	RolesClaim string `toml:"roles_claim"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Enabled    string
	Issuer     string
	ClientID   string
	RolesClaim string
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
	if overlay.Enabled {
		c.Enabled = overlay.Enabled
	}
	if overlay.Issuer != "" {
		c.Issuer = overlay.Issuer
	}
	if overlay.ClientID != "" {
		c.ClientID = overlay.ClientID
	}
	if overlay.RolesClaim != "" {
		c.RolesClaim = overlay.RolesClaim
	}
}

func (c *Config) loadDefaults() {
	if c.RolesClaim == "" {
		c.RolesClaim = "roles"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Enabled != "" {
		if v := os.Getenv(env.Enabled); v != "" {
			if enabled, err := strconv.ParseBool(v); err == nil {
				c.Enabled = enabled
			}
		}
	}
	if env.Issuer != "" {
		if v := os.Getenv(env.Issuer); v != "" {
			c.Issuer = v
		}
	}
	if env.ClientID != "" {
		if v := os.Getenv(env.ClientID); v != "" {
			c.ClientID = v
		}
	}
	if env.RolesClaim != "" {
		if v := os.Getenv(env.RolesClaim); v != "" {
			c.RolesClaim = v
		}
	}
}

func (c *Config) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer required when identity is enabled")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id required when identity is enabled")
	}
	return nil
}
