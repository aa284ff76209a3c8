// Package config loads the process's environment configuration
// (spec.md §6 "Configuration"): five flat scalar variables, optionally
// seeded from a local .env file in development. A hierarchical config
// library like spf13/viper is deliberately not used here — see DESIGN.md —
// since there is no nesting, no file-format negotiation, and no
// hot-reload requirement to justify one.
package config

//go:generate go tool errtrace -w .

import (
	"fmt"
	"os"

	"braces.dev/errtrace"
	"github.com/joho/godotenv"
)

// Config is the fully resolved process configuration.
type Config struct {
	Port                 string
	BackendPublicKeyPEM  []byte
	PrivateKeyPEM        []byte
	PerformTradeEndpoint string
	NodeEnv              string
}

// Development reports whether NodeEnv is the development environment (the
// empty string also counts, matching spec.md §6's "if not development").
func (c *Config) Development() bool {
	return c.NodeEnv == "" || c.NodeEnv == "development"
}

// Load reads environment variables, first merging in a .env file if one is
// present (ignored if absent; development convenience only).
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		Port:                 os.Getenv("PORT"),
		PerformTradeEndpoint: os.Getenv("PERFORM_TRADE_ENDPOINT"),
		NodeEnv:              os.Getenv("NODE_ENV"),
	}
	if v := os.Getenv("BACKEND_PUBLIC_KEY"); v != "" {
		c.BackendPublicKeyPEM = []byte(v)
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		c.PrivateKeyPEM = []byte(v)
	}

	if err := c.validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return c, nil
}

// validate enforces the fatal-unless-development and
// settlement-requires-auth checks from spec.md §6 verbatim.
func (c *Config) validate() error {
	if c.Port == "" && !c.Development() {
		return errtrace.Wrap(fmt.Errorf("config: PORT is required outside development"))
	}
	if c.Port == "" {
		c.Port = "8080"
	}

	tradingConfigured := len(c.PrivateKeyPEM) > 0 && c.PerformTradeEndpoint != ""
	if tradingConfigured && len(c.BackendPublicKeyPEM) == 0 {
		return errtrace.Wrap(fmt.Errorf("config: settlement is configured but BACKEND_PUBLIC_KEY is absent: settlement without authentication is forbidden"))
	}

	if !c.Development() {
		if len(c.BackendPublicKeyPEM) == 0 {
			return errtrace.Wrap(fmt.Errorf("config: BACKEND_PUBLIC_KEY is required outside development"))
		}
		if len(c.PrivateKeyPEM) == 0 {
			return errtrace.Wrap(fmt.Errorf("config: PRIVATE_KEY is required outside development"))
		}
		if c.PerformTradeEndpoint == "" {
			return errtrace.Wrap(fmt.Errorf("config: PERFORM_TRADE_ENDPOINT is required outside development"))
		}
	}
	return nil
}
