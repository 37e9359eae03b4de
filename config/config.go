// Package config loads runtime configuration from TOML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"parley/comm"
	"parley/rpc"
	"parley/transport"
)

// Store backend names accepted in [store].
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreNATS   = "nats"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel  string              `toml:"log_level"`
	Endpoints map[string]Endpoint `toml:"endpoints"`
	Ledger    Ledger              `toml:"ledger"`
	Store     StoreConfig         `toml:"store"`
	Breaker   Breaker             `toml:"breaker"`
}

// Endpoint configures one tool endpoint subprocess and its timeout
// classes.
type Endpoint struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`

	// CallTimeoutSeconds is the per-request deadline for ordinary tools.
	CallTimeoutSeconds int `toml:"call_timeout_seconds"`

	// SlowCallTimeoutSeconds is the deadline for tools in SlowTools.
	SlowCallTimeoutSeconds int `toml:"slow_call_timeout_seconds"`

	// SlowTools names the LLM-class tools that get the longer bound.
	SlowTools []string `toml:"slow_tools"`
}

// Ledger configures the exchange ledger limits.
type Ledger struct {
	MaxExchanges  int `toml:"max_exchanges"`
	WarnThreshold int `toml:"warn_threshold"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	// Backend is one of memory, bolt, nats.
	Backend string `toml:"backend"`

	// Path is the database file for the bolt backend.
	Path string `toml:"path"`

	// URL is the server address for the nats backend.
	URL string `toml:"url"`

	// Bucket is the KV bucket for the nats backend.
	Bucket string `toml:"bucket"`
}

// Breaker configures the circuit breaker.
type Breaker struct {
	Threshold int `toml:"threshold"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		LogLevel:  "INFO",
		Endpoints: make(map[string]Endpoint),
		Ledger: Ledger{
			MaxExchanges:  comm.DefaultMaxExchanges,
			WarnThreshold: comm.DefaultWarnThreshold,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
		},
		Breaker: Breaker{
			Threshold: 3,
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses configuration from TOML content and applies defaults.
func Parse(content string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreNATS:
	case StoreBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("store: bolt backend requires path")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	if c.Ledger.MaxExchanges <= 0 {
		return fmt.Errorf("ledger: max_exchanges must be positive")
	}
	if c.Ledger.WarnThreshold < 0 || c.Ledger.WarnThreshold > c.Ledger.MaxExchanges {
		return fmt.Errorf("ledger: warn_threshold must be between 0 and max_exchanges")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker: threshold must be positive")
	}
	for name, ep := range c.Endpoints {
		if ep.Command == "" {
			return fmt.Errorf("endpoint %q: command is required", name)
		}
		if ep.CallTimeoutSeconds < 0 || ep.SlowCallTimeoutSeconds < 0 {
			return fmt.Errorf("endpoint %q: timeouts must not be negative", name)
		}
	}
	return nil
}

// ClientConfig builds an rpc.Config for a named endpoint.
func (c *Config) ClientConfig(name string) (rpc.Config, error) {
	ep, ok := c.Endpoints[name]
	if !ok {
		return rpc.Config{}, fmt.Errorf("unknown endpoint %q", name)
	}
	return rpc.Config{
		Command: transport.Command{
			Path: ep.Command,
			Args: ep.Args,
			Env:  ep.Env,
		},
		CallTimeout:     time.Duration(ep.CallTimeoutSeconds) * time.Second,
		SlowCallTimeout: time.Duration(ep.SlowCallTimeoutSeconds) * time.Second,
		SlowTools:       ep.SlowTools,
	}, nil
}

// LedgerOptions builds comm.Ledger options from the configuration.
func (c *Config) LedgerOptions() []comm.Option {
	return []comm.Option{
		comm.WithMaxExchanges(c.Ledger.MaxExchanges),
		comm.WithWarnThreshold(c.Ledger.WarnThreshold),
	}
}
