// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies which deployment environment the gateway runs in.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the master configuration for Herald components.
type Config struct {
	// Environment selects which overrides section applies.
	// Default: development
	Environment Environment `yaml:"environment"`

	Paths    PathsConfig    `yaml:"paths"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Vault    VaultConfig    `yaml:"vault"`
	Adapters AdaptersConfig `yaml:"adapters"`
	Notify   NotifyConfig   `yaml:"notify"`

	// Environment-specific overrides, applied when Environment matches.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains environment-specific configuration overrides.
// Only non-zero fields override the base configuration.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Gateway  *GatewayConfig  `yaml:"gateway,omitempty"`
	Vault    *VaultConfig    `yaml:"vault,omitempty"`
	Adapters *AdaptersConfig `yaml:"adapters,omitempty"`
	Notify   *NotifyConfig   `yaml:"notify,omitempty"`
}

// PathsConfig defines the directory layout for adapter storage.
//
// Adapter bundles, their runtimes, and their writable assets live in
// separate roots so that provisioning a runtime or an adapter writing
// its own state never changes the bundle's content hash.
type PathsConfig struct {
	// Root is the base directory for all Herald data.
	// Default: ~/.local/share/herald
	Root string `yaml:"root"`

	// Adapters holds one cloned bundle directory per adapter.
	// Default: ${HERALD_ROOT}/adapters
	Adapters string `yaml:"adapters"`

	// Runtimes holds one provisioned interpreter environment per adapter.
	// Default: ${HERALD_ROOT}/runtimes
	Runtimes string `yaml:"runtimes"`

	// Assets holds per-adapter writable data (sessions, caches).
	// Default: ${HERALD_ROOT}/assets
	Assets string `yaml:"assets"`

	// Staging is the scratch area for clones that are validated before
	// being installed, so a failed add never leaves a partial bundle.
	// Default: ${HERALD_ROOT}/staging
	Staging string `yaml:"staging"`
}

// GatewayConfig configures the publication gateway service.
type GatewayConfig struct {
	// Socket is the unix socket path the gateway listens on.
	// Default: /run/herald/gateway.sock
	Socket string `yaml:"socket"`

	// MaxWorkers caps concurrently handled requests.
	// Default: 10
	MaxWorkers int `yaml:"max_workers"`

	// OpsListen is the address for the HTTP operations endpoint
	// (health and metrics). Empty disables it.
	// Default: 127.0.0.1:2112
	OpsListen string `yaml:"ops_listen"`
}

// VaultConfig locates the credential vault service.
type VaultConfig struct {
	// Socket is the unix socket path of the vault.
	// Default: /run/herald/vault.sock
	Socket string `yaml:"socket"`

	// Timeout bounds each vault call. Must parse as a duration.
	// Default: 30s
	Timeout string `yaml:"timeout"`
}

// AdaptersConfig configures adapter invocation.
type AdaptersConfig struct {
	// InvokeTimeout bounds a single adapter subprocess from spawn to
	// exit. Must parse as a duration.
	// Default: 60s
	InvokeTimeout string `yaml:"invoke_timeout"`

	// Interpreter launches adapter entry points when a bundle has no
	// provisioned runtime of its own.
	// Default: python3
	Interpreter string `yaml:"interpreter"`
}

// NotifyConfig configures publication event delivery.
type NotifyConfig struct {
	// MockDeliverySMS reroutes delivery SMS to the error tracker as
	// info events instead of enqueueing real messages.
	// Default: false
	MockDeliverySMS bool `yaml:"mock_delivery_sms"`

	// RedisURL is the redis connection URL for the SMS queue.
	// Empty disables SMS delivery entirely.
	RedisURL string `yaml:"redis_url"`

	// SMSQueue is the redis list the SMS workers consume.
	// Default: herald:sms
	SMSQueue string `yaml:"sms_queue"`

	// SentryDSN enables error tracker reporting. Empty disables it.
	SentryDSN string `yaml:"sentry_dsn"`
}

// Default returns the default configuration.
// These are complete development defaults: unlike most fields, which a
// deployment overrides, they are sufficient to run the gateway locally.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "herald")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:     defaultRoot,
			Adapters: filepath.Join(defaultRoot, "adapters"),
			Runtimes: filepath.Join(defaultRoot, "runtimes"),
			Assets:   filepath.Join(defaultRoot, "assets"),
			Staging:  filepath.Join(defaultRoot, "staging"),
		},
		Gateway: GatewayConfig{
			Socket:     "/run/herald/gateway.sock",
			MaxWorkers: 10,
			OpsListen:  "127.0.0.1:2112",
		},
		Vault: VaultConfig{
			Socket:  "/run/herald/vault.sock",
			Timeout: "30s",
		},
		Adapters: AdaptersConfig{
			InvokeTimeout: "60s",
			Interpreter:   "python3",
		},
		Notify: NotifyConfig{
			SMSQueue: "herald:sms",
		},
	}
}

// Load loads configuration from the HERALD_CONFIG environment variable.
//
// When HERALD_CONFIG is unset the development defaults are returned
// as-is, so a local gateway runs without any config file. A set but
// unreadable path is an error, never silently ignored.
func Load() (*Config, error) {
	configPath := os.Getenv("HERALD_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME}, ${HERALD_ROOT}, and ${VAR:-default} patterns in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Adapters != "" {
			c.Paths.Adapters = overrides.Paths.Adapters
		}
		if overrides.Paths.Runtimes != "" {
			c.Paths.Runtimes = overrides.Paths.Runtimes
		}
		if overrides.Paths.Assets != "" {
			c.Paths.Assets = overrides.Paths.Assets
		}
		if overrides.Paths.Staging != "" {
			c.Paths.Staging = overrides.Paths.Staging
		}
	}

	if overrides.Gateway != nil {
		if overrides.Gateway.Socket != "" {
			c.Gateway.Socket = overrides.Gateway.Socket
		}
		if overrides.Gateway.MaxWorkers > 0 {
			c.Gateway.MaxWorkers = overrides.Gateway.MaxWorkers
		}
		if overrides.Gateway.OpsListen != "" {
			c.Gateway.OpsListen = overrides.Gateway.OpsListen
		}
	}

	if overrides.Vault != nil {
		if overrides.Vault.Socket != "" {
			c.Vault.Socket = overrides.Vault.Socket
		}
		if overrides.Vault.Timeout != "" {
			c.Vault.Timeout = overrides.Vault.Timeout
		}
	}

	if overrides.Adapters != nil {
		if overrides.Adapters.InvokeTimeout != "" {
			c.Adapters.InvokeTimeout = overrides.Adapters.InvokeTimeout
		}
		if overrides.Adapters.Interpreter != "" {
			c.Adapters.Interpreter = overrides.Adapters.Interpreter
		}
	}

	if overrides.Notify != nil {
		// MockDeliverySMS is a bool, so we always apply it from overrides.
		c.Notify.MockDeliverySMS = overrides.Notify.MockDeliverySMS
		if overrides.Notify.RedisURL != "" {
			c.Notify.RedisURL = overrides.Notify.RedisURL
		}
		if overrides.Notify.SMSQueue != "" {
			c.Notify.SMSQueue = overrides.Notify.SMSQueue
		}
		if overrides.Notify.SentryDSN != "" {
			c.Notify.SentryDSN = overrides.Notify.SentryDSN
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HERALD_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["HERALD_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Adapters = expandVars(c.Paths.Adapters, vars)
	c.Paths.Runtimes = expandVars(c.Paths.Runtimes, vars)
	c.Paths.Assets = expandVars(c.Paths.Assets, vars)
	c.Paths.Staging = expandVars(c.Paths.Staging, vars)
	c.Gateway.Socket = expandVars(c.Gateway.Socket, vars)
	c.Vault.Socket = expandVars(c.Vault.Socket, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Adapters == "" {
		errs = append(errs, fmt.Errorf("paths.adapters is required"))
	}

	if c.Gateway.Socket == "" {
		errs = append(errs, fmt.Errorf("gateway.socket is required"))
	}
	if c.Gateway.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("gateway.max_workers must be at least 1"))
	}

	if c.Vault.Socket == "" {
		errs = append(errs, fmt.Errorf("vault.socket is required"))
	}
	if _, err := time.ParseDuration(c.Vault.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("vault.timeout: %w", err))
	}

	if _, err := time.ParseDuration(c.Adapters.InvokeTimeout); err != nil {
		errs = append(errs, fmt.Errorf("adapters.invoke_timeout: %w", err))
	}
	if c.Adapters.Interpreter == "" {
		errs = append(errs, fmt.Errorf("adapters.interpreter is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// VaultTimeout returns the parsed vault call timeout.
// Falls back to the default when the field does not parse; Validate
// reports the malformed value.
func (c *Config) VaultTimeout() time.Duration {
	d, err := time.ParseDuration(c.Vault.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// InvokeTimeout returns the parsed adapter invocation timeout.
func (c *Config) InvokeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Adapters.InvokeTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Adapters,
		c.Paths.Runtimes,
		c.Paths.Assets,
		c.Paths.Staging,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
