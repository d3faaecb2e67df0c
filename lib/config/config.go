// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Orchestra.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Root is the base directory for Orchestra state. ${ORCHESTRA_ROOT}
	// in other paths expands to it.
	Root string `yaml:"root"`

	// Controller configures the orchestra-controller daemon.
	Controller ControllerConfig `yaml:"controller"`

	// Agent configures the orchestra-agent daemon.
	Agent AgentConfig `yaml:"agent"`

	// RoleOrder selects and loads the ordering oracle.
	RoleOrder RoleOrderConfig `yaml:"role_order"`

	// Roles maps a role name to what an agent acts on for it.
	Roles map[string]RoleTarget `yaml:"roles"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Controller *ControllerConfig `yaml:"controller,omitempty"`
	Agent      *AgentConfig      `yaml:"agent,omitempty"`
}

// ControllerConfig configures the controller.
type ControllerConfig struct {
	// Network is "unix" or "tcp". Default: unix
	Network string `yaml:"network"`

	// Address is the socket path or host:port the controller listens on.
	// Default: ${ORCHESTRA_ROOT}/controller.sock
	Address string `yaml:"address"`

	// DatabasePath is the SQLite database file.
	// Default: ${ORCHESTRA_ROOT}/orchestra.db
	DatabasePath string `yaml:"database_path"`

	// PoolSize is the number of SQLite connections. Default: 4
	PoolSize int `yaml:"pool_size"`

	// HeartbeatTimeout is how long a host may stay silent before it
	// is marked HEARTBEAT_LOST. Default: 90s
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// TaskTimeout bounds how long a dispatched task may run before it
	// is marked TIMEDOUT. Default: 30m
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// SweepInterval is how often heartbeat and task timeouts are
	// checked. Default: 10s
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// OutputCompression is the codec for stored command output:
	// "none", "zstd", or "lz4". Default: zstd
	OutputCompression string `yaml:"output_compression"`

	// AutoVerify verifies hosts as soon as they register.
	// Default: true (development), false (production)
	AutoVerify bool `yaml:"auto_verify"`
}

// AgentConfig configures the agent.
type AgentConfig struct {
	// ControllerNetwork and ControllerAddress locate the controller.
	ControllerNetwork string `yaml:"controller_network"`
	ControllerAddress string `yaml:"controller_address"`

	// Hostname overrides the name the agent registers under.
	// Default: os.Hostname()
	Hostname string `yaml:"hostname"`

	// HeartbeatInterval is the time between heartbeats. Default: 10s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Parallelism bounds concurrent commands. Default: 4
	Parallelism int `yaml:"parallelism"`

	// CommandTimeout bounds a single command. Default: 20m
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// InitDir, PackageManager, and ScratchDir locate the tools and
	// directories commands use. Defaults: /etc/init.d, yum, os.TempDir()
	InitDir        string `yaml:"init_dir"`
	PackageManager string `yaml:"package_manager"`
	ScratchDir     string `yaml:"scratch_dir"`

	// MaxDiskPercent and MinMemoryFreeKB make the host report itself
	// unhealthy. Zero disables the check. Default: 95, 0
	MaxDiskPercent  int   `yaml:"max_disk_percent"`
	MinMemoryFreeKB int64 `yaml:"min_memory_free_kb"`
}

// RoleOrderConfig selects the ordering oracle.
type RoleOrderConfig struct {
	// Oracle is a registered oracle name. Default: dependencies
	Oracle string `yaml:"oracle"`

	// File is a dependency table in JSON, YAML, or HCL. Empty means no
	// dependencies.
	File string `yaml:"file"`

	// Sections lists the table sections to merge. Default: [general_deps]
	Sections []string `yaml:"sections"`
}

// RoleTarget describes what an agent acts on for one role: the init
// script that controls its daemon and the packages that install it.
type RoleTarget struct {
	Daemon   string   `yaml:"daemon"`
	Packages []string `yaml:"packages"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "orchestra")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Controller: ControllerConfig{
			Network:           "unix",
			Address:           "${ORCHESTRA_ROOT}/controller.sock",
			DatabasePath:      "${ORCHESTRA_ROOT}/orchestra.db",
			PoolSize:          4,
			HeartbeatTimeout:  90 * time.Second,
			TaskTimeout:       30 * time.Minute,
			SweepInterval:     10 * time.Second,
			OutputCompression: "zstd",
			AutoVerify:        true,
		},
		Agent: AgentConfig{
			ControllerNetwork: "unix",
			ControllerAddress: "${ORCHESTRA_ROOT}/controller.sock",
			HeartbeatInterval: 10 * time.Second,
			Parallelism:       4,
			CommandTimeout:    20 * time.Minute,
			InitDir:           "/etc/init.d",
			PackageManager:    "yum",
			MaxDiskPercent:    95,
		},
		RoleOrder: RoleOrderConfig{
			Oracle:   "dependencies",
			Sections: []string{"general_deps"},
		},
	}
}

// Load loads configuration from the ORCHESTRA_CONFIG environment
// variable. If it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("ORCHESTRA_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ORCHESTRA_CONFIG environment variable not set; " +
			"set it to the path of your orchestra.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: hosts wait for an operator to verify them.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Controller: &ControllerConfig{AutoVerify: false},
			}
		}
	}

	if overrides == nil {
		return
	}

	if controller := overrides.Controller; controller != nil {
		if controller.Network != "" {
			c.Controller.Network = controller.Network
		}
		if controller.Address != "" {
			c.Controller.Address = controller.Address
		}
		if controller.DatabasePath != "" {
			c.Controller.DatabasePath = controller.DatabasePath
		}
		if controller.PoolSize != 0 {
			c.Controller.PoolSize = controller.PoolSize
		}
		if controller.HeartbeatTimeout != 0 {
			c.Controller.HeartbeatTimeout = controller.HeartbeatTimeout
		}
		if controller.TaskTimeout != 0 {
			c.Controller.TaskTimeout = controller.TaskTimeout
		}
		if controller.SweepInterval != 0 {
			c.Controller.SweepInterval = controller.SweepInterval
		}
		if controller.OutputCompression != "" {
			c.Controller.OutputCompression = controller.OutputCompression
		}
		// AutoVerify is a bool, so we always apply it from overrides.
		c.Controller.AutoVerify = controller.AutoVerify
	}

	if agent := overrides.Agent; agent != nil {
		if agent.ControllerNetwork != "" {
			c.Agent.ControllerNetwork = agent.ControllerNetwork
		}
		if agent.ControllerAddress != "" {
			c.Agent.ControllerAddress = agent.ControllerAddress
		}
		if agent.Hostname != "" {
			c.Agent.Hostname = agent.Hostname
		}
		if agent.HeartbeatInterval != 0 {
			c.Agent.HeartbeatInterval = agent.HeartbeatInterval
		}
		if agent.Parallelism != 0 {
			c.Agent.Parallelism = agent.Parallelism
		}
		if agent.CommandTimeout != 0 {
			c.Agent.CommandTimeout = agent.CommandTimeout
		}
		if agent.InitDir != "" {
			c.Agent.InitDir = agent.InitDir
		}
		if agent.PackageManager != "" {
			c.Agent.PackageManager = agent.PackageManager
		}
		if agent.ScratchDir != "" {
			c.Agent.ScratchDir = agent.ScratchDir
		}
		if agent.MaxDiskPercent != 0 {
			c.Agent.MaxDiskPercent = agent.MaxDiskPercent
		}
		if agent.MinMemoryFreeKB != 0 {
			c.Agent.MinMemoryFreeKB = agent.MinMemoryFreeKB
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"ORCHESTRA_ROOT": c.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["ORCHESTRA_ROOT"] = c.Root // Update for dependent paths.

	c.Controller.Address = expandVars(c.Controller.Address, vars)
	c.Controller.DatabasePath = expandVars(c.Controller.DatabasePath, vars)
	c.Agent.ControllerAddress = expandVars(c.Agent.ControllerAddress, vars)
	c.Agent.ScratchDir = expandVars(c.Agent.ScratchDir, vars)
	c.RoleOrder.File = expandVars(c.RoleOrder.File, vars)
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

	networks := []string{"unix", "tcp"}
	if !slices.Contains(networks, c.Controller.Network) {
		errs = append(errs, fmt.Errorf("controller.network must be one of: %v", networks))
	}
	if !slices.Contains(networks, c.Agent.ControllerNetwork) {
		errs = append(errs, fmt.Errorf("agent.controller_network must be one of: %v", networks))
	}
	if c.Controller.Address == "" {
		errs = append(errs, fmt.Errorf("controller.address is required"))
	}
	if c.Controller.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("controller.database_path is required"))
	}
	if c.Controller.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("controller.pool_size must be positive"))
	}
	if c.Controller.HeartbeatTimeout <= 0 || c.Controller.TaskTimeout <= 0 || c.Controller.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("controller timeouts and sweep_interval must be positive"))
	}
	if c.Agent.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("agent.heartbeat_interval must be positive"))
	} else if c.Agent.HeartbeatInterval >= c.Controller.HeartbeatTimeout {
		errs = append(errs, fmt.Errorf("agent.heartbeat_interval (%s) must be shorter than controller.heartbeat_timeout (%s)",
			c.Agent.HeartbeatInterval, c.Controller.HeartbeatTimeout))
	}
	if c.Agent.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("agent.parallelism must be positive"))
	}

	compressions := []string{"none", "zstd", "lz4"}
	if !slices.Contains(compressions, c.Controller.OutputCompression) {
		errs = append(errs, fmt.Errorf("controller.output_compression must be one of: %v", compressions))
	}

	if c.RoleOrder.Oracle == "" {
		errs = append(errs, fmt.Errorf("role_order.oracle is required"))
	}

	for role, target := range c.Roles {
		if target.Daemon == "" && len(target.Packages) == 0 {
			errs = append(errs, fmt.Errorf("roles.%s needs a daemon or packages", role))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the directories the controller writes into.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Root, filepath.Dir(c.Controller.DatabasePath)}
	if c.Controller.Network == "unix" {
		paths = append(paths, filepath.Dir(c.Controller.Address))
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
