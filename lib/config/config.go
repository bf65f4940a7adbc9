// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the staff daemon configuration.
//
// Configuration comes from a single YAML file named by the STAFF_CONFIG
// environment variable or the --config flag. There is no discovery and
// no fallback search path. The file may carry development and
// production sections whose non-zero fields override the base values
// when the environment matches.
//
// Durations are Go duration strings ("90s", "5m").
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

// Environment selects which override section applies.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the daemon configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths     PathsConfig             `yaml:"paths"`
	Policy    PolicyConfig            `yaml:"policy"`
	Health    HealthConfig            `yaml:"health"`
	OutputLog OutputLogConfig         `yaml:"output_log"`
	Drivers   map[string]DriverConfig `yaml:"drivers"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds per-environment replacements.
type Overrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Policy *PolicyConfig `yaml:"policy,omitempty"`
	Health *HealthConfig `yaml:"health,omitempty"`
}

// PathsConfig locates everything the daemon reads and writes.
type PathsConfig struct {
	// Root is the base directory. Other paths may reference it as
	// ${STAFF_ROOT}.
	Root string `yaml:"root"`

	// Database is the SQLite file holding worker state and settings.
	Database string `yaml:"database"`

	// Identity is the age identity sealing secret settings.
	Identity string `yaml:"identity"`

	// Staff is the roster directory of worker definitions.
	Staff string `yaml:"staff"`

	// Skills holds installed skills, one directory each.
	Skills string `yaml:"skills"`

	// Workspaces holds one working directory per worker.
	Workspaces string `yaml:"workspaces"`

	// Logs holds per-worker output logs.
	Logs string `yaml:"logs"`

	// Journal is the CBOR event journal.
	Journal string `yaml:"journal"`

	// Lock guards against two daemons sharing Root.
	Lock string `yaml:"lock"`
}

// PolicyConfig is the supervisor's restart and idle policy.
type PolicyConfig struct {
	// IdleCheckInterval is how often each worker's silence is checked.
	IdleCheckInterval time.Duration `yaml:"idle_check_interval"`

	// IdleThreshold is the silence after which an idle worker without
	// child processes is nudged.
	IdleThreshold time.Duration `yaml:"idle_threshold"`

	// InitialPromptDelay is the wait between a fresh spawn and the
	// first prompt.
	InitialPromptDelay time.Duration `yaml:"initial_prompt_delay"`

	// Backoff is indexed by crash count minus one; counts past the end
	// use the last entry.
	Backoff []time.Duration `yaml:"backoff"`

	// FailureWindow bounds which crashes count toward MaxFailures.
	FailureWindow time.Duration `yaml:"failure_window"`

	// MaxFailures is the crash count at which automatic restarts stop.
	MaxFailures int `yaml:"max_failures"`

	// KillGrace is the wait after SIGTERM and after SIGKILL.
	KillGrace time.Duration `yaml:"kill_grace"`

	// InitialPrompt and NudgeMessage override the built-in texts.
	InitialPrompt string `yaml:"initial_prompt"`
	NudgeMessage  string `yaml:"nudge_message"`
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	// Interval is the time between sweeps.
	Interval time.Duration `yaml:"interval"`

	// ResponsivenessThreshold is the silence after which a worker with
	// no child processes fails the audit.
	ResponsivenessThreshold time.Duration `yaml:"responsiveness_threshold"`

	// RestartOnFailure makes the daemon restart workers that fail.
	RestartOnFailure bool `yaml:"restart_on_failure"`
}

// OutputLogConfig configures output log rotation.
type OutputLogConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
	Keep     int   `yaml:"keep"`
}

// DriverConfig configures one agent type.
type DriverConfig struct {
	// Binary is the agent executable. Empty uses the driver default.
	Binary string `yaml:"binary"`

	// ExtraArgs are appended to every agent command line.
	ExtraArgs []string `yaml:"extra_args"`

	// Credentials maps environment variable names to settings keys
	// resolved at start, for example ANTHROPIC_API_KEY: anthropic_api_key.
	Credentials map[string]string `yaml:"credentials"`
}

// Default returns a complete configuration rooted at ~/.local/share/openstaff.
func Default() *Config {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".local", "share", "openstaff")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       root,
			Database:   "${STAFF_ROOT}/state.db",
			Identity:   "${STAFF_ROOT}/identity",
			Staff:      "${STAFF_ROOT}/staff",
			Skills:     "${STAFF_ROOT}/skills",
			Workspaces: "${STAFF_ROOT}/workspaces",
			Logs:       "${STAFF_ROOT}/logs",
			Journal:    "${STAFF_ROOT}/events.cbor",
			Lock:       "${STAFF_ROOT}/staffd.lock",
		},
		Policy: PolicyConfig{
			IdleCheckInterval:  time.Minute,
			IdleThreshold:      5 * time.Minute,
			InitialPromptDelay: 3 * time.Second,
			Backoff:            []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute, 5 * time.Minute},
			FailureWindow:      10 * time.Minute,
			MaxFailures:        3,
			KillGrace:          5 * time.Second,
		},
		Health: HealthConfig{
			Interval:                time.Minute,
			ResponsivenessThreshold: 10 * time.Minute,
			RestartOnFailure:        true,
		},
		OutputLog: OutputLogConfig{
			MaxBytes: 8 << 20,
			Keep:     5,
		},
		Drivers: map[string]DriverConfig{
			"claude-code": {
				Credentials: map[string]string{"ANTHROPIC_API_KEY": "anthropic_api_key"},
			},
		},
	}
}

// Load reads the file named by STAFF_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("STAFF_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("STAFF_CONFIG environment variable not set; " +
			"set it to the path of your staff.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, applies the matching
// environment section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	config.applyOverrides()
	config.ExpandVariables()
	return config, nil
}

func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.Database, paths.Database)
		override(&c.Paths.Identity, paths.Identity)
		override(&c.Paths.Staff, paths.Staff)
		override(&c.Paths.Skills, paths.Skills)
		override(&c.Paths.Workspaces, paths.Workspaces)
		override(&c.Paths.Logs, paths.Logs)
		override(&c.Paths.Journal, paths.Journal)
		override(&c.Paths.Lock, paths.Lock)
	}
	if policy := overrides.Policy; policy != nil {
		override(&c.Policy.IdleCheckInterval, policy.IdleCheckInterval)
		override(&c.Policy.IdleThreshold, policy.IdleThreshold)
		override(&c.Policy.InitialPromptDelay, policy.InitialPromptDelay)
		override(&c.Policy.FailureWindow, policy.FailureWindow)
		override(&c.Policy.MaxFailures, policy.MaxFailures)
		override(&c.Policy.KillGrace, policy.KillGrace)
		override(&c.Policy.InitialPrompt, policy.InitialPrompt)
		override(&c.Policy.NudgeMessage, policy.NudgeMessage)
		if len(policy.Backoff) > 0 {
			c.Policy.Backoff = policy.Backoff
		}
	}
	if health := overrides.Health; health != nil {
		override(&c.Health.Interval, health.Interval)
		override(&c.Health.ResponsivenessThreshold, health.ResponsivenessThreshold)
		// A bool cannot express "unset", so the section always wins.
		c.Health.RestartOnFailure = health.RestartOnFailure
	}
}

func override[T comparable](target *T, value T) {
	var zero T
	if value != zero {
		*target = value
	}
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// ExpandVariables resolves ${STAFF_ROOT}, ${HOME}, and other
// ${NAME:-default} references in paths.
func (c *Config) ExpandVariables() {
	variables := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.Root = expand(c.Paths.Root, variables)
	variables["STAFF_ROOT"] = c.Paths.Root

	for _, path := range []*string{
		&c.Paths.Database, &c.Paths.Identity, &c.Paths.Staff, &c.Paths.Skills,
		&c.Paths.Workspaces, &c.Paths.Logs, &c.Paths.Journal, &c.Paths.Lock,
	} {
		*path = expand(*path, variables)
	}
	for agentType, driver := range c.Drivers {
		driver.Binary = expand(driver.Binary, variables)
		c.Drivers[agentType] = driver
	}
}

func expand(value string, variables map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := variables[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every structural problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	required := map[string]string{
		"paths.root": c.Paths.Root, "paths.database": c.Paths.Database,
		"paths.identity": c.Paths.Identity, "paths.staff": c.Paths.Staff,
		"paths.workspaces": c.Paths.Workspaces, "paths.logs": c.Paths.Logs,
		"paths.journal": c.Paths.Journal, "paths.lock": c.Paths.Lock,
	}
	for name, value := range required {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	positive := map[string]time.Duration{
		"policy.idle_check_interval":      c.Policy.IdleCheckInterval,
		"policy.idle_threshold":           c.Policy.IdleThreshold,
		"policy.failure_window":           c.Policy.FailureWindow,
		"policy.kill_grace":               c.Policy.KillGrace,
		"health.interval":                 c.Health.Interval,
		"health.responsiveness_threshold": c.Health.ResponsivenessThreshold,
	}
	for name, value := range positive {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Policy.InitialPromptDelay < 0 {
		errs = append(errs, fmt.Errorf("policy.initial_prompt_delay must not be negative"))
	}
	if c.Policy.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("policy.max_failures must be at least 1"))
	}
	if len(c.Policy.Backoff) == 0 {
		errs = append(errs, fmt.Errorf("policy.backoff needs at least one entry"))
	}
	for index, delay := range c.Policy.Backoff {
		if delay < 0 {
			errs = append(errs, fmt.Errorf("policy.backoff[%d] must not be negative", index))
		}
	}
	return errors.Join(errs...)
}

// EnsureDirectories creates every configured directory.
func (c *Config) EnsureDirectories() error {
	directories := []string{
		c.Paths.Root, c.Paths.Staff, c.Paths.Skills, c.Paths.Workspaces, c.Paths.Logs,
		filepath.Dir(c.Paths.Database), filepath.Dir(c.Paths.Identity),
		filepath.Dir(c.Paths.Journal), filepath.Dir(c.Paths.Lock),
	}
	for _, directory := range directories {
		if directory == "" {
			continue
		}
		if err := os.MkdirAll(directory, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
