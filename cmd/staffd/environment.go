// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/config"
	"github.com/KoreanThinker/openstaff-sub000/lib/driver"
	"github.com/KoreanThinker/openstaff-sub000/lib/driver/claude"
	"github.com/KoreanThinker/openstaff-sub000/lib/store"
	"github.com/KoreanThinker/openstaff-sub000/lib/supervisor"
)

// commonFlags are accepted by every command that reads the state
// directory.
type commonFlags struct {
	configPath string
	verbose    bool
}

func (f *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "path to staff.yaml (default: $STAFF_CONFIG)")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")
}

func (f *commonFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes text to a terminal and JSON otherwise, so daemon
// logs under a service manager stay machine-readable.
func (f *commonFlags) newLogger() *slog.Logger {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	return store.Open(store.Config{
		Path:         cfg.Paths.Database,
		IdentityPath: cfg.Paths.Identity,
		Logger:       logger.With("component", "store"),
	})
}

// newRegistry registers every built-in driver.
func newRegistry(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*driver.Registry, error) {
	registry := driver.NewRegistry()
	claudeConfig := cfg.Drivers[claude.AgentType]
	err := registry.Register(claude.AgentType, claude.New(claude.Config{
		Binary:    claudeConfig.Binary,
		ExtraArgs: claudeConfig.ExtraArgs,
		KillGrace: cfg.Policy.KillGrace,
		Clock:     clk,
		Logger:    logger,
	}))
	if err != nil {
		return nil, err
	}
	return registry, nil
}

func credentials(cfg *config.Config) map[string]map[string]string {
	result := make(map[string]map[string]string, len(cfg.Drivers))
	for agentType, driverConfig := range cfg.Drivers {
		if len(driverConfig.Credentials) > 0 {
			result[agentType] = driverConfig.Credentials
		}
	}
	return result
}

func policy(cfg *config.Config) supervisor.Policy {
	return supervisor.Policy{
		IdleCheckInterval:  cfg.Policy.IdleCheckInterval,
		IdleThreshold:      cfg.Policy.IdleThreshold,
		InitialPromptDelay: cfg.Policy.InitialPromptDelay,
		Backoff:            cfg.Policy.Backoff,
		FailureWindow:      cfg.Policy.FailureWindow,
		MaxFailures:        cfg.Policy.MaxFailures,
		InitialPrompt:      cfg.Policy.InitialPrompt,
		NudgeMessage:       cfg.Policy.NudgeMessage,
	}
}
