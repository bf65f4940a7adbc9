// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/pflag"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/events"
	"github.com/KoreanThinker/openstaff-sub000/lib/health"
	"github.com/KoreanThinker/openstaff-sub000/lib/journal"
	"github.com/KoreanThinker/openstaff-sub000/lib/outputlog"
	"github.com/KoreanThinker/openstaff-sub000/lib/procutil"
	"github.com/KoreanThinker/openstaff-sub000/lib/roster"
	"github.com/KoreanThinker/openstaff-sub000/lib/supervisor"
	"github.com/KoreanThinker/openstaff-sub000/lib/workspace"
)

// shutdownTimeout bounds the kill of every worker on exit.
const shutdownTimeout = 30 * time.Second

func runCommand() *Command {
	var (
		flags commonFlags
		start []string
	)
	return &Command{
		Name:    "run",
		Summary: "Run the supervisor daemon",
		Description: "Run the supervisor in the foreground. Workers that were running when the\n" +
			"previous daemon exited are recovered; --start adds more. SIGINT or SIGTERM\n" +
			"kills every worker and leaves them marked for recovery.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringSliceVar(&start, "start", nil, "staff ids to start after recovery (repeatable, comma-separated)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			return runDaemon(&flags, start)
		},
	}
}

func runDaemon(flags *commonFlags, start []string) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	logger := flags.newLogger()

	lock := flock.New(cfg.Paths.Lock)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", cfg.Paths.Lock, err)
	}
	if !locked {
		return fmt.Errorf("another staffd is already running on %s", cfg.Paths.Root)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	database, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	journalWriter, err := journal.Create(cfg.Paths.Journal)
	if err != nil {
		return err
	}
	defer journalWriter.Close()

	outputRecorder, err := outputlog.New(outputlog.Config{
		Directory: cfg.Paths.Logs,
		MaxBytes:  cfg.OutputLog.MaxBytes,
		Keep:      cfg.OutputLog.Keep,
		Clock:     clk,
		Logger:    logger.With("component", "outputlog"),
	})
	if err != nil {
		return err
	}
	defer outputRecorder.Close()

	registry, err := newRegistry(cfg, clk, logger.With("component", "driver"))
	if err != nil {
		return err
	}

	bus := events.NewBus(clk)
	var background sync.WaitGroup

	// Recorders outlive ctx so the events Shutdown emits are kept. They
	// drain and exit when their subscriptions close.
	var recorders sync.WaitGroup
	journalSubscription := bus.Subscribe(1024)
	recorders.Go(func() {
		journal.Record(context.Background(), journalSubscription, journalWriter, logger.With("component", "journal"))
	})
	outputSubscription := bus.Subscribe(1024, events.KindLogData)
	recorders.Go(func() { outputRecorder.Run(context.Background(), outputSubscription) })
	defer func() {
		journalSubscription.Close()
		outputSubscription.Close()
		recorders.Wait()
	}()

	staffSupervisor := supervisor.New(supervisor.Config{
		Roster:     roster.New(cfg.Paths.Staff),
		Drivers:    registry,
		Workspaces: workspace.New(workspace.Config{
			Root:       cfg.Paths.Workspaces,
			SkillsRoot: cfg.Paths.Skills,
			Logger:     logger.With("component", "workspace"),
		}),
		States:      database,
		Settings:    database,
		Children:    procutil.System{},
		Events:      bus,
		Credentials: credentials(cfg),
		Policy:      policy(cfg),
		Clock:       clk,
		Logger:      logger.With("component", "supervisor"),
	})

	if err := staffSupervisor.RecoverRunningStaffs(ctx); err != nil {
		return err
	}
	for _, staffID := range start {
		if err := staffSupervisor.Start(ctx, staffID); err != nil {
			logger.Error("starting staff", "staff_id", staffID, "error", err)
		}
	}

	monitor := health.New(health.Config{
		Supervisor:              staffSupervisor,
		Prober:                  procutil.System{},
		Events:                  bus,
		Interval:                cfg.Health.Interval,
		ResponsivenessThreshold: cfg.Health.ResponsivenessThreshold,
		Clock:                   clk,
		Logger:                  logger.With("component", "health"),
	})
	background.Go(func() { monitor.Run(ctx) })

	if cfg.Health.RestartOnFailure {
		healthSubscription := bus.Subscribe(64, events.KindHealthCheckFail)
		background.Go(func() {
			restartUnhealthy(ctx, staffSupervisor, healthSubscription, logger.With("component", "health"))
		})
	}

	logger.Info("staffd running",
		"root", cfg.Paths.Root,
		"environment", cfg.Environment,
		"agent_types", registry.AgentTypes(),
		"running", staffSupervisor.Running(),
	)
	<-ctx.Done()
	logger.Info("shutting down")

	// The health loop and restarter finish first: a restart still in
	// flight would otherwise race Shutdown's snapshot of running workers.
	background.Wait()
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := staffSupervisor.Shutdown(shutdownContext)
	if shutdownErr != nil {
		return fmt.Errorf("shutting down: %w", shutdownErr)
	}
	return nil
}

// restarter is the part of the supervisor restartUnhealthy drives.
type restarter interface {
	Restart(ctx context.Context, staffID string) error
}

// restartUnhealthy restarts every worker that fails a health check,
// except those no longer registered: their exit is already handled by
// the supervisor's own crash policy. No restart begins after ctx ends,
// and one already begun runs to completion so the worker is left
// either running or recoverable.
func restartUnhealthy(ctx context.Context, target restarter, subscription *events.Subscription, logger *slog.Logger) {
	restartContext := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscription.C:
			if !ok || ctx.Err() != nil {
				return
			}
			if event.Health == nil || event.Health.Reason == events.HealthNotRunning {
				continue
			}
			logger.Warn("restarting unhealthy staff",
				"staff_id", event.StaffID,
				"reason", event.Health.Reason,
				"detail", event.Health.Detail,
			)
			if err := target.Restart(restartContext, event.StaffID); err != nil {
				logger.Error("restarting unhealthy staff", "staff_id", event.StaffID, "error", err)
			}
		}
	}
}
