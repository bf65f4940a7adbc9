// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package claude drives the Claude Code CLI. The agent runs
// interactively under a pseudo-terminal in its own session, so the
// process group can be signalled as a unit and anything it spawns is
// terminated with it.
package claude

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/driver"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

// AgentType is the agent type this driver is registered under.
const AgentType = "claude-code"

// DefaultBinary is looked up on PATH when neither Config.Binary nor
// CLAUDE_BINARY is set.
const DefaultBinary = "claude"

const npmPackage = "@anthropic-ai/claude-code"

// drainTimeout bounds the wait for buffered terminal output after the
// process exits. A grandchild holding the terminal open would
// otherwise delay the exit notification indefinitely.
const drainTimeout = 2 * time.Second

var terminalSize = &pty.Winsize{Rows: 50, Cols: 200}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+[0-9A-Za-z.+-]*`)

// Config configures the driver.
type Config struct {
	// Binary is the claude executable. Empty falls back to the
	// CLAUDE_BINARY environment variable, then DefaultBinary.
	Binary string

	// ExtraArgs are appended to every command line.
	ExtraArgs []string

	// KillGrace is the wait after each termination signal. Zero uses
	// driver.DefaultKillGrace.
	KillGrace time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Driver implements driver.Driver for Claude Code.
type Driver struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
}

var _ driver.Driver = (*Driver)(nil)

// New returns a Driver.
func New(config Config) *Driver {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{config: config, clock: clk, logger: logger.With("driver", AgentType)}
}

func (d *Driver) binary() string {
	if d.config.Binary != "" {
		return d.config.Binary
	}
	if binary := os.Getenv("CLAUDE_BINARY"); binary != "" {
		return binary
	}
	return DefaultBinary
}

// IsInstalled reports whether the claude binary resolves.
func (d *Driver) IsInstalled(ctx context.Context) bool {
	_, err := exec.LookPath(d.binary())
	return err == nil
}

// Version runs "claude --version" and extracts the version number.
func (d *Driver) Version(ctx context.Context) (string, bool) {
	output, err := exec.CommandContext(ctx, d.binary(), "--version").Output()
	if err != nil {
		return "", false
	}
	version := versionPattern.FindString(string(output))
	return version, version != ""
}

// Install installs the CLI globally with npm. Progress advances with
// each line npm prints and reaches 100 only on success.
func (d *Driver) Install(ctx context.Context, progress func(percent int)) error {
	if progress == nil {
		progress = func(int) {}
	}
	npm, err := exec.LookPath("npm")
	if err != nil {
		return fmt.Errorf("installing %s: npm not found: %w", npmPackage, err)
	}

	command := exec.CommandContext(ctx, npm, "install", "-g", npmPackage)
	reader, writer := io.Pipe()
	command.Stdout = writer
	command.Stderr = writer

	progress(0)
	if err := command.Start(); err != nil {
		return fmt.Errorf("starting npm: %w", err)
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		percent := 0
		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			d.logger.Debug("npm", "line", scanner.Text())
			if percent < 90 {
				percent += 10
				progress(percent)
			}
		}
		io.Copy(io.Discard, reader)
	}()

	err = command.Wait()
	writer.Close()
	<-scanned
	if err != nil {
		return fmt.Errorf("npm install -g %s: %w", npmPackage, err)
	}
	progress(100)
	return nil
}

// Spawn starts a fresh session with a pre-assigned session id.
func (d *Driver) Spawn(ctx context.Context, options driver.SpawnOptions) (driver.Process, error) {
	sessionID := uuid.NewString()
	return d.start(options, sessionID, "--session-id", sessionID)
}

// Resume restores sessionID with "claude --resume".
func (d *Driver) Resume(ctx context.Context, options driver.SpawnOptions, sessionID string) (driver.Process, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("resuming %s session: %w", AgentType, staff.ErrMissingSessionID)
	}
	return d.start(options, sessionID, "--resume", sessionID)
}

// Kill terminates the process group, escalating SIGTERM to SIGKILL.
func (d *Driver) Kill(ctx context.Context, process driver.Process) error {
	return driver.Terminate(ctx, d.clock, process, d.config.KillGrace)
}

// start launches the agent. The command is deliberately not bound to
// the caller's context: the agent outlives the request that started it.
func (d *Driver) start(options driver.SpawnOptions, sessionID string, sessionArgs ...string) (driver.Process, error) {
	args := append([]string(nil), sessionArgs...)
	if options.Model != "" {
		args = append(args, "--model", options.Model)
	}
	args = append(args, d.config.ExtraArgs...)

	command := exec.Command(d.binary(), args...)
	command.Dir = options.WorkingDirectory
	command.Env = append(os.Environ(), "TERM=xterm-256color")
	command.Env = append(command.Env, options.ExtraEnv...)

	terminal, err := pty.StartWithAttrs(command, terminalSize, &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting %s in %s: %w", d.binary(), options.WorkingDirectory, err)
	}

	pid := command.Process.Pid
	handle := driver.NewHandle(driver.HandleConfig{
		PID:       pid,
		Input:     terminal,
		Submit:    "\r",
		Signal:    func(sig os.Signal) error { return driver.SignalGroup(pid, sig) },
		Close:     terminal.Close,
		SessionID: sessionID,
	})
	d.logger.Info("agent started", "pid", pid, "directory", options.WorkingDirectory, "args", args)

	go d.wait(command, terminal, handle)
	return handle, nil
}

func (d *Driver) wait(command *exec.Cmd, terminal io.Reader, handle *driver.Handle) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if err := handle.Pump(terminal); err != nil {
			d.logger.Warn("reading agent output", "pid", handle.PID(), "error", err)
		}
	}()

	waitErr := command.Wait()
	select {
	case <-drained:
	case <-d.clock.After(drainTimeout):
		d.logger.Warn("agent output still open after exit", "pid", handle.PID())
	}

	code := exitCode(command.ProcessState)
	if waitErr != nil && command.ProcessState == nil {
		d.logger.Error("waiting for agent", "pid", handle.PID(), "error", waitErr)
	}
	d.logger.Info("agent exited", "pid", handle.PID(), "exit_code", code)
	handle.Exit(code)
}

// exitCode reports a signal death as 128 plus the signal number, the
// shell convention, so callers see one integer either way.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}
