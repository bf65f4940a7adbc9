// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// isTerminalHangup reports whether err is the EIO a pseudo-terminal
// master returns once the last slave descriptor closes.
func isTerminalHangup(err error) bool {
	var pathError *os.PathError
	if errors.As(err, &pathError) {
		err = pathError.Err
	}
	return errors.Is(err, unix.EIO)
}

// SignalGroup delivers sig to the process group led by pid, falling
// back to the process itself when it is not a group leader.
func SignalGroup(pid int, sig os.Signal) error {
	signal, ok := sig.(syscall.Signal)
	if !ok {
		return errors.New("unsupported signal type")
	}
	if err := unix.Kill(-pid, signal); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return unix.Kill(pid, signal)
		}
		return err
	}
	return nil
}
