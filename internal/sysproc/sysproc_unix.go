//go:build unix

// Package sysproc provides platform-specific process-group and signal plumbing
// for daemons run as direct child processes.
package sysproc

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Configure puts the child in its own process group so that a forced kill
// reaches every process it spawned.
func Configure(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Interrupt asks the process to shut down cleanly (SIGTERM)
func Interrupt(p *os.Process) error {
	return ignoreGone(unix.Kill(p.Pid, unix.SIGTERM))
}

// Kill terminates the process group immediately (SIGKILL), falling back to
// the single process when the group cannot be signalled.
func Kill(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err == nil {
		return nil
	}
	return ignoreGone(p.Kill())
}

// ExitInfo decodes a finished process state. Signalled exits report minus
// the signal number as the code.
func ExitInfo(ps *os.ProcessState) (code int, signaled bool) {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal()), true
	}
	return ps.ExitCode(), false
}

func ignoreGone(err error) error {
	if errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
