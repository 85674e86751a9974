//go:build windows

// Package sysproc provides platform-specific process-group and signal plumbing
// for daemons run as direct child processes.
package sysproc

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// Configure gives the child a new process group so a console control event
// can be delivered to it without reaching the caller.
func Configure(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// Interrupt sends CTRL_BREAK to the child's process group
func Interrupt(p *os.Process) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
}

// Kill terminates the process immediately
func Kill(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// ExitInfo decodes a finished process state. Windows has no signals.
func ExitInfo(ps *os.ProcessState) (code int, signaled bool) {
	return ps.ExitCode(), false
}
