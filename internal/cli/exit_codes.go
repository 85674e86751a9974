package cli

import (
	"errors"
	"fmt"
	"io"

	daemonctl "github.com/axondata/go-daemonctl"
)

// Process exit codes. 10 to 12 match what test runners built on the
// governor have always used.
const (
	ExitOK              = 0
	ExitSessionFatal    = 1
	ExitUsage           = 2
	ExitNoPrivilegeTool = 10
	ExitPrerequisite    = 11
	ExitNotReady        = 12
	ExitInterrupted     = 130
)

// ExitError carries the process exit code for an error
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps err onto a process exit code
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, daemonctl.ErrNoPrivilegeTool):
		return ExitNoPrivilegeTool
	case errors.Is(err, daemonctl.ErrPrerequisite):
		return ExitPrerequisite
	case errors.Is(err, daemonctl.ErrReadinessTimeout),
		errors.Is(err, daemonctl.ErrVersionMismatch),
		errors.Is(err, daemonctl.ErrUnauthenticated):
		return ExitNotReady
	default:
		return ExitSessionFatal
	}
}

// Report prints err to w and returns the exit code to use
func Report(w io.Writer, err error) int {
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(w, "Error:", err)
	return ExitCode(err)
}
