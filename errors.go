package daemonctl

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by daemonctl operations
var (
	// ErrPrerequisite indicates a missing binary, tool, unit or platform feature.
	// It is detected before any lifecycle attempt and must not be retried.
	ErrPrerequisite = errors.New("daemonctl: prerequisite missing")

	// ErrNoPrivilegeTool indicates the privilege-escalation tool is missing
	ErrNoPrivilegeTool = errors.New("daemonctl: privilege tool not found")

	// ErrLaunch indicates the start invocation itself failed
	ErrLaunch = errors.New("daemonctl: launch failed")

	// ErrReadinessTimeout indicates the daemon did not answer client requests in time
	ErrReadinessTimeout = errors.New("daemonctl: daemon not responding in time")

	// ErrVersionMismatch indicates client and daemon report different versions
	ErrVersionMismatch = errors.New("daemonctl: client/daemon version mismatch")

	// ErrUnauthenticated indicates the client is not authenticated with the daemon
	ErrUnauthenticated = errors.New("daemonctl: client is not authenticated")

	// ErrSessionFatal marks failures that must abort the whole test session
	ErrSessionFatal = errors.New("daemonctl: session fatal")

	// ErrTestCaseFatal marks failures that fail only the current test case
	ErrTestCaseFatal = errors.New("daemonctl: test case fatal")

	// ErrProcessNotExited indicates Start was called while the previous instance is alive
	ErrProcessNotExited = errors.New("daemonctl: process not exited yet")

	// ErrNotSupported indicates the controller variant cannot perform the operation
	ErrNotSupported = errors.New("daemonctl: operation not supported")

	// ErrTimeout indicates an operation exceeded its timeout
	ErrTimeout = errors.New("daemonctl: timeout")

	// ErrClosed indicates the scheduler or governor has been shut down
	ErrClosed = errors.New("daemonctl: closed")
)

// OpError represents a failed external command or platform call
type OpError struct {
	// Op is the operation that failed (e.g. "kickstart", "systemctl start")
	Op string
	// Target is the service, unit, label or path involved
	Target string
	// Output is the combined output of the command, if any
	Output string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	msg := fmt.Sprintf("daemonctl %s %q: %v", e.Op, e.Target, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (output: " + out + ")"
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// PrerequisiteError reports a missing prerequisite detected at construction
type PrerequisiteError struct {
	// What names the missing thing (binary path, unit, label, tool)
	What string
	// Hint tells the operator how to fix it, if known
	Hint string
	// Err is the underlying error, if any
	Err error
}

func (e *PrerequisiteError) Error() string {
	msg := "daemonctl: prerequisite missing: " + e.What
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *PrerequisiteError) Unwrap() error { return e.Err }

// Is reports ErrPrerequisite as part of the chain
func (e *PrerequisiteError) Is(target error) bool { return target == ErrPrerequisite }

// LaunchError reports that the underlying start mechanism failed
type LaunchError struct {
	Variant Variant
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("daemonctl: %s launch failed: %v", e.Variant, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// VersionMismatchError reports a client/daemon version skew
type VersionMismatchError struct {
	Client string
	Daemon string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("daemonctl: version mismatch: client %s, daemon %s (%s)",
		e.Client, e.Daemon, versionSkew(e.Client, e.Daemon))
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrVersionMismatch }

// SessionFatalError aborts the whole test session
type SessionFatalError struct {
	Msg string
	Err error
}

func (e *SessionFatalError) Error() string {
	switch {
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *SessionFatalError) Unwrap() error { return e.Err }

func (e *SessionFatalError) Is(target error) bool { return target == ErrSessionFatal }

// TestCaseFatalError fails only the current test case. The governor stays
// usable once a restart is requested.
type TestCaseFatalError struct {
	Msg string
	Err error
}

func (e *TestCaseFatalError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *TestCaseFatalError) Unwrap() error { return e.Err }

func (e *TestCaseFatalError) Is(target error) bool { return target == ErrTestCaseFatal }

// MultiError aggregates multiple errors from teardown paths
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	parts := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(m.Errors), strings.Join(parts, "; "))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}
