package daemonctl

import (
	"slices"
	"strconv"
)

// Exit codes used by the daemon under test
const (
	// ExitCodeClean is a normal exit
	ExitCodeClean = 0
	// ExitCodeSessionFatal aborts the whole session
	ExitCodeSessionFatal = 1
	// ExitCodeSettingsChanged means the daemon exited to apply a settings change
	ExitCodeSettingsChanged = 42
)

// ExitStatus is the last known exit status of the daemon.
// Known is false when the platform cannot report one.
type ExitStatus struct {
	// Code is the exit code, or minus the signal number when Signaled
	Code int
	// Known reports whether Code carries information
	Known bool
	// Signaled reports whether the process was terminated by a signal
	Signaled bool
}

// UnknownExit is returned when the platform cannot report an exit code
var UnknownExit = ExitStatus{}

// ExitedWith returns a known ExitStatus for code
func ExitedWith(code int) ExitStatus {
	return ExitStatus{Code: code, Known: true}
}

// String returns a human-readable form of the status
func (s ExitStatus) String() string {
	switch {
	case !s.Known:
		return "unknown"
	case s.Signaled:
		return "signal " + strconv.Itoa(-s.Code)
	default:
		return strconv.Itoa(s.Code)
	}
}

// ExitClass is the governor's reading of a daemon exit
type ExitClass int

const (
	// ExitClean is an expected exit (graceful stop, or clean exit)
	ExitClean ExitClass = iota
	// ExitRestart is the settings-changed sentinel; the daemon must be started again
	ExitRestart
	// ExitUnknown means no exit code was available
	ExitUnknown
	// ExitSessionFatal aborts the whole test session
	ExitSessionFatal
	// ExitTestCaseFatal fails the current test case only
	ExitTestCaseFatal
)

// String returns the string representation of ExitClass
func (c ExitClass) String() string {
	switch c {
	case ExitClean:
		return "clean"
	case ExitRestart:
		return "restart"
	case ExitUnknown:
		return "unknown"
	case ExitSessionFatal:
		return "session-fatal"
	case ExitTestCaseFatal:
		return "test-case-fatal"
	default:
		return "invalid"
	}
}

// ExitPolicy maps exit codes onto ExitClass values.
// The zero value is not useful; start from DefaultExitPolicy.
type ExitPolicy struct {
	// RestartCode is the sentinel meaning "settings changed, start me again"
	RestartCode int
	// SessionFatalCodes abort the whole session; every other non-zero code is test-case fatal
	SessionFatalCodes []int
}

// DefaultExitPolicy returns the policy used by the daemon under test
func DefaultExitPolicy() ExitPolicy {
	return ExitPolicy{
		RestartCode:       ExitCodeSettingsChanged,
		SessionFatalCodes: []int{ExitCodeSessionFatal},
	}
}

// Classify reads status in light of whether a graceful stop was requested.
// A signalled exit after a graceful stop is the stop itself, not a crash.
func (p ExitPolicy) Classify(status ExitStatus, graceful bool) ExitClass {
	if !status.Known {
		return ExitUnknown
	}
	if graceful && (status.Code == ExitCodeClean || status.Signaled) {
		return ExitClean
	}
	if status.Code == p.RestartCode && !status.Signaled {
		return ExitRestart
	}
	if slices.Contains(p.SessionFatalCodes, status.Code) && !status.Signaled {
		return ExitSessionFatal
	}
	// Includes an unrequested exit 0: the daemon under test is gone either way.
	return ExitTestCaseFatal
}
