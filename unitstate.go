package daemonctl

import (
	"strconv"
	"strings"
)

// unitShowProperties are the properties the service-unit controller reads
var unitShowProperties = []string{
	"LoadState",
	"ActiveState",
	"SubState",
	"MainPID",
	"ExecMainStartTimestampMonotonic",
	"ExecMainCode",
	"ExecMainStatus",
	"Result",
}

// ExecMainCode values reported by systemd (CLD_* from waitid(2))
const (
	execMainCodeExited = 1
	execMainCodeKilled = 2
	execMainCodeDumped = 3
)

// UnitState is a snapshot of a systemd unit
type UnitState struct {
	// LoadState is the load state (loaded, not-found, error, etc.)
	LoadState string
	// ActiveState is the active state (active, inactive, failed, etc.)
	ActiveState string
	// SubState is the sub state (running, dead, exited, auto-restart, etc.)
	SubState string
	// MainPID is the main process ID (0 if not running)
	MainPID int
	// StartMonotonic is ExecMainStartTimestampMonotonic in microseconds
	StartMonotonic int64
	// ExecMainCode tells how the main process ended
	ExecMainCode int
	// ExecMainStatus is the exit code, or the signal number when killed
	ExecMainStatus int
	// Result is the result of the last run (success, exit-code, signal, etc.)
	Result string
}

// parseUnitState parses `systemctl show` key=value output
func parseUnitState(output string) UnitState {
	var st UnitState
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "LoadState":
			st.LoadState = value
		case "ActiveState":
			st.ActiveState = value
		case "SubState":
			st.SubState = value
		case "MainPID":
			st.MainPID, _ = strconv.Atoi(value)
		case "ExecMainStartTimestampMonotonic":
			st.StartMonotonic, _ = strconv.ParseInt(value, 10, 64)
		case "ExecMainCode":
			st.ExecMainCode, _ = strconv.Atoi(value)
		case "ExecMainStatus":
			st.ExecMainStatus, _ = strconv.Atoi(value)
		case "Result":
			st.Result = value
		}
	}
	return st
}

// Loaded reports whether systemd knows the unit
func (s UnitState) Loaded() bool {
	return s.LoadState == "loaded"
}

// Active reports whether the unit is considered up
func (s UnitState) Active() bool {
	return s.ActiveState == "active" || s.ActiveState == "reloading"
}

// Running reports whether the main process may still be alive.
// A deactivating unit is still shutting its process down.
func (s UnitState) Running() bool {
	return s.Active() || s.ActiveState == "deactivating"
}

// Exit returns the last exit status of the main process.
// It is unknown while the unit runs or before it ever ran.
func (s UnitState) Exit() ExitStatus {
	if s.Running() {
		return UnknownExit
	}
	switch s.ExecMainCode {
	case execMainCodeExited:
		return ExitedWith(s.ExecMainStatus)
	case execMainCodeKilled, execMainCodeDumped:
		return ExitStatus{Code: -s.ExecMainStatus, Known: true, Signaled: true}
	default:
		return UnknownExit
	}
}

// restartedSince reports whether the unit is running a new main process
// compared to prev
func (s UnitState) restartedSince(prev UnitState) bool {
	if !s.Active() {
		return false
	}
	if s.StartMonotonic != 0 && s.StartMonotonic != prev.StartMonotonic {
		return true
	}
	return s.MainPID != 0 && s.MainPID != prev.MainPID
}
