package daemonctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const unitRunning = `LoadState=loaded
ActiveState=active
SubState=running
MainPID=4321
ExecMainStartTimestampMonotonic=123456789
ExecMainCode=0
ExecMainStatus=0
Result=success
`

func TestParseUnitState(t *testing.T) {
	st := parseUnitState(unitRunning)
	assert.Equal(t, UnitState{
		LoadState:      "loaded",
		ActiveState:    "active",
		SubState:       "running",
		MainPID:        4321,
		StartMonotonic: 123456789,
		Result:         "success",
	}, st)
	assert.True(t, st.Loaded())
	assert.True(t, st.Active())
	assert.Equal(t, UnknownExit, st.Exit())

	missing := parseUnitState("LoadState=not-found\nActiveState=inactive\n")
	assert.False(t, missing.Loaded())
}

func TestUnitStateExit(t *testing.T) {
	tests := []struct {
		name string
		st   UnitState
		want ExitStatus
	}{
		{
			name: "exited with code",
			st:   UnitState{ActiveState: "failed", ExecMainCode: execMainCodeExited, ExecMainStatus: 1},
			want: ExitedWith(1),
		},
		{
			name: "settings changed",
			st:   UnitState{ActiveState: "activating", SubState: "auto-restart", ExecMainCode: execMainCodeExited, ExecMainStatus: 42},
			want: ExitedWith(42),
		},
		{
			name: "killed",
			st:   UnitState{ActiveState: "inactive", ExecMainCode: execMainCodeKilled, ExecMainStatus: 15},
			want: ExitStatus{Code: -15, Known: true, Signaled: true},
		},
		{
			name: "never ran",
			st:   UnitState{ActiveState: "inactive"},
			want: UnknownExit,
		},
		{
			name: "still shutting down",
			st:   UnitState{ActiveState: "deactivating", ExecMainCode: execMainCodeExited},
			want: UnknownExit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.st.Exit())
		})
	}
}

func TestUnitStateRestartedSince(t *testing.T) {
	prev := parseUnitState(unitRunning)

	same := prev
	assert.False(t, same.restartedSince(prev))

	newStart := prev
	newStart.StartMonotonic = 223456789
	assert.True(t, newStart.restartedSince(prev))

	newPID := prev
	newPID.StartMonotonic = 0
	newPID.MainPID = 5000
	assert.True(t, newPID.restartedSince(prev))

	down := newStart
	down.ActiveState = "activating"
	assert.False(t, down.restartedSince(prev))
}
