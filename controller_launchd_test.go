package daemonctl

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const launchctlRunning = `system/com.canonical.multipassd = {
	active count = 1
	path = /Library/LaunchDaemons/com.canonical.multipassd.plist
	type = LaunchDaemon
	state = running

	program = /Library/Application Support/com.canonical.multipass/bin/multipassd
	arguments = {
		/Library/Application Support/com.canonical.multipass/bin/multipassd
		--verbosity
		debug
	}

	pid = 4242
	immediate reason = speculative
	forks = 0
	execs = 1
	last exit code = (never exited)
}
`

const launchctlExited = `system/com.canonical.multipassd = {
	active count = 0
	path = /Library/LaunchDaemons/com.canonical.multipassd.plist
	state = not running

	runs = 3
	last exit code = 42
}
`

func TestParseLaunchctlPrint(t *testing.T) {
	job := parseLaunchctlPrint(launchctlRunning)
	assert.True(t, job.running())
	assert.Equal(t, 4242, job.PID)
	assert.Equal(t, "/Library/LaunchDaemons/com.canonical.multipassd.plist", job.Path)
	assert.Equal(t, UnknownExit, job.Exit)

	job = parseLaunchctlPrint(launchctlExited)
	assert.False(t, job.running())
	assert.Equal(t, 0, job.PID)
	assert.Equal(t, ExitedWith(42), job.Exit)

	job = parseLaunchctlPrint("\tstate = waiting\n\tlast exit status = 1\n")
	assert.False(t, job.running())
	assert.Equal(t, ExitedWith(1), job.Exit)

	job = parseLaunchctlPrint("")
	assert.Equal(t, UnknownExit, job.Exit)
	assert.Equal(t, UnknownExit, job.LastExit)
}

const launchctlRespawned = `system/com.canonical.multipassd = {
	state = running
	pid = 5151
	runs = 2
	last exit code = 42
}
`

func TestLaunchdJobEnded(t *testing.T) {
	running := parseLaunchctlPrint(launchctlRunning)
	assert.False(t, running.ended(4242))
	assert.True(t, running.ended(1000), "another PID means the old instance is gone")
	assert.False(t, running.ended(0), "no PID recorded, only a stop counts")

	exited := parseLaunchctlPrint(launchctlExited)
	assert.True(t, exited.ended(4242))
	assert.Equal(t, ExitedWith(42), exited.LastExit)

	// restarted from outside between two polls
	respawned := parseLaunchctlPrint(launchctlRespawned)
	assert.True(t, respawned.running())
	assert.True(t, respawned.ended(4242))
	assert.Equal(t, UnknownExit, respawned.Exit)
	assert.Equal(t, ExitedWith(42), respawned.LastExit)
}

func TestLaunchdRequiresMacOS(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("constructor succeeds on macOS")
	}
	_, err := NewLaunchd(LaunchdConfig{})
	require.ErrorIs(t, err, ErrPrerequisite)
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestLaunchdOverrideDisablesKeepAlive(t *testing.T) {
	l := &Launchd{cfg: LaunchdConfig{Label: DefaultLaunchdLabel}, priv: PrivilegeTool{Path: "/usr/bin/sudo"}}
	edits := l.overrideEdits("/tmp/override.plist")

	assert.Contains(t, edits, []string{"plutil", "-replace", "KeepAlive", "-bool", "false", "/tmp/override.plist"})
	assert.Contains(t, edits, []string{"/usr/bin/sudo", "chown", "root:wheel", "/tmp/override.plist"})
	// the governor restarts the job, launchd must not
	assert.False(t, l.SupportsSelfAutorestart())
}
