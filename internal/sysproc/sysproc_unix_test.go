//go:build unix

package sysproc

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitInfoCode(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 42")
	Configure(cmd)
	_ = cmd.Run()

	code, signaled := ExitInfo(cmd.ProcessState)
	require.Equal(t, 42, code)
	require.False(t, signaled)
}

func TestKillGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	Configure(cmd)
	require.NoError(t, cmd.Start())

	require.NoError(t, Kill(cmd.Process))
	_ = cmd.Wait()

	code, signaled := ExitInfo(cmd.ProcessState)
	require.True(t, signaled)
	require.Equal(t, -9, code)

	// signalling a reaped process is not an error
	require.NoError(t, Interrupt(cmd.Process))
}
