package daemonctl

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivilegeToolWrap(t *testing.T) {
	var none PrivilegeTool
	assert.False(t, none.Enabled())
	assert.Equal(t, []string{"systemctl", "restart", "x"}, none.Wrap("systemctl", "restart", "x"))

	sudo := PrivilegeTool{Path: "/usr/bin/sudo"}
	assert.True(t, sudo.Enabled())
	assert.Equal(t, []string{"/usr/bin/sudo", "snap", "restart", "multipass"}, sudo.Wrap("snap", "restart", "multipass"))

	gsudo := PrivilegeTool{Path: `C:\gsudo.exe`, Args: []string{"--direct"}}
	assert.Equal(t, []string{`C:\gsudo.exe`, "--direct", "sc", "stop"}, gsudo.Wrap("sc", "stop"))
	// Wrap never aliases the tool's own Args
	assert.Equal(t, []string{"--direct"}, gsudo.Args)
}

func TestPrivilegeToolMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := FindPrivilegeTool()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrerequisite)
	assert.ErrorIs(t, err, ErrNoPrivilegeTool)
	assert.Contains(t, err.Error(), "install it with")
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx := context.Background()

	res, err := runCommand(ctx, nil, "sh", "-c", "echo out; echo err >&2; exit 3")
	require.NoError(t, err, "a non-zero exit is a result, not an error")
	assert.Equal(t, 3, res.Code)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")

	res, err = runCommand(ctx, []string{"GREETING=hi"}, "sh", "-c", "echo $GREETING")
	require.NoError(t, err)
	assert.Equal(t, "hi", strings.TrimSpace(res.Output))

	_, err = runCommand(ctx, nil, "no-such-command-anywhere")
	require.Error(t, err)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = runCommand(tctx, nil, "sh", "-c", "exec sleep 5")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunChecked(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	out, err := runChecked(context.Background(), "restart", "multipassd", "sh", "-c", "echo denied; exit 1")
	require.Error(t, err)
	assert.Contains(t, out, "denied")

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "restart", opErr.Op)
	assert.Equal(t, "multipassd", opErr.Target)

	var codeErr *exitCodeError
	require.True(t, errors.As(err, &codeErr))
	assert.Equal(t, "exit status 1", codeErr.Error())

	_, err = runChecked(context.Background(), "restart", "multipassd", "sh", "-c", "true")
	require.NoError(t, err)
}

func TestFollowCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	lines, err := followCommand(context.Background(), "sh", "-c", "printf 'a\\r\\nb\\n'")
	require.NoError(t, err)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
