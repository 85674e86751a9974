package daemonctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastProbe(c Client, timeout time.Duration) *Probe {
	return NewProbe(c, WithProbeInterval(5*time.Millisecond), WithProbeTimeout(timeout))
}

func TestProbeReady(t *testing.T) {
	c := readyClient("1.15.0")
	require.NoError(t, fastProbe(c, time.Second).WaitReady(context.Background()))

	queries, versions, _ := c.calls()
	assert.Equal(t, 1, queries)
	assert.Equal(t, 1, versions)
}

func TestProbeRetriesUntilAnswering(t *testing.T) {
	c := readyClient("1.15.0")
	c.queries = []fakeResponse{
		{err: errors.New("exec: client hung")},
		{res: CommandResult{ExitCode: 2, Output: "cannot connect to the multipass socket"}},
		{res: CommandResult{Output: "noble"}},
	}
	c.versions = []fakeResponse{
		{res: CommandResult{Output: "multipass 1.15.0\n"}},
		{res: CommandResult{Output: "multipass 1.15.0\nmultipassd 1.15.0\n"}},
	}

	require.NoError(t, fastProbe(c, 5*time.Second).WaitReady(context.Background()))
	queries, versions, _ := c.calls()
	assert.Equal(t, 3, queries)
	assert.Equal(t, 2, versions)
}

func TestProbeFailingQueryStillChecksVersion(t *testing.T) {
	c := readyClient("1.15.0")
	c.queries = []fakeResponse{{res: CommandResult{ExitCode: 2, Output: "find failed: cannot reach image server"}}}

	require.NoError(t, fastProbe(c, time.Second).WaitReady(context.Background()))
	queries, versions, _ := c.calls()
	assert.Equal(t, 1, queries)
	assert.Equal(t, 1, versions)
}

func TestProbeFailingQueryVersionMismatch(t *testing.T) {
	c := readyClient("1.15.0")
	c.queries = []fakeResponse{{res: CommandResult{ExitCode: 2, Output: "find failed"}}}
	c.versions = []fakeResponse{{res: CommandResult{Output: "multipass 1.16.0\nmultipassd 1.15.0\n"}}}

	var mismatch *VersionMismatchError
	require.ErrorAs(t, fastProbe(c, time.Second).WaitReady(context.Background()), &mismatch)
}

func TestProbeUnauthenticatedFailsAtOnce(t *testing.T) {
	c := readyClient("1.15.0")
	c.queries = []fakeResponse{{res: CommandResult{ExitCode: 1, Output: "find failed: " + DefaultUnauthenticatedMarker + ".\n"}}}

	err := fastProbe(c, 5*time.Second).WaitReady(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.ErrorIs(t, err, ErrSessionFatal)

	queries, _, _ := c.calls()
	assert.Equal(t, 1, queries)
}

func TestProbeVersionMismatch(t *testing.T) {
	c := readyClient("1.15.0")
	c.versions = []fakeResponse{{res: CommandResult{Output: "multipass 1.16.0\nmultipassd 1.15.0\n"}}}

	err := fastProbe(c, 5*time.Second).WaitReady(context.Background())
	var mismatch *VersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "1.16.0", mismatch.Client)
	assert.Equal(t, "1.15.0", mismatch.Daemon)
}

func TestProbeTimeout(t *testing.T) {
	c := readyClient("1.15.0")
	c.queries = []fakeResponse{{res: CommandResult{ExitCode: 2}}}
	c.versions = []fakeResponse{{res: CommandResult{ExitCode: 1, Output: "multipass 1.15.0\n"}}}

	started := time.Now()
	err := fastProbe(c, 50*time.Millisecond).WaitReady(context.Background())
	require.ErrorIs(t, err, ErrReadinessTimeout)
	assert.Less(t, time.Since(started), time.Second)
}

func TestProbeCancelled(t *testing.T) {
	c := readyClient("1.15.0")
	c.queries = []fakeResponse{{res: CommandResult{ExitCode: 2}}}
	c.versions = []fakeResponse{{res: CommandResult{ExitCode: 1, Output: "multipass 1.15.0\n"}}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := fastProbe(c, 5*time.Second).WaitReady(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrReadinessTimeout)
}
