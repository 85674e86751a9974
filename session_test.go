package daemonctl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// preparingController records host preparation around a fakeController
type preparingController struct {
	*fakeController

	mu       sync.Mutex
	steps    []string
	setupErr error
}

func (p *preparingController) Setup(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, "setup")
	return p.setupErr
}

func (p *preparingController) Teardown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, "teardown")
	return nil
}

func (p *preparingController) recorded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.steps...)
}

func testSessionOptions() []GovernorOption {
	return []GovernorOption{
		WithProber(readyWhen(func() bool { return true })),
		WithStopTimeout(time.Second),
		WithMonitorStopTimeout(time.Second),
	}
}

func TestSessionPrepareAndClose(t *testing.T) {
	ctrl := &preparingController{fakeController: newFakeController()}
	sess := newSession(context.Background(), ctrl, zap.NewNop(), testSessionOptions()...)

	ctx := context.Background()
	require.NoError(t, sess.Prepare(ctx))
	require.NoError(t, sess.Governor().Start(ctx))
	require.True(t, sess.Governor().Ready())

	require.NoError(t, sess.Close(ctx))
	assert.Equal(t, []string{"setup", "teardown"}, ctrl.recorded())
	assert.Equal(t, []bool{true}, ctrl.stopCalls())
	assert.False(t, sess.Governor().Ready())
}

func TestSessionSetupFailureSkipsTeardown(t *testing.T) {
	ctrl := &preparingController{fakeController: newFakeController(), setupErr: errors.New("plist missing")}
	sess := newSession(context.Background(), ctrl, zap.NewNop(), testSessionOptions()...)

	err := sess.Prepare(context.Background())
	require.EqualError(t, err, "plist missing")

	require.NoError(t, sess.Close(context.Background()))
	assert.Equal(t, []string{"setup"}, ctrl.recorded())
}

func TestSessionWithoutPreparer(t *testing.T) {
	ctrl := newFakeController()
	sess := newSession(context.Background(), ctrl, zap.NewNop(), testSessionOptions()...)

	require.NoError(t, sess.Prepare(context.Background()))
	require.NoError(t, sess.Close(context.Background()))
	assert.Equal(t, 0, ctrl.startCount())
}

func TestOpenSessionMissingDaemon(t *testing.T) {
	t.Setenv("DAEMONCTL_VARIANT", "standalone")
	t.Setenv("DAEMONCTL_DAEMON_PATH", "no-such-daemon-binary")
	t.Setenv("DAEMONCTL_DAEMON_DATA_DIR", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	_, err = OpenSession(context.Background(), cfg, nil, nil)
	require.ErrorIs(t, err, ErrPrerequisite)
}
