package daemonctl

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRun(t *testing.T) {
	s := NewScheduler(context.Background())
	defer func() { _ = s.Shutdown(time.Second) }()

	f := s.Run(func(context.Context) error { return nil })
	require.NoError(t, f.Result(time.Second))

	boom := errors.New("boom")
	f = s.Run(func(context.Context) error { return boom })
	require.ErrorIs(t, f.Wait(context.Background()), boom)
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler(context.Background())
	defer func() { _ = s.Shutdown(time.Second) }()

	f := s.Run(func(context.Context) error { panic("bad job") })
	err := f.Result(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad job")
}

func TestSchedulerCallbackFromJob(t *testing.T) {
	s := NewScheduler(context.Background())
	defer func() { _ = s.Shutdown(time.Second) }()

	ran := make(chan struct{})
	f := s.Run(func(context.Context) error {
		// A job hands work back without waiting for it
		if !s.RunCallback("follow-up", func(context.Context) error {
			close(ran)
			return nil
		}) {
			return ErrClosed
		}
		return nil
	})
	require.NoError(t, f.Result(time.Second))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
}

func TestSchedulerShutdownCancelsJobs(t *testing.T) {
	s := NewScheduler(context.Background())

	var cancelled atomic.Bool
	started := make(chan struct{})
	f := s.Run(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	<-started

	require.NoError(t, s.Shutdown(time.Second))
	require.True(t, cancelled.Load())
	require.ErrorIs(t, f.Result(time.Second), context.Canceled)
	require.True(t, s.Closed())

	// Nothing runs after shutdown
	require.ErrorIs(t, s.Run(func(context.Context) error { return nil }).Result(time.Second), ErrClosed)
	require.False(t, s.RunCallback("late", func(context.Context) error { return nil }))

	// Idempotent
	require.NoError(t, s.Shutdown(time.Second))
}

func TestSchedulerShutdownTimesOut(t *testing.T) {
	s := NewScheduler(context.Background())

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	s.Run(func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	require.ErrorIs(t, s.Shutdown(20*time.Millisecond), ErrTimeout)
}

func TestFutureWaitHonoursContext(t *testing.T) {
	s := NewScheduler(context.Background())
	defer func() { _ = s.Shutdown(time.Second) }()

	f := s.Run(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
}
