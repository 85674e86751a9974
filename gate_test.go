package daemonctl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateWaitUntil(t *testing.T) {
	g := NewGate()
	require.False(t, g.IsSet())

	// Already at the wanted value
	require.NoError(t, g.WaitUntil(false, 10*time.Millisecond))

	err := g.WaitUntil(true, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.Set()
	}()
	require.NoError(t, g.WaitUntil(true, time.Second))
	require.True(t, g.IsSet())
}

func TestGateWakesEveryWaiter(t *testing.T) {
	g := NewGate()
	const waiters = 8

	done := make(chan error, waiters)
	for range waiters {
		go func() { done <- g.WaitUntil(true, time.Second) }()
	}

	time.Sleep(10 * time.Millisecond)
	g.Set()
	for range waiters {
		require.NoError(t, <-done)
	}
}

func TestGateSetClearSequence(t *testing.T) {
	g := NewGate()
	g.Set()
	g.Set()
	require.True(t, g.IsSet())
	g.Clear()
	require.False(t, g.IsSet())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, g.Wait(ctx, true), context.Canceled)
}

func TestGateZeroValue(t *testing.T) {
	var g Gate
	go g.Set()
	require.NoError(t, g.WaitUntil(true, time.Second))
}
