package daemonctl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Gate is a boolean flag that goroutines can block on until it reaches a value.
// The governor is its single writer; any number of goroutines may wait on it.
//
// Every change closes the current broadcast channel and installs a new one,
// so waiters wake up without polling.
type Gate struct {
	mu      sync.Mutex
	value   bool
	changed chan struct{}
}

// NewGate returns a cleared Gate
func NewGate() *Gate {
	return &Gate{changed: make(chan struct{})}
}

// Set raises the gate and wakes every waiter
func (g *Gate) Set() {
	g.store(true)
}

// Clear lowers the gate and wakes every waiter
func (g *Gate) Clear() {
	g.store(false)
}

// IsSet reports the current value
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *Gate) store(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.changed == nil {
		g.changed = make(chan struct{})
	}
	if g.value == v {
		return
	}
	g.value = v
	close(g.changed)
	g.changed = make(chan struct{})
}

// observe returns the current value and the channel closed on the next change
func (g *Gate) observe() (bool, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.changed == nil {
		g.changed = make(chan struct{})
	}
	return g.value, g.changed
}

// WaitUntil blocks until the gate equals value or timeout elapses.
// It returns an error wrapping ErrTimeout on expiry.
func (g *Gate) WaitUntil(value bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := g.Wait(ctx, value); err != nil {
		return fmt.Errorf("waiting for gate=%t after %s: %w", value, timeout, ErrTimeout)
	}
	return nil
}

// Wait blocks until the gate equals value or ctx is done
func (g *Gate) Wait(ctx context.Context, value bool) error {
	for {
		current, changed := g.observe()
		if current == value {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
