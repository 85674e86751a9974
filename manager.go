package daemonctl

import (
	"context"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of a governed daemon
type Snapshot struct {
	Variant      string `json:"variant" yaml:"variant"`
	State        string `json:"state" yaml:"state"`
	Ready        bool   `json:"ready" yaml:"ready"`
	Active       bool   `json:"active" yaml:"active"`
	Exit         string `json:"exit" yaml:"exit"`
	AutoRestarts int    `json:"auto_restarts" yaml:"auto_restarts"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Snapshot queries the controller and combines its answer with the
// governor's own view
func (g *Governor) Snapshot(ctx context.Context) (Snapshot, error) {
	s := Snapshot{
		Variant:      g.ctrl.Variant().String(),
		State:        g.State().String(),
		Ready:        g.Ready(),
		AutoRestarts: g.AutoRestarts(),
	}
	if err := g.Err(); err != nil {
		s.Error = err.Error()
	}

	active, err := g.ctrl.IsActive(ctx)
	if err != nil {
		return s, err
	}
	s.Active = active

	exit := UnknownExit
	if !active {
		if exit, err = g.ctrl.ExitCode(ctx); err != nil {
			return s, err
		}
	}
	s.Exit = exit.String()
	return s, nil
}

// Manager handles operations on multiple governors concurrently.
// It provides bulk operations with configurable concurrency and timeouts.
type Manager struct {
	// Concurrency is the maximum number of concurrent operations
	Concurrency int
	// Timeout is the per-operation timeout
	Timeout time.Duration
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithConcurrency sets the maximum number of concurrent operations
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		m.Concurrency = n
	}
}

// WithTimeout sets the per-operation timeout
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.Timeout = d
	}
}

// NewManager creates a new Manager with default settings
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		Concurrency: 4,
		Timeout:     90 * time.Second,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.Concurrency < 1 {
		m.Concurrency = 1
	}

	return m
}

func (m *Manager) execute(ctx context.Context, govs []*Governor, op func(context.Context, int, *Governor) error) error {
	if len(govs) == 0 {
		return nil
	}

	sem := make(chan struct{}, m.Concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	merr := &MultiError{}

	for i, gov := range govs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
				return
			}

			opCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}

			if err := op(opCtx, i, gov); err != nil {
				mu.Lock()
				merr.Add(err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return merr.Err()
}

// Start starts every governor's daemon and waits until all are ready
func (m *Manager) Start(ctx context.Context, govs ...*Governor) error {
	return m.execute(ctx, govs, func(ctx context.Context, _ int, g *Governor) error {
		return g.Start(ctx)
	})
}

// Stop stops every governor's daemon
func (m *Manager) Stop(ctx context.Context, govs ...*Governor) error {
	return m.execute(ctx, govs, func(ctx context.Context, _ int, g *Governor) error {
		return g.Stop(ctx)
	})
}

// Status snapshots every governor. Snapshots are returned in argument order,
// partially filled for governors whose controller could not be queried.
func (m *Manager) Status(ctx context.Context, govs ...*Governor) ([]Snapshot, error) {
	results := make([]Snapshot, len(govs))
	err := m.execute(ctx, govs, func(ctx context.Context, i int, g *Governor) error {
		s, err := g.Snapshot(ctx)
		results[i] = s
		return err
	})
	return results, err
}
