package daemonctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"vawter.tech/stopper"
)

// Scheduler owns every background goroutine the governor runs: lifecycle
// operations submitted by synchronous callers, monitor tasks and restart
// callbacks. Shutdown cancels all of them and waits for them to drain, so no
// background work outlives the session that created the scheduler.
//
// A Scheduler is shared by reference; it must outlive every Governor bound to it.
type Scheduler struct {
	sctx   *stopper.Context
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger used for callback failures
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a Scheduler whose jobs are cancelled when ctx is done
// or Shutdown is called, whichever comes first.
func NewScheduler(ctx context.Context, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		sctx:   stopper.WithContext(ctx),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Future is the eventual result of a job submitted with Run
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the job has finished
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the job's error. It must only be called after Done is closed.
func (f *Future) Err() error {
	return f.err
}

// Wait blocks until the job finishes or ctx is done. The job keeps running
// when ctx expires first.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled job: %w", ctx.Err())
	}
}

// Result blocks for at most timeout. It wraps ErrTimeout on expiry.
func (f *Future) Result(timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-f.done:
		return f.err
	case <-t.C:
		return fmt.Errorf("scheduled job still running after %s: %w", timeout, ErrTimeout)
	}
}

// Run submits fn for execution on a scheduler-owned goroutine and returns
// its Future. fn's context is cancelled when the scheduler shuts down.
// It is safe to call from any goroutine.
func (s *Scheduler) Run(fn func(ctx context.Context) error) *Future {
	f := newFuture()
	if !s.spawn(func(ctx context.Context) { f.resolve(s.call(ctx, fn)) }) {
		f.resolve(ErrClosed)
	}
	return f
}

// RunCallback schedules fn without a result. It is how a running job hands
// work back to the scheduler without awaiting its own continuation.
// Failures are logged. It reports false when the scheduler is closed.
func (s *Scheduler) RunCallback(name string, fn func(ctx context.Context) error) bool {
	return s.spawn(func(ctx context.Context) {
		if err := s.call(ctx, fn); err != nil {
			s.logger.Warn("scheduled callback failed", zap.String("callback", name), zap.Error(err))
		}
	})
}

func (s *Scheduler) spawn(body func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.sctx.IsStopping() {
		return false
	}

	s.sctx.Go(func(sctx *stopper.Context) error {
		// Jobs are cancelled as soon as a stop begins; the grace period
		// passed to Shutdown only bounds how long they may take to unwind.
		ctx, cancel := context.WithCancel(sctx)
		defer cancel()
		go func() {
			select {
			case <-sctx.Stopping():
				cancel()
			case <-ctx.Done():
			}
		}()

		body(ctx)
		return nil
	})
	return true
}

func (s *Scheduler) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Closed reports whether Shutdown has been called
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shutdown cancels every outstanding job and waits up to grace for them to
// return. It is idempotent and safe to call from any goroutine except a job
// running on this scheduler.
func (s *Scheduler) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.sctx.Stop(grace)

	waited := make(chan error, 1)
	go func() { waited <- s.sctx.Wait() }()

	t := time.NewTimer(grace + 100*time.Millisecond)
	defer t.Stop()

	select {
	case err := <-waited:
		return err
	case <-t.C:
		return fmt.Errorf("scheduler jobs still running after %s: %w", grace, ErrTimeout)
	}
}
