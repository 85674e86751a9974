package daemonctl

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// Session owns everything one test session needs: the scheduler, the
// controller chosen by the configuration, and the governor driving it.
type Session struct {
	logger   *zap.Logger
	sched    *Scheduler
	governor *Governor
	prepared EnvironmentPreparer
}

// OpenSession builds a Session from cfg. output, when non-nil, receives the
// daemon's output lines.
func OpenSession(ctx context.Context, cfg *Config, logger *zap.Logger, output io.Writer) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctrl, err := cfg.NewController(ctx)
	if err != nil {
		return nil, err
	}
	client, err := cfg.NewClient()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.GovernorOptions(logger, client, output)
	if err != nil {
		return nil, err
	}

	return newSession(ctx, ctrl, logger, opts...), nil
}

func newSession(ctx context.Context, ctrl Controller, logger *zap.Logger, opts ...GovernorOption) *Session {
	sched := NewScheduler(context.WithoutCancel(ctx), WithSchedulerLogger(logger))
	return &Session{
		logger:   logger,
		sched:    sched,
		governor: NewGovernor(ctrl, sched, opts...),
	}
}

// Governor returns the session's governor
func (s *Session) Governor() *Governor {
	return s.governor
}

// Prepare runs the controller's host preparation, if it has any
func (s *Session) Prepare(ctx context.Context) error {
	p, ok := s.governor.Controller().(EnvironmentPreparer)
	if !ok {
		return nil
	}
	s.logger.Info("preparing host environment")
	if err := p.Setup(ctx); err != nil {
		return err
	}
	s.prepared = p
	return nil
}

// Close stops the daemon, restores the host and shuts the scheduler down.
// Every step runs even when an earlier one fails.
func (s *Session) Close(ctx context.Context) error {
	merr := &MultiError{}
	merr.Add(s.governor.Close(ctx))
	if s.prepared != nil {
		s.logger.Info("restoring host environment")
		merr.Add(s.prepared.Teardown(context.WithoutCancel(ctx)))
		s.prepared = nil
	}
	merr.Add(s.sched.Shutdown(time.Second))
	return merr.Err()
}
