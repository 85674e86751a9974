package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the governor's view of the daemon lifecycle
type State int

const (
	// StateStopped means no daemon instance is governed
	StateStopped State = iota
	// StateStarting means a start is in progress
	StateStarting
	// StateRunning means the daemon answered the readiness probe
	StateRunning
	// StateStopping means a stop is in progress
	StateStopping
	// StateCrashedFatal means the daemon died and will not be restarted
	StateCrashedFatal
	// StateCrashedRestarting means the daemon exited to be started again
	StateCrashedRestarting
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashedFatal:
		return "crashed-fatal"
	case StateCrashedRestarting:
		return "crashed-restarting"
	default:
		return "invalid"
	}
}

// failureBuffer is how many asynchronous failures Failures holds unread
const failureBuffer = 16

// Governor drives one Controller through its lifecycle. Lifecycle calls
// run as jobs on a shared Scheduler and are serialized; readiness is
// published through a Gate.
//
// Crashes detected after a successful start are reported asynchronously on
// Failures and through Err.
type Governor struct {
	ctrl     Controller
	sched    *Scheduler
	client   Client
	prober   Prober
	policy   ExitPolicy
	patterns PatternTable
	logger   *zap.Logger
	output   io.Writer
	outMu    sync.Mutex

	stopTimeout        time.Duration
	monitorStopTimeout time.Duration
	drainTimeout       time.Duration

	gate     *Gate
	failures chan error

	// opMu serializes lifecycle operations
	opMu sync.Mutex

	// mu guards everything below
	mu           sync.Mutex
	monitor      *monitorTask
	graceful     bool
	autoRestarts int
	epoch        uint64
	state        State
	lastErr      error
	bootstrapped bool
	bootstrapErr error
}

// GovernorOption configures a Governor
type GovernorOption func(*Governor)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) GovernorOption {
	return func(g *Governor) {
		g.logger = l
	}
}

// WithClient sets the client used for the one-time bootstrap and, unless
// WithProber is given, for the readiness probe
func WithClient(c Client) GovernorOption {
	return func(g *Governor) {
		g.client = c
	}
}

// WithProber overrides the readiness probe
func WithProber(p Prober) GovernorOption {
	return func(g *Governor) {
		g.prober = p
	}
}

// WithExitPolicy sets the exit-code classification
func WithExitPolicy(p ExitPolicy) GovernorOption {
	return func(g *Governor) {
		g.policy = p
	}
}

// WithErrorPatterns sets the table daemon output is diagnosed with
func WithErrorPatterns(t PatternTable) GovernorOption {
	return func(g *Governor) {
		g.patterns = t
	}
}

// WithDaemonOutput copies every daemon output line to w
func WithDaemonOutput(w io.Writer) GovernorOption {
	return func(g *Governor) {
		g.output = w
	}
}

// WithStopTimeout bounds a graceful controller stop before it is forced
func WithStopTimeout(d time.Duration) GovernorOption {
	return func(g *Governor) {
		g.stopTimeout = d
	}
}

// WithMonitorStopTimeout bounds the wait for the monitor after a stop
func WithMonitorStopTimeout(d time.Duration) GovernorOption {
	return func(g *Governor) {
		g.monitorStopTimeout = d
	}
}

// WithOutputDrainTimeout bounds how long output is still read after exit
func WithOutputDrainTimeout(d time.Duration) GovernorOption {
	return func(g *Governor) {
		g.drainTimeout = d
	}
}

// NewGovernor wraps ctrl. sched is shared and must outlive the Governor.
// Without a Client or Prober the daemon counts as ready once it is active.
func NewGovernor(ctrl Controller, sched *Scheduler, opts ...GovernorOption) *Governor {
	g := &Governor{
		ctrl:               ctrl,
		sched:              sched,
		policy:             DefaultExitPolicy(),
		patterns:           DefaultPatterns(),
		logger:             zap.NewNop(),
		stopTimeout:        30 * time.Second,
		monitorStopTimeout: 10 * time.Second,
		drainTimeout:       500 * time.Millisecond,
		gate:               NewGate(),
		failures:           make(chan error, failureBuffer),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.prober == nil {
		if g.client != nil {
			g.prober = NewProbe(g.client, WithProbeLogger(g.logger))
		} else {
			g.prober = activeProber{ctrl: ctrl}
		}
	}
	g.logger = g.logger.With(zap.String("variant", ctrl.Variant().String()))
	return g
}

// activeProber treats an active service as ready
type activeProber struct {
	ctrl Controller
}

func (p activeProber) WaitReady(ctx context.Context) error {
	err := pollUntil(ctx, 200*time.Millisecond, p.ctrl.IsActive)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrReadinessTimeout, err)
	}
	return err
}

// Controller returns the governed controller
func (g *Governor) Controller() Controller {
	return g.ctrl
}

// Gate returns the readiness gate: set while the daemon is up and ready
func (g *Governor) Gate() *Gate {
	return g.gate
}

// Ready reports whether the daemon is up and ready
func (g *Governor) Ready() bool {
	return g.gate.IsSet()
}

// State returns the current lifecycle state
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// AutoRestarts returns how many settings-changed restarts the governor has
// performed
func (g *Governor) AutoRestarts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.autoRestarts
}

// Failures delivers crashes detected while the daemon was running
func (g *Governor) Failures() <-chan error {
	return g.failures
}

// Err returns the most recent asynchronous failure
func (g *Governor) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Start brings the daemon up and blocks until it is ready. Prerequisite,
// launch and readiness failures are returned here; a readiness failure is
// session-fatal.
func (g *Governor) Start(ctx context.Context) error {
	return g.submit(ctx, g.start)
}

// Stop stops the daemon gracefully and waits for its monitor to finish
func (g *Governor) Stop(ctx context.Context) error {
	return g.submit(ctx, g.stop)
}

// Restart stops the daemon and starts it again
func (g *Governor) Restart(ctx context.Context) error {
	return g.submit(ctx, func(ctx context.Context) error {
		if err := g.stop(ctx); err != nil {
			return err
		}
		return g.start(ctx)
	})
}

// Close stops the daemon if it is still governed. The scheduler is left running.
func (g *Governor) Close(ctx context.Context) error {
	err := g.Stop(ctx)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// WaitForStart blocks until the daemon is ready
func (g *Governor) WaitForStart(timeout time.Duration) error {
	return g.gate.WaitUntil(true, timeout)
}

// WaitForShutdown blocks until the daemon is down
func (g *Governor) WaitForShutdown(timeout time.Duration) error {
	return g.gate.WaitUntil(false, timeout)
}

// WaitForRestart blocks until the daemon has restarted on its own and is
// ready again. Self-restarting variants wait for the platform's restart
// signal, probe readiness and re-arm the monitor. Others wait for the
// gate to go down and come back up, which the governor's own restart on
// the settings-changed exit drives.
func (g *Governor) WaitForRestart(ctx context.Context) error {
	if !g.ctrl.SupportsSelfAutorestart() {
		if err := g.gate.Wait(ctx, false); err != nil {
			return fmt.Errorf("waiting for daemon shutdown: %w", ErrTimeout)
		}
		if err := g.gate.Wait(ctx, true); err != nil {
			return fmt.Errorf("waiting for daemon start: %w", ErrTimeout)
		}
		return nil
	}

	if err := g.ctrl.WaitForSelfAutorestart(ctx); err != nil {
		return err
	}
	return g.submit(ctx, g.rearm)
}

// submit runs fn as a serialized lifecycle job and waits for it. fn's context
// ends with either ctx or the scheduler.
func (g *Governor) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	f := g.sched.Run(func(jctx context.Context) error {
		jctx, cancel := context.WithCancel(jctx)
		defer cancel()
		defer context.AfterFunc(ctx, cancel)()

		g.opMu.Lock()
		defer g.opMu.Unlock()
		return fn(jctx)
	})
	return f.Wait(ctx)
}

func (g *Governor) setState(s State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
}

// report records an asynchronous failure. It never drops one silently.
func (g *Governor) report(err error) {
	g.mu.Lock()
	g.lastErr = err
	g.mu.Unlock()

	g.logger.Error("daemon failure", zap.Error(err))
	select {
	case g.failures <- err:
	default:
		g.logger.Error("failure channel full, failure kept only in Err", zap.Error(err))
	}
}

// ensureBootstrap runs the client bootstrap once. Its failure is
// session-fatal and sticky.
func (g *Governor) ensureBootstrap(ctx context.Context) error {
	g.mu.Lock()
	done, err := g.bootstrapped, g.bootstrapErr
	g.mu.Unlock()
	if done {
		return err
	}
	if g.client == nil {
		return nil
	}

	err = g.client.Bootstrap(ctx)
	if err != nil && !errors.Is(err, ErrSessionFatal) {
		err = &SessionFatalError{Msg: "client bootstrap failed", Err: err}
	}
	if err != nil && ctx.Err() != nil {
		// Cancelled, not failed: try again next time
		return err
	}

	g.mu.Lock()
	g.bootstrapped, g.bootstrapErr = true, err
	g.mu.Unlock()
	return err
}

// start runs one start cycle. A settings-changed exit before readiness
// starts the daemon again within the same call.
func (g *Governor) start(ctx context.Context) error {
	if err := g.ensureBootstrap(ctx); err != nil {
		g.setState(StateCrashedFatal)
		return err
	}

	g.mu.Lock()
	if g.monitor != nil {
		g.mu.Unlock()
		return nil
	}
	g.state = StateStarting
	g.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			g.setState(StateStopped)
			return err
		}

		err := g.ctrl.Start(ctx)
		recordStart(g.ctrl.Variant(), err)
		if err != nil {
			g.setState(StateStopped)
			return err
		}
		g.logger.Info("daemon started", zap.Int("attempt", attempt))

		m, err := g.spawnMonitor()
		if err != nil {
			_ = g.ctrl.Stop(context.WithoutCancel(ctx), false)
			g.setState(StateStopped)
			return err
		}

		ready, err := g.raceReadiness(ctx, m)
		if ready {
			return nil
		}
		if err != nil {
			return err
		}
		// Exited with the settings-changed code before becoming ready
		g.mu.Lock()
		g.autoRestarts++
		g.state = StateStarting
		g.mu.Unlock()
		recordAutoRestart(g.ctrl.Variant())
		g.logger.Info("daemon exited to apply settings, starting again", zap.Int("attempt", attempt))
	}
}

// raceReadiness waits for whichever comes first: the probe concluding or
// the monitor seeing the daemon exit. It returns ready=true once the
// monitor is adopted, or ready=false with a nil error when the daemon
// exited with the restart code and must be started again.
func (g *Governor) raceReadiness(ctx context.Context, m *monitorTask) (bool, error) {
	readyCtx, cancelReady := context.WithCancel(ctx)
	defer cancelReady()

	probe := g.sched.Run(func(jctx context.Context) error {
		pctx, cancel := context.WithCancel(readyCtx)
		defer cancel()
		defer context.AfterFunc(jctx, cancel)()
		return g.prober.WaitReady(pctx)
	})

	select {
	case <-m.done:
		cancelReady()
		return false, g.exitedBeforeReady(m)

	case <-probe.Done():
		if err := probe.Err(); err != nil {
			if ctx.Err() != nil {
				return false, g.abortStart(ctx, m)
			}
			if m.finished() {
				return false, g.exitedBeforeReady(m)
			}
			return false, g.readinessFailed(ctx, m, err)
		}

		g.mu.Lock()
		if m.finished() {
			g.mu.Unlock()
			return false, g.exitedBeforeReady(m)
		}
		m.adopted = true
		g.monitor = m
		g.state = StateRunning
		g.gate.Set()
		g.mu.Unlock()

		g.logger.Info("daemon ready")
		return true, nil

	case <-ctx.Done():
		return false, g.abortStart(ctx, m)
	}
}

// abortStart tears down an instance whose start was cancelled by the caller
func (g *Governor) abortStart(ctx context.Context, m *monitorTask) error {
	m.cancel()
	<-m.done
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.stopTimeout)
	defer cancel()
	_ = g.ctrl.Stop(killCtx, false)
	g.setState(StateStopped)
	return ctx.Err()
}

// exitedBeforeReady turns a monitor that finished during start into the
// start's result. A nil result means start again.
func (g *Governor) exitedBeforeReady(m *monitorTask) error {
	switch m.class {
	case ExitRestart:
		return nil
	case ExitSessionFatal, ExitTestCaseFatal:
		g.setState(StateCrashedFatal)
		return m.err
	default:
		g.setState(StateCrashedFatal)
		return &TestCaseFatalError{Msg: fmt.Sprintf("daemon exited before becoming ready (exit %s)", m.status)}
	}
}

// readinessFailed stops the unresponsive daemon and returns a session-fatal error
func (g *Governor) readinessFailed(ctx context.Context, m *monitorTask, cause error) error {
	g.logger.Warn("daemon not ready, attempting graceful shutdown", zap.Error(cause))

	g.mu.Lock()
	g.graceful = true
	g.mu.Unlock()

	if err := g.halt(context.WithoutCancel(ctx), m); err != nil {
		g.logger.Warn("stopping unresponsive daemon failed", zap.Error(err))
	}

	g.mu.Lock()
	g.graceful = false
	g.state = StateCrashedFatal
	g.mu.Unlock()

	return &SessionFatalError{Msg: "tests cannot proceed, daemon not ready", Err: cause}
}

// stop requests a graceful stop and waits for the monitor
func (g *Governor) stop(ctx context.Context) error {
	g.mu.Lock()
	m := g.monitor
	g.graceful = true
	g.epoch++
	g.state = StateStopping
	g.mu.Unlock()

	err := g.halt(ctx, m)

	g.mu.Lock()
	g.graceful = false
	if g.state == StateStopping {
		g.state = StateStopped
	}
	g.mu.Unlock()
	return err
}

// halt stops the controller, escalating to a forced stop when the graceful
// one overruns or fails, then waits for m. The monitor is cancelled when it
// outlives monitorStopTimeout.
func (g *Governor) halt(ctx context.Context, m *monitorTask) error {
	stopCtx, cancel := context.WithTimeout(ctx, g.stopTimeout)
	err := g.ctrl.Stop(stopCtx, true)
	cancel()

	if err != nil && ctx.Err() == nil {
		g.logger.Warn("graceful stop failed, forcing", zap.Duration("timeout", g.stopTimeout), zap.Error(err))
		killCtx, cancel := context.WithTimeout(ctx, g.stopTimeout)
		err = g.ctrl.Stop(killCtx, false)
		cancel()
	}

	if m != nil {
		t := time.NewTimer(g.monitorStopTimeout)
		defer t.Stop()
		select {
		case <-m.done:
		case <-t.C:
			g.logger.Warn("monitor still running after stop, cancelling it", zap.Duration("timeout", g.monitorStopTimeout))
			m.cancel()
			<-m.done
		case <-ctx.Done():
			m.cancel()
			<-m.done
		}
	}

	if err != nil {
		return &OpError{Op: "stop", Target: g.ctrl.Variant().String(), Err: err}
	}
	return nil
}

// rearm adopts the instance a self-restarting platform brought back up
func (g *Governor) rearm(ctx context.Context) error {
	g.mu.Lock()
	old := g.monitor
	if old != nil {
		old.adopted = false
		g.monitor = nil
	}
	g.state = StateStarting
	g.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	if err := g.prober.WaitReady(ctx); err != nil {
		g.setState(StateCrashedFatal)
		return &SessionFatalError{Msg: "daemon not ready after restart", Err: err}
	}

	m, err := g.spawnMonitor()
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if m.finished() {
		return fmt.Errorf("daemon exited again right after restart (exit %s)", m.status)
	}
	m.adopted = true
	g.monitor = m
	g.state = StateRunning
	g.gate.Set()
	return nil
}

// autoRestart is scheduled by a monitor that saw the settings-changed exit.
// A stop issued since then cancels it.
func (g *Governor) autoRestart(ctx context.Context, epoch uint64) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.Lock()
	stale := g.epoch != epoch
	g.mu.Unlock()
	if stale {
		g.logger.Info("daemon stopped meanwhile, skipping automatic restart")
		return nil
	}

	if err := g.start(ctx); err != nil {
		g.report(err)
		return err
	}
	return nil
}

// monitorTask follows one daemon instance from start to exit
type monitorTask struct {
	cancel context.CancelFunc
	done   chan struct{}

	// Written once before done is closed
	status    ExitStatus
	class     ExitClass
	err       error
	cancelled bool

	// adopted is guarded by Governor.mu
	adopted bool
}

func (m *monitorTask) finished() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// spawnMonitor starts the monitor on the scheduler. It must only be called
// after Controller.Start returned.
func (g *Governor) spawnMonitor() (*monitorTask, error) {
	mctx, cancel := context.WithCancel(context.Background())
	m := &monitorTask{cancel: cancel, done: make(chan struct{})}

	ok := g.sched.RunCallback("monitor", func(jctx context.Context) error {
		defer context.AfterFunc(jctx, cancel)()
		g.runMonitor(mctx, m)
		return nil
	})
	if !ok {
		cancel()
		return nil, ErrClosed
	}
	return m, nil
}

// runMonitor reads output for diagnostics while waiting for the exit, then
// classifies it
func (g *Governor) runMonitor(ctx context.Context, m *monitorTask) {
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	var (
		reasonsMu sync.Mutex
		reasons   reasonSet
	)
	readerDone := make(chan struct{})

	lines, err := g.ctrl.FollowOutput(readCtx)
	if err != nil {
		g.logger.Warn("cannot follow daemon output", zap.Error(err))
		close(readerDone)
	} else {
		go func() {
			defer close(readerDone)
			for line := range lines {
				g.echo(line)
				if matched := g.patterns.Match(line); len(matched) > 0 {
					reasonsMu.Lock()
					reasons.add(matched...)
					reasonsMu.Unlock()
				}
			}
		}()
	}

	status, waitErr := g.ctrl.WaitExit(ctx)
	cancelled := ctx.Err() != nil
	if waitErr != nil && !cancelled {
		g.logger.Warn("waiting for daemon exit failed", zap.Error(waitErr))
		status = UnknownExit
	}

	// Let the tail of the output arrive before diagnosing
	drain := time.NewTimer(g.drainTimeout)
	select {
	case <-readerDone:
	case <-drain.C:
	}
	drain.Stop()
	stopReading()

	reasonsMu.Lock()
	matched := append([]string(nil), reasons.list()...)
	reasonsMu.Unlock()

	if failure := g.finishMonitor(m, status, cancelled, matched); failure != nil {
		g.report(failure)
	}
}

// finishMonitor classifies the exit and, for the adopted monitor, resets the
// governor. The gate is cleared here and nowhere else. It returns the
// failure to report, if any.
func (g *Governor) finishMonitor(m *monitorTask, status ExitStatus, cancelled bool, reasons []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	defer close(m.done)

	m.status = status
	m.cancelled = cancelled
	graceful := g.graceful

	if cancelled {
		g.logger.Info("daemon monitor cancelled")
	} else {
		m.class = g.policy.Classify(status, graceful)
		m.err = g.exitError(m.class, status, reasons)
		recordExit(g.ctrl.Variant(), m.class)
		g.logger.Info("daemon exited",
			zap.String("exit_code", status.String()),
			zap.String("class", m.class.String()))
	}

	if !m.adopted {
		return nil
	}

	g.monitor = nil
	g.graceful = false
	g.gate.Clear()

	if cancelled {
		return nil
	}

	switch m.class {
	case ExitClean:
		g.state = StateStopped
	case ExitUnknown:
		g.logger.Warn("daemon exit code unavailable, cannot tell a crash from a normal exit")
		if g.state != StateStopping {
			g.state = StateStopped
		}
	case ExitRestart:
		if graceful {
			// Asked to stop; the restart request dies with it
			g.state = StateStopped
			return nil
		}
		g.state = StateCrashedRestarting
		if g.ctrl.SupportsSelfAutorestart() {
			return nil
		}
		g.autoRestarts++
		recordAutoRestart(g.ctrl.Variant())
		epoch := g.epoch
		restart := func(ctx context.Context) error { return g.autoRestart(ctx, epoch) }
		if !g.sched.RunCallback("auto-restart", restart) {
			g.logger.Warn("scheduler closed, daemon not restarted")
		}
	default:
		g.state = StateCrashedFatal
		return m.err
	}
	return nil
}

// exitError builds the failure for a fatal exit class, with every matched
// output diagnosis attached
func (g *Governor) exitError(class ExitClass, status ExitStatus, reasons []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "daemon died with code %s", status)
	for _, r := range reasons {
		b.WriteString("\nReason: ")
		b.WriteString(r)
	}

	switch class {
	case ExitSessionFatal:
		return &SessionFatalError{Msg: b.String()}
	case ExitTestCaseFatal:
		return &TestCaseFatalError{Msg: b.String()}
	default:
		return nil
	}
}

func (g *Governor) echo(line string) {
	if g.output == nil {
		return
	}
	g.outMu.Lock()
	defer g.outMu.Unlock()
	_, _ = io.WriteString(g.output, line+"\n")
}
