package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultUnauthenticatedMarker is what the client prints when the daemon
// refuses its certificate
const DefaultUnauthenticatedMarker = "The client is not authenticated with the Multipass service"

// Prober decides when a freshly started daemon is ready for tests
type Prober interface {
	WaitReady(ctx context.Context) error
}

// Probe polls the daemon through the client until it answers and reports
// the client's own version.
type Probe struct {
	client   Client
	interval time.Duration
	timeout  time.Duration
	marker   string
	logger   *zap.Logger
}

// ProbeOption configures a Probe
type ProbeOption func(*Probe)

// WithProbeInterval sets the polling interval
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *Probe) {
		p.interval = d
	}
}

// WithProbeTimeout sets the overall readiness deadline
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *Probe) {
		p.timeout = d
	}
}

// WithUnauthenticatedMarker sets the output that means the client is not authenticated
func WithUnauthenticatedMarker(s string) ProbeOption {
	return func(p *Probe) {
		p.marker = s
	}
}

// WithProbeLogger sets the logger
func WithProbeLogger(l *zap.Logger) ProbeOption {
	return func(p *Probe) {
		p.logger = l
	}
}

// NewProbe creates a Probe polling every 200ms for up to 60s
func NewProbe(client Client, opts ...ProbeOption) *Probe {
	p := &Probe{
		client:   client,
		interval: 200 * time.Millisecond,
		timeout:  60 * time.Second,
		marker:   DefaultUnauthenticatedMarker,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// errNotAnswering means the daemon has not started answering yet
var errNotAnswering = errors.New("daemon not answering yet")

// WaitReady polls until the daemon answers with a matching version.
// Authentication failures and version skew fail at once; only a daemon that
// is not answering yet is retried, until the deadline.
func (p *Probe) WaitReady(ctx context.Context) (err error) {
	started := time.Now()
	defer func() {
		result := "ready"
		switch {
		case errors.Is(err, ErrReadinessTimeout):
			result = "timeout"
		case err != nil:
			result = "error"
		}
		recordProbe(started, result)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(p.interval), 1)
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return p.deadline(ctx, attempt-1)
		}

		err := p.check(ctx)
		if err == nil {
			p.logger.Debug("daemon ready", zap.Int("attempt", attempt), zap.Duration("elapsed", time.Since(started)))
			return nil
		}
		if !errors.Is(err, errNotAnswering) {
			return err
		}
		p.logger.Debug("daemon not ready", zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (p *Probe) deadline(ctx context.Context, attempts int) error {
	// The limiter refuses early when the next tick would miss the deadline
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w after %s (%d attempts)", ErrReadinessTimeout, p.timeout, attempts)
}

// check runs one readiness round
func (p *Probe) check(ctx context.Context) error {
	// A client that fails to run or hangs is retried like a silent daemon
	res, err := p.client.Query(ctx)
	if err != nil {
		return fmt.Errorf("%w: query: %v", errNotAnswering, err)
	}
	if p.marker != "" && strings.Contains(res.Output, p.marker) {
		return &SessionFatalError{Msg: "readiness probe", Err: ErrUnauthenticated}
	}
	// A failing query (no image server, say) still leaves the version pair
	// to decide whether the daemon answers
	if res.ExitCode != 0 {
		p.logger.Debug("readiness query failed", zap.Int("exit_code", res.ExitCode))
	}

	res, err = p.client.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: version: %v", errNotAnswering, err)
	}
	clientVersion, daemonVersion, ok := parseVersionPair(res.Output)
	if !ok {
		return fmt.Errorf("%w: daemon version not reported", errNotAnswering)
	}
	if clientVersion != daemonVersion {
		return &VersionMismatchError{Client: clientVersion, Daemon: daemonVersion}
	}
	return nil
}
