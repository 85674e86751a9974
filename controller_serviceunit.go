//go:build linux

package daemonctl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ServiceUnitConfig configures a ServiceUnit controller
type ServiceUnitConfig struct {
	// Unit is the full systemd unit name (e.g. snap.multipass.multipassd.service)
	Unit string
	// Snap, when set, routes start/stop/restart and logs through `snap`
	Snap string
	// Privileged runs mutating commands through the privilege tool
	Privileged bool
	// SystemctlPath is the path to systemctl binary
	SystemctlPath string
	// PollInterval paces state polling
	PollInterval time.Duration
	// CommandTimeout bounds each systemctl or snap invocation
	CommandTimeout time.Duration
}

// ServiceUnit drives a daemon supervised by systemd, directly or as a snap.
// systemd restarts the unit on its own, so SupportsSelfAutorestart is true.
type ServiceUnit struct {
	cfg  ServiceUnitConfig
	priv PrivilegeTool

	mu       sync.Mutex
	baseline UnitState
}

// NewServiceUnit checks that systemctl and the unit exist
func NewServiceUnit(ctx context.Context, cfg ServiceUnitConfig) (*ServiceUnit, error) {
	if cfg.Unit == "" {
		return nil, &PrerequisiteError{What: "service unit name", Hint: "set service_unit.unit"}
	}
	if !strings.Contains(cfg.Unit, ".") {
		cfg.Unit += ".service"
	}
	if cfg.SystemctlPath == "" {
		cfg.SystemctlPath = "systemctl"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}

	if _, err := exec.LookPath(cfg.SystemctlPath); err != nil {
		return nil, &PrerequisiteError{What: cfg.SystemctlPath, Hint: "service-unit controller requires systemd", Err: err}
	}
	if cfg.Snap != "" {
		if _, err := exec.LookPath("snap"); err != nil {
			return nil, &PrerequisiteError{What: "snap", Hint: "install snapd", Err: err}
		}
	}

	s := &ServiceUnit{cfg: cfg}
	if cfg.Privileged {
		tool, err := FindPrivilegeTool()
		if err != nil {
			return nil, err
		}
		s.priv = tool
	}

	st, err := s.state(ctx)
	if err != nil {
		return nil, &PrerequisiteError{What: cfg.Unit, Err: err}
	}
	if !st.Loaded() {
		return nil, &PrerequisiteError{What: cfg.Unit, Err: fmt.Errorf("unit load state is %q", st.LoadState)}
	}
	s.baseline = st
	return s, nil
}

// Variant implements Controller
func (s *ServiceUnit) Variant() Variant {
	return VariantServiceUnit
}

// execPrivileged runs a mutating command, through snap when configured
func (s *ServiceUnit) execPrivileged(ctx context.Context, action string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	argv := []string{s.cfg.SystemctlPath, action, s.cfg.Unit}
	if s.cfg.Snap != "" {
		argv = []string{"snap", action, s.cfg.Snap}
	}
	_, err := runChecked(ctx, strings.Join(argv[:2], " "), s.cfg.Unit, s.priv.Wrap(argv...)...)
	return err
}

// state reads the unit's properties with `systemctl show`
func (s *ServiceUnit) state(ctx context.Context) (UnitState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()

	out, err := runChecked(ctx, "systemctl show", s.cfg.Unit,
		s.cfg.SystemctlPath, "show", "--no-pager",
		"-p", strings.Join(unitShowProperties, ","), s.cfg.Unit)
	if err != nil {
		return UnitState{}, err
	}
	return parseUnitState(out), nil
}

func (s *ServiceUnit) recordBaseline(ctx context.Context) {
	st, err := s.state(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.baseline = st
	s.mu.Unlock()
}

// Start implements Controller
func (s *ServiceUnit) Start(ctx context.Context) error {
	if err := s.execPrivileged(ctx, "start"); err != nil {
		return &LaunchError{Variant: VariantServiceUnit, Err: err}
	}
	s.recordBaseline(ctx)
	return nil
}

// Stop stops the unit. systemd escalates to SIGKILL after the unit's own
// stop timeout; a non-graceful stop sends SIGKILL right away.
func (s *ServiceUnit) Stop(ctx context.Context, graceful bool) error {
	if graceful {
		if err := s.execPrivileged(ctx, "stop"); err != nil {
			return err
		}
	} else {
		killCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
		argv := s.priv.Wrap(s.cfg.SystemctlPath, "kill", "--signal=SIGKILL", s.cfg.Unit)
		if _, err := runChecked(killCtx, "systemctl kill", s.cfg.Unit, argv...); err != nil {
			return err
		}
	}
	_, err := s.WaitExit(ctx)
	return err
}

// Restart uses the native restart operation
func (s *ServiceUnit) Restart(ctx context.Context) error {
	if err := s.execPrivileged(ctx, "restart"); err != nil {
		return err
	}
	s.recordBaseline(ctx)
	return nil
}

// FollowOutput follows the unit's journal, or `snap logs -f` for snaps
func (s *ServiceUnit) FollowOutput(ctx context.Context) (<-chan string, error) {
	argv := []string{"journalctl", "--follow", "--lines=0", "--output=cat", "--unit", s.cfg.Unit}
	if s.cfg.Snap != "" {
		argv = []string{"snap", "logs", s.cfg.Snap, "-f"}
	}
	lines, err := followCommand(ctx, s.priv.Wrap(argv...)...)
	if err != nil {
		return nil, &OpError{Op: argv[0], Target: s.cfg.Unit, Err: err}
	}
	return lines, nil
}

// IsActive implements Controller
func (s *ServiceUnit) IsActive(ctx context.Context) (bool, error) {
	st, err := s.state(ctx)
	if err != nil {
		return false, err
	}
	return st.Active(), nil
}

// WaitExit polls until the main process is gone
func (s *ServiceUnit) WaitExit(ctx context.Context) (ExitStatus, error) {
	var last UnitState
	err := pollUntil(ctx, s.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		st, err := s.state(ctx)
		if err != nil {
			return false, err
		}
		last = st
		return !st.Running(), nil
	})
	if err != nil {
		return UnknownExit, fmt.Errorf("waiting for %s to exit: %w", s.cfg.Unit, err)
	}
	return last.Exit(), nil
}

// ExitCode reads ExecMainStatus; unknown while the unit runs
func (s *ServiceUnit) ExitCode(ctx context.Context) (ExitStatus, error) {
	st, err := s.state(ctx)
	if err != nil {
		return UnknownExit, err
	}
	return st.Exit(), nil
}

// SupportsSelfAutorestart implements Controller
func (s *ServiceUnit) SupportsSelfAutorestart() bool {
	return true
}

// WaitForSelfAutorestart waits until systemd runs a new main process, seen as
// a change of ExecMainStartTimestampMonotonic or MainPID.
func (s *ServiceUnit) WaitForSelfAutorestart(ctx context.Context) error {
	s.mu.Lock()
	prev := s.baseline
	s.mu.Unlock()

	err := pollUntil(ctx, s.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		st, err := s.state(ctx)
		if err != nil {
			return false, err
		}
		if !st.restartedSince(prev) {
			return false, nil
		}
		s.mu.Lock()
		s.baseline = st
		s.mu.Unlock()
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for %s to restart: %w (%w)", s.cfg.Unit, ErrTimeout, err)
	}
	return nil
}
