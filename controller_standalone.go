package daemonctl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/axondata/go-daemonctl/internal/sysproc"
)

// DefaultStorageEnv is the environment variable pointing the daemon at its
// private data root
const DefaultStorageEnv = "MULTIPASS_STORAGE"

// StandaloneConfig configures a Standalone controller
type StandaloneConfig struct {
	// DaemonPath is the daemon executable
	DaemonPath string
	// Args are passed to the daemon
	Args []string
	// DataDir is the private data root exported through StorageEnv
	DataDir string
	// StorageEnv names the isolation variable (default DefaultStorageEnv)
	StorageEnv string
	// Env is appended to the caller's environment
	Env []string
	// Privileged runs the daemon through the privilege tool
	Privileged bool
	// StopTimeout bounds a graceful stop before the process is killed
	StopTimeout time.Duration
}

// DefaultDaemonArgs are the arguments the daemon under test is started with
func DefaultDaemonArgs() []string {
	return []string{"--logger=stderr", "--verbosity=trace"}
}

// Standalone runs the daemon as a direct child process controlled by signals.
// Output is read from a pipe shared by stdout and stderr.
type Standalone struct {
	argv        []string
	env         []string
	stopTimeout time.Duration

	mu   sync.Mutex
	proc *standaloneProc
}

type standaloneProc struct {
	cmd    *exec.Cmd
	hub    *lineHub
	done   chan struct{}
	status ExitStatus
}

func (p *standaloneProc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// NewStandalone checks the daemon binary and, when privileged, the privilege
// tool. Either one missing is a PrerequisiteError.
func NewStandalone(cfg StandaloneConfig) (*Standalone, error) {
	if cfg.DaemonPath == "" {
		return nil, &PrerequisiteError{What: "daemon executable", Hint: "set daemon.path"}
	}
	daemon, err := exec.LookPath(cfg.DaemonPath)
	if err != nil {
		return nil, &PrerequisiteError{What: cfg.DaemonPath, Err: err}
	}
	if cfg.StorageEnv == "" {
		cfg.StorageEnv = DefaultStorageEnv
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 20 * time.Second
	}

	storage := cfg.StorageEnv + "=" + cfg.DataDir
	argv := append([]string{daemon}, cfg.Args...)
	env := append(os.Environ(), cfg.Env...)

	// Windows passes the storage root through the process environment; sudo
	// would scrub it, so elsewhere it goes through env(1) behind the tool.
	if cfg.Privileged && runtime.GOOS != "windows" {
		tool, err := FindPrivilegeTool()
		if err != nil {
			return nil, err
		}
		argv = tool.Wrap(append([]string{"env", storage}, argv...)...)
	} else {
		env = append(env, storage)
	}

	return &Standalone{
		argv:        argv,
		env:         env,
		stopTimeout: cfg.StopTimeout,
	}, nil
}

// Variant implements Controller
func (s *Standalone) Variant() Variant {
	return VariantStandalone
}

// Argv returns the command line the daemon is started with
func (s *Standalone) Argv() []string {
	return append([]string(nil), s.argv...)
}

func (s *Standalone) current() *standaloneProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Start launches the daemon. It fails with ErrProcessNotExited while the
// previous instance is still alive.
func (s *Standalone) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && !s.proc.exited() {
		return ErrProcessNotExited
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return &LaunchError{Variant: VariantStandalone, Err: err}
	}

	// Not CommandContext: the daemon must outlive the call that started it.
	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Env = s.env
	cmd.Stdout = pw
	cmd.Stderr = pw
	sysproc.Configure(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return &LaunchError{Variant: VariantStandalone, Err: err}
	}
	_ = pw.Close()

	proc := &standaloneProc{cmd: cmd, hub: newLineHub(), done: make(chan struct{})}
	go func() {
		defer func() { _ = pr.Close() }()
		proc.hub.pump(pr)
	}()
	go func() {
		_ = cmd.Wait()
		code, signaled := sysproc.ExitInfo(cmd.ProcessState)
		proc.status = ExitStatus{Code: code, Known: true, Signaled: signaled}
		close(proc.done)
	}()

	s.proc = proc
	return nil
}

// Stop interrupts the daemon and kills it if it outlives StopTimeout.
// Non-graceful stops kill immediately.
func (s *Standalone) Stop(ctx context.Context, graceful bool) error {
	proc := s.current()
	if proc == nil || proc.exited() {
		return nil
	}

	if graceful {
		if err := sysproc.Interrupt(proc.cmd.Process); err != nil {
			return &OpError{Op: "interrupt", Target: s.argv[0], Err: err}
		}

		t := time.NewTimer(s.stopTimeout)
		defer t.Stop()
		select {
		case <-proc.done:
			return nil
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := sysproc.Kill(proc.cmd.Process); err != nil {
		return &OpError{Op: "kill", Target: s.argv[0], Err: err}
	}
	select {
	case <-proc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the daemon gracefully and starts it again
func (s *Standalone) Restart(ctx context.Context) error {
	if err := s.Stop(ctx, true); err != nil {
		return err
	}
	if _, err := s.WaitExit(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// FollowOutput streams the daemon's combined stdout and stderr. With no
// process started the stream is empty.
func (s *Standalone) FollowOutput(ctx context.Context) (<-chan string, error) {
	proc := s.current()
	if proc == nil {
		ch := make(chan string)
		close(ch)
		return ch, nil
	}
	return proc.hub.follow(ctx), nil
}

// IsActive implements Controller
func (s *Standalone) IsActive(_ context.Context) (bool, error) {
	proc := s.current()
	return proc != nil && !proc.exited(), nil
}

// WaitExit implements Controller
func (s *Standalone) WaitExit(ctx context.Context) (ExitStatus, error) {
	proc := s.current()
	if proc == nil {
		return UnknownExit, nil
	}
	select {
	case <-proc.done:
		return proc.status, nil
	case <-ctx.Done():
		return UnknownExit, fmt.Errorf("waiting for daemon exit: %w", ctx.Err())
	}
}

// ExitCode implements Controller
func (s *Standalone) ExitCode(_ context.Context) (ExitStatus, error) {
	proc := s.current()
	if proc == nil || !proc.exited() {
		return UnknownExit, nil
	}
	return proc.status, nil
}

// SupportsSelfAutorestart implements Controller
func (s *Standalone) SupportsSelfAutorestart() bool {
	return false
}

// WaitForSelfAutorestart implements Controller
func (s *Standalone) WaitForSelfAutorestart(_ context.Context) error {
	return ErrNotSupported
}
