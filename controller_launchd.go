package daemonctl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Launchd defaults for the daemon under test
const (
	DefaultLaunchdLabel   = "com.canonical.multipassd"
	DefaultLaunchdLogPath = "/Library/Logs/Multipass/multipassd.log"
)

// LaunchdConfig configures a Launchd controller
type LaunchdConfig struct {
	// Label is the job's reverse-DNS label
	Label string
	// PlistPath is the job's original plist; resolved from launchd when empty
	PlistPath string
	// LogPath is the file the daemon logs to
	LogPath string
	// PollInterval paces state polling
	PollInterval time.Duration
	// StopWait bounds each stop attempt before the next escalation step
	StopWait time.Duration
	// CommandTimeout bounds each launchctl invocation
	CommandTimeout time.Duration
}

// Launchd drives a macOS system daemon through launchctl. Setup replaces the
// job with an override that has KeepAlive turned off, so launchd never
// respawns it and the governor is the only restarter.
type Launchd struct {
	cfg  LaunchdConfig
	priv PrivilegeTool

	mu  sync.Mutex
	pid int
}

var (
	launchdStateRe = regexp.MustCompile(`(?m)^\s*state\s*=\s*(\w+)`)
	launchdPIDRe   = regexp.MustCompile(`(?m)^\s*pid\s*=\s*(\d+)`)
	launchdPathRe  = regexp.MustCompile(`(?m)^\s*path\s*=\s*(.+)$`)
	launchdExitRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)last exit code\s*=\s*(-?\d+)`),
		regexp.MustCompile(`(?i)last exit status\s*=\s*(-?\d+)`),
		regexp.MustCompile(`(?i)termination status\s*=\s*(-?\d+)`),
	}
)

// launchdJob is the parsed form of `launchctl print system/<label>`.
// Exit is unknown while the job runs; LastExit is the previous instance's
// status either way.
type launchdJob struct {
	State    string
	PID      int
	Path     string
	Exit     ExitStatus
	LastExit ExitStatus
}

func (j launchdJob) running() bool {
	return strings.EqualFold(j.State, "running")
}

// ended reports whether the instance running as pid is gone: the job is
// down, or launchd already respawned it under another PID.
func (j launchdJob) ended(pid int) bool {
	if !j.running() {
		return true
	}
	return pid != 0 && j.PID != 0 && j.PID != pid
}

func parseLaunchctlPrint(out string) launchdJob {
	job := launchdJob{Exit: UnknownExit, LastExit: UnknownExit}
	if m := launchdStateRe.FindStringSubmatch(out); m != nil {
		job.State = strings.ToLower(m[1])
	}
	if m := launchdPIDRe.FindStringSubmatch(out); m != nil {
		job.PID, _ = strconv.Atoi(m[1])
	}
	if m := launchdPathRe.FindStringSubmatch(out); m != nil {
		job.Path = strings.TrimSpace(m[1])
	}
	for _, re := range launchdExitRes {
		if m := re.FindStringSubmatch(out); m != nil {
			if code, err := strconv.Atoi(m[1]); err == nil {
				job.LastExit = ExitedWith(code)
				break
			}
		}
	}
	if !job.running() {
		job.Exit = job.LastExit
	}
	return job
}

// NewLaunchd checks for macOS and the privilege tool
func NewLaunchd(cfg LaunchdConfig) (*Launchd, error) {
	if runtime.GOOS != "darwin" {
		return nil, &PrerequisiteError{What: "launchd", Hint: "platform-daemon controller requires macOS", Err: ErrNotSupported}
	}
	if cfg.Label == "" {
		cfg.Label = DefaultLaunchdLabel
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultLaunchdLogPath
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.StopWait <= 0 {
		cfg.StopWait = 6 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}

	tool, err := FindPrivilegeTool()
	if err != nil {
		return nil, err
	}
	return &Launchd{cfg: cfg, priv: tool}, nil
}

func (l *Launchd) target() string {
	return "system/" + l.cfg.Label
}

// launchctl runs launchctl through the privilege tool
func (l *Launchd) launchctl(ctx context.Context, args ...string) (commandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CommandTimeout)
	defer cancel()
	return runCommand(ctx, nil, l.priv.Wrap(append([]string{"launchctl"}, args...)...)...)
}

func (l *Launchd) print(ctx context.Context) (launchdJob, error) {
	res, err := l.launchctl(ctx, "print", l.target())
	if err != nil {
		return launchdJob{}, &OpError{Op: "launchctl print", Target: l.cfg.Label, Err: err}
	}
	if res.Code != 0 {
		// Not loaded: nothing runs and nothing is reported
		return launchdJob{Exit: UnknownExit}, nil
	}
	return parseLaunchctlPrint(res.Output), nil
}

// Variant implements Controller
func (l *Launchd) Variant() Variant {
	return VariantPlatformDaemon
}

// Start kickstarts the job without killing a running instance
func (l *Launchd) Start(ctx context.Context) error {
	res, err := l.launchctl(ctx, "kickstart", l.target())
	if err == nil && res.Code != 0 {
		err = &OpError{Op: "launchctl kickstart", Target: l.cfg.Label, Output: res.Output, Err: &exitCodeError{code: res.Code}}
	}
	if err != nil {
		return &LaunchError{Variant: VariantPlatformDaemon, Err: err}
	}

	if job, err := l.print(ctx); err == nil {
		l.mu.Lock()
		l.pid = job.PID
		l.mu.Unlock()
	}
	return nil
}

// waitInactive polls until the job stops running or d elapses
func (l *Launchd) waitInactive(ctx context.Context, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return pollUntil(ctx, l.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		active, err := l.IsActive(ctx)
		return !active, err
	}) == nil
}

// Stop asks launchd to stop the job, then nudges it with SIGTERM and finally
// SIGKILL, waiting StopWait between steps. Non-graceful stops go straight to
// SIGKILL.
func (l *Launchd) Stop(ctx context.Context, graceful bool) error {
	steps := [][]string{
		{"stop", l.target()},
		{"kill", "SIGTERM", l.target()},
		{"kill", "SIGKILL", l.target()},
	}
	if !graceful {
		steps = steps[2:]
	}

	for _, step := range steps {
		if _, err := l.launchctl(ctx, step...); err != nil {
			return &OpError{Op: "launchctl " + step[0], Target: l.cfg.Label, Err: err}
		}
		if l.waitInactive(ctx, l.cfg.StopWait) {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return &OpError{Op: "stop", Target: l.cfg.Label, Err: ErrTimeout}
}

// Restart implements Controller
func (l *Launchd) Restart(ctx context.Context) error {
	if err := l.Stop(ctx, true); err != nil {
		return err
	}
	return l.Start(ctx)
}

// FollowOutput tails the daemon's log file. When the file is not readable
// by the caller it falls back to a privileged `tail -F`.
func (l *Launchd) FollowOutput(ctx context.Context) (<-chan string, error) {
	if f, err := os.Open(l.cfg.LogPath); err == nil {
		_ = f.Close()
		return FollowFile(ctx, l.cfg.LogPath)
	}
	lines, err := followCommand(ctx, l.priv.Wrap("tail", "-n", "0", "-F", l.cfg.LogPath)...)
	if err != nil {
		return nil, &OpError{Op: "tail", Target: l.cfg.LogPath, Err: err}
	}
	return lines, nil
}

// IsActive reports whether launchd shows the job running
func (l *Launchd) IsActive(ctx context.Context) (bool, error) {
	job, err := l.print(ctx)
	if err != nil {
		return false, err
	}
	return job.running(), nil
}

// WaitExit waits for the instance started last to end. A restart by someone
// else between two polls still counts: the new PID carries the old exit status.
func (l *Launchd) WaitExit(ctx context.Context) (ExitStatus, error) {
	l.mu.Lock()
	pid := l.pid
	l.mu.Unlock()

	var last launchdJob
	err := pollUntil(ctx, l.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		job, err := l.print(ctx)
		if err != nil {
			return false, err
		}
		last = job
		return job.ended(pid), nil
	})
	if err != nil {
		return UnknownExit, fmt.Errorf("waiting for %s to exit: %w", l.cfg.Label, err)
	}
	return last.LastExit, nil
}

// ExitCode implements Controller
func (l *Launchd) ExitCode(ctx context.Context) (ExitStatus, error) {
	job, err := l.print(ctx)
	if err != nil {
		return UnknownExit, err
	}
	return job.Exit, nil
}

// SupportsSelfAutorestart is false: the override job is never respawned by
// launchd, the governor restarts it on the settings-changed exit
func (l *Launchd) SupportsSelfAutorestart() bool {
	return false
}

// WaitForSelfAutorestart waits for launchd to run the job under a new PID
func (l *Launchd) WaitForSelfAutorestart(ctx context.Context) error {
	l.mu.Lock()
	prev := l.pid
	l.mu.Unlock()

	err := pollUntil(ctx, l.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		job, err := l.print(ctx)
		if err != nil {
			return false, err
		}
		if !job.running() || job.PID == 0 || job.PID == prev {
			return false, nil
		}
		l.mu.Lock()
		l.pid = job.PID
		l.mu.Unlock()
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for %s to restart: %w (%w)", l.cfg.Label, ErrTimeout, err)
	}
	return nil
}

// plistPath returns the configured plist, the one launchd loaded the job
// from, or the conventional location.
func (l *Launchd) plistPath(ctx context.Context) string {
	if l.cfg.PlistPath != "" {
		return l.cfg.PlistPath
	}
	if job, err := l.print(ctx); err == nil && job.Path != "" {
		return job.Path
	}
	return filepath.Join("/Library/LaunchDaemons", l.cfg.Label+".plist")
}

// Setup swaps the job for an override with KeepAlive turned off. The original plist path is remembered for Teardown.
func (l *Launchd) Setup(ctx context.Context) error {
	original := l.plistPath(ctx)
	l.cfg.PlistPath = original

	// The job may not be loaded
	_, _ = l.launchctl(ctx, "bootout", l.target())

	override, err := l.writeOverride(ctx, original)
	if err != nil {
		return err
	}

	res, err := l.launchctl(ctx, "bootstrap", "system", override)
	if err == nil && res.Code != 0 {
		err = &exitCodeError{code: res.Code}
	}
	if err != nil {
		return &OpError{Op: "launchctl bootstrap", Target: override, Output: res.Output, Err: err}
	}
	return nil
}

// Teardown restores the original job and kickstarts it. Every step runs;
// failures are collected.
func (l *Launchd) Teardown(ctx context.Context) error {
	original := l.plistPath(ctx)
	merr := &MultiError{}

	_, _ = l.launchctl(ctx, "bootout", l.target())

	res, err := l.launchctl(ctx, "bootstrap", "system", original)
	if err == nil && res.Code != 0 {
		err = &exitCodeError{code: res.Code}
	}
	if err != nil {
		merr.Add(&OpError{Op: "launchctl bootstrap", Target: original, Output: res.Output, Err: err})
	}

	res, err = l.launchctl(ctx, "kickstart", l.target())
	if err == nil && res.Code != 0 {
		err = &exitCodeError{code: res.Code}
	}
	if err != nil {
		merr.Add(&OpError{Op: "launchctl kickstart", Target: l.cfg.Label, Output: res.Output, Err: err})
	}
	return merr.Err()
}

// writeOverride copies the original plist into a private directory, forces
// Label and KeepAlive, and hands the file to root:wheel as launchd requires.
func (l *Launchd) writeOverride(ctx context.Context, original string) (string, error) {
	data, err := os.ReadFile(original)
	if err != nil {
		return "", &OpError{Op: "read plist", Target: original, Err: err}
	}

	dir, err := os.MkdirTemp("", "daemonctl-launchd-")
	if err != nil {
		return "", err
	}
	override := filepath.Join(dir, l.cfg.Label+".plist")
	if err := renameio.WriteFile(override, data, 0o644); err != nil {
		return "", &OpError{Op: "write plist", Target: override, Err: err}
	}

	for _, argv := range l.overrideEdits(override) {
		if _, err := exec.LookPath(argv[0]); err != nil {
			return "", &PrerequisiteError{What: argv[0], Err: err}
		}
		if _, err := runChecked(ctx, argv[0], override, argv...); err != nil {
			return "", err
		}
	}
	return override, nil
}

// overrideEdits are the commands turning a copied plist into the override
func (l *Launchd) overrideEdits(override string) [][]string {
	return [][]string{
		{"plutil", "-replace", "Label", "-string", l.cfg.Label, override},
		{"plutil", "-replace", "KeepAlive", "-bool", "false", override},
		l.priv.Wrap("chown", "root:wheel", override),
		l.priv.Wrap("chmod", "644", override),
	}
}
