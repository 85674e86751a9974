//go:build windows

package daemonctl

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// WindowsService drives a daemon installed as a Windows service. State comes
// from the SCM; start and stop go through sc.exe with elevation, falling back
// to taskkill when the SCM cannot stop the service.
type WindowsService struct {
	cfg  WindowsServiceConfig
	priv PrivilegeTool

	mu  sync.Mutex
	pid uint32
}

// NewWindowsService checks that the service is registered with the SCM
func NewWindowsService(_ context.Context, cfg WindowsServiceConfig) (*WindowsService, error) {
	cfg.applyDefaults()

	tool, err := FindPrivilegeTool()
	if err != nil {
		return nil, err
	}
	w := &WindowsService{cfg: cfg, priv: tool}
	if _, err := w.query(); err != nil {
		return nil, &PrerequisiteError{What: "windows service " + cfg.Name, Err: err}
	}
	return w, nil
}

// query reads the service status with query-only rights, so no elevation is needed
func (w *WindowsService) query() (svc.Status, error) {
	scm, err := windows.OpenSCManager(nil, nil, windows.SC_MANAGER_CONNECT)
	if err != nil {
		return svc.Status{}, err
	}
	defer func() { _ = windows.CloseServiceHandle(scm) }()

	name, err := windows.UTF16PtrFromString(w.cfg.Name)
	if err != nil {
		return svc.Status{}, err
	}
	h, err := windows.OpenService(scm, name, windows.SERVICE_QUERY_STATUS)
	if err != nil {
		return svc.Status{}, err
	}
	s := &mgr.Service{Name: w.cfg.Name, Handle: h}
	defer func() { _ = s.Close() }()

	return s.Query()
}

func (w *WindowsService) sc(ctx context.Context, action string) (commandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.CommandTimeout)
	defer cancel()
	return runCommand(ctx, nil, w.priv.Wrap("sc.exe", action, w.cfg.Name)...)
}

func (w *WindowsService) waitState(ctx context.Context, want svc.State) error {
	return pollUntil(ctx, w.cfg.PollInterval, func(context.Context) (bool, error) {
		st, err := w.query()
		if err != nil {
			return false, err
		}
		return st.State == want, nil
	})
}

// Variant implements Controller
func (w *WindowsService) Variant() Variant {
	return VariantPlatformService
}

// Start starts the service and waits until the SCM reports it running
func (w *WindowsService) Start(ctx context.Context) error {
	res, err := w.sc(ctx, "start")
	if err == nil && res.Code != 0 {
		err = &OpError{Op: "sc start", Target: w.cfg.Name, Output: res.Output, Err: &exitCodeError{code: res.Code}}
	}
	if err != nil {
		return &LaunchError{Variant: VariantPlatformService, Err: err}
	}
	if err := w.waitState(ctx, svc.Running); err != nil {
		return &LaunchError{Variant: VariantPlatformService, Err: err}
	}

	if st, err := w.query(); err == nil {
		w.mu.Lock()
		w.pid = st.ProcessId
		w.mu.Unlock()
	}
	return nil
}

func (w *WindowsService) forceStop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.CommandTimeout)
	defer cancel()
	argv := w.priv.Wrap("taskkill", "/FI", "SERVICES eq "+w.cfg.Name, "/F")
	_, err := runChecked(ctx, "taskkill", w.cfg.Name, argv...)
	return err
}

// Stop asks the SCM to stop the service and kills its process if the SCM
// refuses. Non-graceful stops kill right away.
func (w *WindowsService) Stop(ctx context.Context, graceful bool) error {
	if graceful {
		res, err := w.sc(ctx, "stop")
		if err != nil || res.Code != 0 {
			if err := w.forceStop(ctx); err != nil {
				return err
			}
		}
	} else if err := w.forceStop(ctx); err != nil {
		return err
	}
	return w.waitState(ctx, svc.Stopped)
}

// Restart implements Controller
func (w *WindowsService) Restart(ctx context.Context) error {
	if err := w.Stop(ctx, true); err != nil {
		return err
	}
	return w.Start(ctx)
}

// FollowOutput polls the event log for the daemon's provider
func (w *WindowsService) FollowOutput(ctx context.Context) (<-chan string, error) {
	q := wevtutilQuery(w.priv, w.cfg.EventChannel, w.cfg.EventProvider, w.cfg.CommandTimeout)
	lines, err := followEvents(ctx, w.cfg.PollInterval, q)
	if err != nil {
		return nil, &OpError{Op: "follow event log", Target: w.cfg.EventProvider, Err: err}
	}
	return lines, nil
}

// IsActive implements Controller
func (w *WindowsService) IsActive(_ context.Context) (bool, error) {
	st, err := w.query()
	if err != nil {
		return false, err
	}
	return st.State == svc.Running, nil
}

// WaitExit implements Controller
func (w *WindowsService) WaitExit(ctx context.Context) (ExitStatus, error) {
	var last svc.Status
	err := pollUntil(ctx, w.cfg.PollInterval, func(context.Context) (bool, error) {
		st, err := w.query()
		if err != nil {
			return false, err
		}
		last = st
		return st.State == svc.Stopped, nil
	})
	if err != nil {
		return UnknownExit, fmt.Errorf("waiting for %s to exit: %w", w.cfg.Name, err)
	}
	return serviceExit(last.Win32ExitCode, last.ServiceSpecificExitCode), nil
}

// ExitCode implements Controller
func (w *WindowsService) ExitCode(_ context.Context) (ExitStatus, error) {
	st, err := w.query()
	if err != nil {
		return UnknownExit, err
	}
	if st.State != svc.Stopped {
		return UnknownExit, nil
	}
	return serviceExit(st.Win32ExitCode, st.ServiceSpecificExitCode), nil
}

// SupportsSelfAutorestart implements Controller
func (w *WindowsService) SupportsSelfAutorestart() bool {
	return true
}

// WaitForSelfAutorestart waits until the service runs under a new process id
func (w *WindowsService) WaitForSelfAutorestart(ctx context.Context) error {
	w.mu.Lock()
	prev := w.pid
	w.mu.Unlock()

	err := pollUntil(ctx, w.cfg.PollInterval, func(context.Context) (bool, error) {
		st, err := w.query()
		if err != nil {
			return false, err
		}
		if st.State != svc.Running || st.ProcessId == 0 || st.ProcessId == prev {
			return false, nil
		}
		w.mu.Lock()
		w.pid = st.ProcessId
		w.mu.Unlock()
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for %s to restart: %w (%w)", w.cfg.Name, ErrTimeout, err)
	}
	return nil
}
