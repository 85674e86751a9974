//go:build !windows

package daemonctl

import "context"

// WindowsService is only available on Windows
type WindowsService struct{}

// NewWindowsService reports that the SCM is not available on this platform
func NewWindowsService(_ context.Context, _ WindowsServiceConfig) (*WindowsService, error) {
	return nil, &PrerequisiteError{What: "service control manager", Hint: "platform-service controller requires Windows", Err: ErrNotSupported}
}

// Variant implements Controller
func (w *WindowsService) Variant() Variant { return VariantPlatformService }

// Start implements Controller
func (w *WindowsService) Start(context.Context) error { return ErrNotSupported }

// Stop implements Controller
func (w *WindowsService) Stop(context.Context, bool) error { return ErrNotSupported }

// Restart implements Controller
func (w *WindowsService) Restart(context.Context) error { return ErrNotSupported }

// FollowOutput implements Controller
func (w *WindowsService) FollowOutput(context.Context) (<-chan string, error) {
	return nil, ErrNotSupported
}

// IsActive implements Controller
func (w *WindowsService) IsActive(context.Context) (bool, error) { return false, ErrNotSupported }

// WaitExit implements Controller
func (w *WindowsService) WaitExit(context.Context) (ExitStatus, error) {
	return UnknownExit, ErrNotSupported
}

// ExitCode implements Controller
func (w *WindowsService) ExitCode(context.Context) (ExitStatus, error) {
	return UnknownExit, ErrNotSupported
}

// SupportsSelfAutorestart implements Controller
func (w *WindowsService) SupportsSelfAutorestart() bool { return true }

// WaitForSelfAutorestart implements Controller
func (w *WindowsService) WaitForSelfAutorestart(context.Context) error { return ErrNotSupported }
