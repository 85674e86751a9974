//go:build !linux

package daemonctl

import (
	"context"
	"time"
)

// ServiceUnitConfig configures a ServiceUnit controller
type ServiceUnitConfig struct {
	Unit           string
	Snap           string
	Privileged     bool
	SystemctlPath  string
	PollInterval   time.Duration
	CommandTimeout time.Duration
}

// ServiceUnit is only available on Linux
type ServiceUnit struct{}

// NewServiceUnit reports that systemd is not available on this platform
func NewServiceUnit(_ context.Context, cfg ServiceUnitConfig) (*ServiceUnit, error) {
	return nil, &PrerequisiteError{What: "systemd", Hint: "service-unit controller requires Linux", Err: ErrNotSupported}
}

// Variant implements Controller
func (s *ServiceUnit) Variant() Variant { return VariantServiceUnit }

// Start implements Controller
func (s *ServiceUnit) Start(context.Context) error { return ErrNotSupported }

// Stop implements Controller
func (s *ServiceUnit) Stop(context.Context, bool) error { return ErrNotSupported }

// Restart implements Controller
func (s *ServiceUnit) Restart(context.Context) error { return ErrNotSupported }

// FollowOutput implements Controller
func (s *ServiceUnit) FollowOutput(context.Context) (<-chan string, error) {
	return nil, ErrNotSupported
}

// IsActive implements Controller
func (s *ServiceUnit) IsActive(context.Context) (bool, error) { return false, ErrNotSupported }

// WaitExit implements Controller
func (s *ServiceUnit) WaitExit(context.Context) (ExitStatus, error) {
	return UnknownExit, ErrNotSupported
}

// ExitCode implements Controller
func (s *ServiceUnit) ExitCode(context.Context) (ExitStatus, error) {
	return UnknownExit, ErrNotSupported
}

// SupportsSelfAutorestart implements Controller
func (s *ServiceUnit) SupportsSelfAutorestart() bool { return true }

// WaitForSelfAutorestart implements Controller
func (s *ServiceUnit) WaitForSelfAutorestart(context.Context) error { return ErrNotSupported }
