package daemonctl

import (
	"context"
	"fmt"
	"strings"
)

// Variant identifies the service-management mechanism a Controller drives
type Variant int

const (
	// VariantUnknown is the zero value; it never names a working controller
	VariantUnknown Variant = iota
	// VariantStandalone runs the daemon as a direct child process
	VariantStandalone
	// VariantServiceUnit drives a systemd unit (including snap-packaged units)
	VariantServiceUnit
	// VariantPlatformDaemon drives a launchd system daemon on macOS
	VariantPlatformDaemon
	// VariantPlatformService drives a Windows service through the SCM
	VariantPlatformService
)

// Variant string constants
const (
	variantUnknownStr         = "unknown"
	variantStandaloneStr      = "standalone"
	variantServiceUnitStr     = "service-unit"
	variantPlatformDaemonStr  = "platform-daemon"
	variantPlatformServiceStr = "platform-service"
)

// String returns the string representation of Variant
func (v Variant) String() string {
	switch v {
	case VariantStandalone:
		return variantStandaloneStr
	case VariantServiceUnit:
		return variantServiceUnitStr
	case VariantPlatformDaemon:
		return variantPlatformDaemonStr
	case VariantPlatformService:
		return variantPlatformServiceStr
	case VariantUnknown:
		fallthrough
	default:
		return variantUnknownStr
	}
}

// ParseVariant parses a variant name. A few packaging aliases are accepted:
// "snap" and "systemd" for service-unit, "launchd" for platform-daemon and
// "windows" for platform-service.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case variantStandaloneStr:
		return VariantStandalone, nil
	case variantServiceUnitStr, "snap", "systemd":
		return VariantServiceUnit, nil
	case variantPlatformDaemonStr, "launchd":
		return VariantPlatformDaemon, nil
	case variantPlatformServiceStr, "windows":
		return VariantPlatformService, nil
	default:
		return VariantUnknown, fmt.Errorf("unknown controller variant %q", s)
	}
}

// Controller is the capability set every service-management variant provides.
// A Controller owns the handles for exactly one underlying process or service.
// Lifecycle calls must be serialized by the caller; FollowOutput, IsActive and
// ExitCode may run concurrently with them.
type Controller interface {
	// Variant reports which mechanism this controller drives
	Variant() Variant

	// Start begins bringing the service up. It does not wait for readiness.
	Start(ctx context.Context) error

	// Stop requests shutdown and blocks until the service is inactive or a
	// hard timeout elapses. Graceful stops escalate to forceful termination
	// after a bounded wait.
	Stop(ctx context.Context, graceful bool) error

	// Restart is Stop(graceful) followed by Start, or a native restart
	Restart(ctx context.Context) error

	// FollowOutput returns a fresh stream of output lines. The channel is
	// closed when the source ends or ctx is done.
	FollowOutput(ctx context.Context) (<-chan string, error)

	// IsActive reports whether the platform currently considers the service up
	IsActive(ctx context.Context) (bool, error)

	// WaitExit blocks until the service is inactive and returns its last
	// known exit status.
	WaitExit(ctx context.Context) (ExitStatus, error)

	// ExitCode returns the last exit status; unknown while the service is active
	ExitCode(ctx context.Context) (ExitStatus, error)

	// SupportsSelfAutorestart reports whether the platform supervisor
	// restarts the service without the governor's involvement
	SupportsSelfAutorestart() bool

	// WaitForSelfAutorestart blocks until the platform has restarted the
	// service. Variants that do not advertise support may return ErrNotSupported.
	WaitForSelfAutorestart(ctx context.Context) error
}

// EnvironmentPreparer is implemented by controllers that must adjust the
// host before tests run and restore it afterwards.
type EnvironmentPreparer interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
}
