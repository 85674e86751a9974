package daemonctl

import "time"

// Windows service defaults for the daemon under test
const (
	DefaultWindowsServiceName = "multipass"
	DefaultEventProvider      = "Multipass"
	DefaultEventChannel       = "Application"
)

// errorServiceSpecificError is ERROR_SERVICE_SPECIFIC_ERROR: the service
// reported its own exit code in ServiceSpecificExitCode
const errorServiceSpecificError = 1066

// WindowsServiceConfig configures a WindowsService controller
type WindowsServiceConfig struct {
	// Name is the SCM service name
	Name string
	// EventProvider is the event log provider the daemon logs under
	EventProvider string
	// EventChannel is the event log channel
	EventChannel string
	// PollInterval paces state and event log polling
	PollInterval time.Duration
	// CommandTimeout bounds each sc.exe, taskkill or wevtutil invocation
	CommandTimeout time.Duration
}

func (c *WindowsServiceConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultWindowsServiceName
	}
	if c.EventProvider == "" {
		c.EventProvider = DefaultEventProvider
	}
	if c.EventChannel == "" {
		c.EventChannel = DefaultEventChannel
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
}

// serviceExit maps SCM exit codes onto an ExitStatus. The service's own code
// wins when the SCM says it reported one.
func serviceExit(win32Code, specificCode uint32) ExitStatus {
	if win32Code == errorServiceSpecificError {
		return ExitedWith(int(specificCode))
	}
	return ExitedWith(int(win32Code))
}
