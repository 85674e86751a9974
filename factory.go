package daemonctl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Host probes used by DetectVariant; replaced in tests
var (
	hostOS   = runtime.GOOS
	hostStat = os.Stat
	hostLook = exec.LookPath
)

// DetectVariant picks the controller variant native to this host: the SCM on
// Windows, launchd on macOS, the snap's systemd unit where both systemd and
// snapd are present, and a standalone child process otherwise.
func DetectVariant() Variant {
	switch hostOS {
	case "windows":
		return VariantPlatformService
	case "darwin":
		return VariantPlatformDaemon
	}
	if _, err := hostStat("/run/systemd/system"); err != nil {
		return VariantStandalone
	}
	if _, err := hostLook("snap"); err != nil {
		return VariantStandalone
	}
	return VariantServiceUnit
}

// NewController builds a controller of the given variant from cfg
func NewController(ctx context.Context, variant Variant, cfg *Config) (Controller, error) {
	switch variant {
	case VariantStandalone:
		return controllerOrNil(NewStandalone(StandaloneConfig{
			DaemonPath:  cfg.Daemon.Path,
			Args:        cfg.Daemon.Args,
			DataDir:     cfg.Daemon.DataDir,
			StorageEnv:  cfg.Daemon.StorageEnv,
			Env:         cfg.Daemon.Env,
			Privileged:  cfg.Privileged,
			StopTimeout: cfg.Timeouts.DaemonStop,
		}))
	case VariantServiceUnit:
		return controllerOrNil(NewServiceUnit(ctx, ServiceUnitConfig{
			Unit:           cfg.ServiceUnit.Unit,
			Snap:           cfg.ServiceUnit.Snap,
			Privileged:     cfg.Privileged,
			PollInterval:   cfg.Timeouts.Poll,
			CommandTimeout: cfg.Timeouts.Command,
		}))
	case VariantPlatformDaemon:
		return controllerOrNil(NewLaunchd(LaunchdConfig{
			Label:          cfg.Launchd.Label,
			PlistPath:      cfg.Launchd.Plist,
			LogPath:        cfg.Launchd.LogPath,
			StopWait:       cfg.Timeouts.LaunchdStep,
			CommandTimeout: cfg.Timeouts.Command,
		}))
	case VariantPlatformService:
		return controllerOrNil(NewWindowsService(ctx, WindowsServiceConfig{
			Name:           cfg.Windows.Name,
			EventProvider:  cfg.Windows.Provider,
			EventChannel:   cfg.Windows.Channel,
			PollInterval:   cfg.Timeouts.Poll,
			CommandTimeout: cfg.Timeouts.Command,
		}))
	default:
		return nil, fmt.Errorf("no controller for variant %s", variant)
	}
}

// controllerOrNil keeps a failed constructor's typed nil out of the interface
func controllerOrNil(c Controller, err error) (Controller, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}
