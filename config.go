package daemonctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is the prefix for environment overrides, e.g. DAEMONCTL_DAEMON_PATH
const EnvPrefix = "DAEMONCTL"

// Config is the file/environment form of everything needed to build a
// Controller, a Client and a Governor.
type Config struct {
	// Variant is a controller variant name or "auto"
	Variant string `mapstructure:"variant" yaml:"variant"`
	// Privileged runs daemon-side commands through the privilege tool
	Privileged bool `mapstructure:"privileged" yaml:"privileged"`

	Daemon      DaemonSection      `mapstructure:"daemon" yaml:"daemon"`
	ServiceUnit ServiceUnitSection `mapstructure:"service_unit" yaml:"service_unit"`
	Launchd     LaunchdSection     `mapstructure:"launchd" yaml:"launchd"`
	Windows     WindowsSection     `mapstructure:"windows" yaml:"windows"`
	Client      ClientSection      `mapstructure:"client" yaml:"client"`
	Timeouts    TimeoutSection     `mapstructure:"timeouts" yaml:"timeouts"`
	ExitPolicy  ExitPolicySection  `mapstructure:"exit_policy" yaml:"exit_policy"`

	// DefaultPatterns keeps the built-in error patterns ahead of Patterns
	DefaultPatterns bool          `mapstructure:"default_patterns" yaml:"default_patterns"`
	Patterns        []PatternSpec `mapstructure:"patterns" yaml:"patterns"`
}

// DaemonSection configures the standalone variant
type DaemonSection struct {
	Path       string   `mapstructure:"path" yaml:"path"`
	Args       []string `mapstructure:"args" yaml:"args"`
	DataDir    string   `mapstructure:"data_dir" yaml:"data_dir"`
	StorageEnv string   `mapstructure:"storage_env" yaml:"storage_env"`
	Env        []string `mapstructure:"env" yaml:"env"`
}

// ServiceUnitSection configures the service-unit variant
type ServiceUnitSection struct {
	Unit string `mapstructure:"unit" yaml:"unit"`
	Snap string `mapstructure:"snap" yaml:"snap"`
}

// LaunchdSection configures the platform-daemon variant
type LaunchdSection struct {
	Label   string `mapstructure:"label" yaml:"label"`
	Plist   string `mapstructure:"plist" yaml:"plist"`
	LogPath string `mapstructure:"log_path" yaml:"log_path"`
}

// WindowsSection configures the platform-service variant
type WindowsSection struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// ClientSection configures the command-line client used for readiness
type ClientSection struct {
	Path        string   `mapstructure:"path" yaml:"path"`
	Env         []string `mapstructure:"env" yaml:"env"`
	QueryArgs   []string `mapstructure:"query_args" yaml:"query_args"`
	VersionArgs []string `mapstructure:"version_args" yaml:"version_args"`
	AuthArgs    []string `mapstructure:"auth_args" yaml:"auth_args"`
	// UnauthenticatedMarker is the output that fails readiness at once
	UnauthenticatedMarker string `mapstructure:"unauthenticated_marker" yaml:"unauthenticated_marker"`
}

// TimeoutSection holds every bound the governor and controllers apply
type TimeoutSection struct {
	Start         time.Duration `mapstructure:"start" yaml:"start"`
	Stop          time.Duration `mapstructure:"stop" yaml:"stop"`
	DaemonStop    time.Duration `mapstructure:"daemon_stop" yaml:"daemon_stop"`
	MonitorStop   time.Duration `mapstructure:"monitor_stop" yaml:"monitor_stop"`
	OutputDrain   time.Duration `mapstructure:"output_drain" yaml:"output_drain"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	Readiness     time.Duration `mapstructure:"readiness" yaml:"readiness"`
	Poll          time.Duration `mapstructure:"poll" yaml:"poll"`
	Command       time.Duration `mapstructure:"command" yaml:"command"`
	LaunchdStep   time.Duration `mapstructure:"launchd_step" yaml:"launchd_step"`
	Client        time.Duration `mapstructure:"client" yaml:"client"`
}

// ExitPolicySection is the configuration form of ExitPolicy
type ExitPolicySection struct {
	RestartCode       int   `mapstructure:"restart_code" yaml:"restart_code"`
	SessionFatalCodes []int `mapstructure:"session_fatal_codes" yaml:"session_fatal_codes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("variant", "auto")
	v.SetDefault("privileged", false)

	v.SetDefault("daemon.path", "multipassd")
	v.SetDefault("daemon.args", DefaultDaemonArgs())
	v.SetDefault("daemon.data_dir", "")
	v.SetDefault("daemon.storage_env", DefaultStorageEnv)
	v.SetDefault("daemon.env", []string{})

	v.SetDefault("service_unit.unit", "snap.multipass.multipassd.service")
	v.SetDefault("service_unit.snap", "")

	v.SetDefault("launchd.label", DefaultLaunchdLabel)
	v.SetDefault("launchd.plist", "")
	v.SetDefault("launchd.log_path", DefaultLaunchdLogPath)

	v.SetDefault("windows.name", DefaultWindowsServiceName)
	v.SetDefault("windows.provider", DefaultEventProvider)
	v.SetDefault("windows.channel", DefaultEventChannel)

	v.SetDefault("client.path", "multipass")
	v.SetDefault("client.env", []string{})
	v.SetDefault("client.query_args", []string{"find", "noble"})
	v.SetDefault("client.version_args", []string{"version"})
	v.SetDefault("client.auth_args", []string{})
	v.SetDefault("client.unauthenticated_marker", DefaultUnauthenticatedMarker)

	v.SetDefault("timeouts.start", 90*time.Second)
	v.SetDefault("timeouts.stop", 30*time.Second)
	v.SetDefault("timeouts.daemon_stop", 20*time.Second)
	v.SetDefault("timeouts.monitor_stop", 10*time.Second)
	v.SetDefault("timeouts.output_drain", 500*time.Millisecond)
	v.SetDefault("timeouts.probe_interval", 200*time.Millisecond)
	v.SetDefault("timeouts.readiness", 60*time.Second)
	v.SetDefault("timeouts.poll", 500*time.Millisecond)
	v.SetDefault("timeouts.command", 30*time.Second)
	v.SetDefault("timeouts.launchd_step", 6*time.Second)
	v.SetDefault("timeouts.client", 10*time.Second)

	v.SetDefault("exit_policy.restart_code", ExitCodeSettingsChanged)
	v.SetDefault("exit_policy.session_fatal_codes", []int{ExitCodeSessionFatal})

	v.SetDefault("default_patterns", true)
	v.SetDefault("patterns", []PatternSpec{})
}

// NewViper returns a viper instance carrying the defaults and environment
// bindings. path, when set, names a YAML, TOML or JSON file to read.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return v, nil
}

// LoadConfig reads path (optional) and the environment into a Config
func LoadConfig(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return ConfigFromViper(v)
}

// ConfigFromViper decodes and validates v
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration that can be checked
// without touching the host
func (c *Config) Validate() error {
	if _, err := c.ResolveVariant(); err != nil {
		return err
	}
	if _, err := c.ErrorPatterns(); err != nil {
		return err
	}
	if c.Timeouts.Readiness <= 0 || c.Timeouts.ProbeInterval <= 0 {
		return fmt.Errorf("timeouts.readiness and timeouts.probe_interval must be positive")
	}
	return nil
}

// ResolveVariant returns the configured variant, detecting it for "auto"
func (c *Config) ResolveVariant() (Variant, error) {
	if c.Variant == "" || strings.EqualFold(c.Variant, "auto") {
		return DetectVariant(), nil
	}
	return ParseVariant(c.Variant)
}

// Policy returns the configured ExitPolicy
func (c *Config) Policy() ExitPolicy {
	return ExitPolicy{
		RestartCode:       c.ExitPolicy.RestartCode,
		SessionFatalCodes: append([]int(nil), c.ExitPolicy.SessionFatalCodes...),
	}
}

// ErrorPatterns compiles the configured patterns, after the defaults when
// they are enabled
func (c *Config) ErrorPatterns() (PatternTable, error) {
	var table PatternTable
	if c.DefaultPatterns {
		table = append(table, DefaultPatterns()...)
	}
	extra, err := CompilePatterns(c.Patterns)
	if err != nil {
		return nil, err
	}
	return append(table, extra...), nil
}

// NewController builds the configured controller. A standalone daemon
// without a data directory gets a fresh one from NewDataDir.
func (c *Config) NewController(ctx context.Context) (Controller, error) {
	variant, err := c.ResolveVariant()
	if err != nil {
		return nil, err
	}

	if variant == VariantStandalone && c.Daemon.DataDir == "" {
		dir, err := NewDataDir("")
		if err != nil {
			return nil, err
		}
		c.Daemon.DataDir = dir
	}
	return NewController(ctx, variant, c)
}

// NewClient builds the CLI client
func (c *Config) NewClient() (*CLIClient, error) {
	client, err := NewCLIClient(c.Client.Path)
	if err != nil {
		return nil, err
	}
	client.Env = append([]string(nil), c.Client.Env...)
	// A standalone client must find the same storage root as the daemon
	if variant, _ := c.ResolveVariant(); variant == VariantStandalone && c.Daemon.DataDir != "" {
		client.Env = append(client.Env, c.Daemon.StorageEnv+"="+c.Daemon.DataDir)
	}
	if len(c.Client.QueryArgs) > 0 {
		client.QueryArgs = c.Client.QueryArgs
	}
	if len(c.Client.VersionArgs) > 0 {
		client.VersionArgs = c.Client.VersionArgs
	}
	client.AuthArgs = c.Client.AuthArgs
	if c.Timeouts.Client > 0 {
		client.CommandTimeout = c.Timeouts.Client
	}
	if len(client.AuthArgs) > 0 {
		tool, err := FindPrivilegeTool()
		if err != nil {
			return nil, err
		}
		client.Privilege = tool
	}
	return client, nil
}

// ProbeOptions returns the readiness probe settings
func (c *Config) ProbeOptions(logger *zap.Logger) []ProbeOption {
	return []ProbeOption{
		WithProbeInterval(c.Timeouts.ProbeInterval),
		WithProbeTimeout(c.Timeouts.Readiness),
		WithUnauthenticatedMarker(c.Client.UnauthenticatedMarker),
		WithProbeLogger(logger),
	}
}

// GovernorOptions returns options wiring client, probe, policy, patterns and
// timeouts into a Governor. output receives daemon lines when non-nil.
func (c *Config) GovernorOptions(logger *zap.Logger, client Client, output io.Writer) ([]GovernorOption, error) {
	patterns, err := c.ErrorPatterns()
	if err != nil {
		return nil, err
	}
	opts := []GovernorOption{
		WithLogger(logger),
		WithExitPolicy(c.Policy()),
		WithErrorPatterns(patterns),
		WithStopTimeout(c.Timeouts.Stop),
		WithMonitorStopTimeout(c.Timeouts.MonitorStop),
		WithOutputDrainTimeout(c.Timeouts.OutputDrain),
	}
	if client != nil {
		opts = append(opts,
			WithClient(client),
			WithProber(NewProbe(client, c.ProbeOptions(logger)...)),
		)
	}
	if output != nil {
		opts = append(opts, WithDaemonOutput(output))
	}
	return opts, nil
}

// NewDataDir creates a uniquely named private data root under base, or under
// the system temporary directory when base is empty
func NewDataDir(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "daemonctl-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &OpError{Op: "mkdir", Target: dir, Err: err}
	}
	return dir, nil
}
