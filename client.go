package daemonctl

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// CommandResult is the outcome of one client invocation
type CommandResult struct {
	ExitCode int
	Output   string
}

// Client is the external command-line client the governor talks to the
// daemon through
type Client interface {
	// Bootstrap prepares client credentials once per session
	Bootstrap(ctx context.Context) error
	// Query issues a cheap request the daemon must answer when ready
	Query(ctx context.Context) (CommandResult, error)
	// Version prints "<component> <version>" for the client and the daemon
	Version(ctx context.Context) (CommandResult, error)
}

// CLIClient runs the client binary
type CLIClient struct {
	// Path is the client executable
	Path string
	// Env is appended to the caller's environment
	Env []string
	// QueryArgs is the readiness query
	QueryArgs []string
	// VersionArgs is the version query
	VersionArgs []string
	// AuthArgs, when set, is run once through Privilege after the
	// credentials exist, to authenticate the client with the daemon
	AuthArgs []string
	// Privilege wraps AuthArgs
	Privilege PrivilegeTool
	// CommandTimeout bounds each invocation
	CommandTimeout time.Duration
}

// NewCLIClient checks that the client binary exists
func NewCLIClient(path string) (*CLIClient, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, &PrerequisiteError{What: path, Hint: "client executable not found", Err: err}
	}
	return &CLIClient{
		Path:           resolved,
		QueryArgs:      []string{"find", "noble"},
		VersionArgs:    []string{"version"},
		CommandTimeout: 10 * time.Second,
	}, nil
}

func (c *CLIClient) run(ctx context.Context, priv PrivilegeTool, args []string) (CommandResult, error) {
	timeout := c.CommandTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var env []string
	if len(c.Env) > 0 {
		env = append(os.Environ(), c.Env...)
	}
	res, err := runCommand(ctx, env, priv.Wrap(append([]string{c.Path}, args...)...)...)
	return CommandResult{ExitCode: res.Code, Output: res.Output}, err
}

// Bootstrap runs the version query once, which makes the client create its
// certificates, then runs AuthArgs if configured. Any failure is
// session-fatal.
func (c *CLIClient) Bootstrap(ctx context.Context) error {
	if _, err := c.run(ctx, PrivilegeTool{}, c.VersionArgs); err != nil {
		return &SessionFatalError{Msg: "client bootstrap failed", Err: &OpError{Op: "bootstrap", Target: c.Path, Err: err}}
	}
	if len(c.AuthArgs) == 0 {
		return nil
	}

	res, err := c.run(ctx, c.Privilege, c.AuthArgs)
	if err == nil && res.ExitCode != 0 {
		err = &exitCodeError{code: res.ExitCode}
	}
	if err != nil {
		return &SessionFatalError{Msg: "client authentication failed", Err: &OpError{Op: "authenticate", Target: c.Path, Output: res.Output, Err: err}}
	}
	return nil
}

// Query implements Client
func (c *CLIClient) Query(ctx context.Context) (CommandResult, error) {
	return c.run(ctx, PrivilegeTool{}, c.QueryArgs)
}

// Version implements Client
func (c *CLIClient) Version(ctx context.Context) (CommandResult, error) {
	return c.run(ctx, PrivilegeTool{}, c.VersionArgs)
}
