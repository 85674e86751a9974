package daemonctl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// PrivilegeTool is the privilege-escalation prefix used for commands that
// need root or administrator rights. The zero value runs commands as is.
type PrivilegeTool struct {
	// Path is the resolved path of the tool (sudo, gsudo)
	Path string
	// Args are fixed arguments following Path
	Args []string
}

// FindPrivilegeTool locates sudo, or gsudo on Windows.
// A missing tool is a PrerequisiteError carrying an install hint.
func FindPrivilegeTool() (PrivilegeTool, error) {
	name, hint, args := "sudo", "install it with: apt install sudo", []string(nil)
	if runtime.GOOS == "windows" {
		name, hint, args = "gsudo", "install it with: winget install gsudo", []string{"--direct"}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return PrivilegeTool{}, &PrerequisiteError{What: name, Hint: hint, Err: fmt.Errorf("%w: %w", ErrNoPrivilegeTool, err)}
	}
	return PrivilegeTool{Path: path, Args: args}, nil
}

// Enabled reports whether commands are wrapped at all
func (p PrivilegeTool) Enabled() bool {
	return p.Path != ""
}

// Wrap prefixes argv with the tool
func (p PrivilegeTool) Wrap(argv ...string) []string {
	if !p.Enabled() {
		return argv
	}
	out := make([]string, 0, 1+len(p.Args)+len(argv))
	out = append(out, p.Path)
	out = append(out, p.Args...)
	return append(out, argv...)
}

// commandResult is the outcome of a finished external command
type commandResult struct {
	Code   int
	Output string
}

// runCommand runs argv to completion and returns its exit code and combined
// output. A non-zero exit is not an error; failing to run the command is.
func runCommand(ctx context.Context, env []string, argv ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = env
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := commandResult{Output: out.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.As(err, &exitErr):
		res.Code = exitErr.ExitCode()
		return res, nil
	default:
		return res, err
	}
}

// runChecked runs argv and turns a non-zero exit into an OpError
func runChecked(ctx context.Context, op, target string, argv ...string) (string, error) {
	res, err := runCommand(ctx, nil, argv...)
	if err != nil {
		return res.Output, &OpError{Op: op, Target: target, Output: res.Output, Err: err}
	}
	if res.Code != 0 {
		return res.Output, &OpError{Op: op, Target: target, Output: res.Output, Err: &exitCodeError{code: res.Code}}
	}
	return res.Output, nil
}

type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return "exit status " + strconv.Itoa(e.code)
}

// followCommand runs a long-lived command (journalctl -f, snap logs -f) and
// streams its stdout line by line. The process is killed when ctx is done;
// the channel is closed once the process has been reaped.
func followCommand(ctx context.Context, argv ...string) (<-chan string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		defer func() { _ = cmd.Wait() }()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimRight(scanner.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}
