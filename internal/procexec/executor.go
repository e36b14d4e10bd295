// SPDX-License-Identifier: MPL-2.0

package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/funcbox/funcbox/internal/console"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultWaitDelay bounds how long Wait keeps reading output after the child
// has exited or been cancelled.
const DefaultWaitDelay = 2 * time.Second

var (
	// ErrEmptyCommand is returned when no command is given.
	ErrEmptyCommand = errors.New("command is empty")
	// ErrStart is the sentinel error wrapped by StartError.
	ErrStart = errors.New("failed to start process")
	// ErrKilled is returned when the child was killed by its request's tracker.
	ErrKilled = errors.New("process killed")
)

type (
	// Options are the per-invocation settings.
	Options struct {
		// Stdin is fed to the child when non-nil.
		Stdin io.Reader
		// Dir is the working directory; empty means the host's.
		Dir string
		// Env entries are added on top of the allowlisted environment.
		Env map[string]string
	}

	// Result is the outcome of a child that ran to completion.
	Result struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exitCode"`
	}

	// Config holds the immutable settings of an Executor.
	Config struct {
		// Env is the allowlisted environment every child starts from.
		Env map[string]string
		// GracePeriod between SIGTERM and SIGKILL on cancellation. Zero kills
		// immediately.
		GracePeriod time.Duration
		// WaitDelay bounds output draining after exit (default DefaultWaitDelay).
		WaitDelay time.Duration
		// Sink receives output lines while the child runs (optional).
		Sink LineSink
		// Tracker registers every child (optional).
		Tracker *Tracker
		// Logger receives debug records (optional).
		Logger *log.Logger
	}

	// Executor spawns children for one request.
	Executor struct {
		cfg    Config
		logger *log.Logger
	}

	// StartError is returned when the child could not be started, for example
	// because the command was not found or is not executable.
	// It wraps ErrStart for errors.Is() compatibility.
	StartError struct {
		Command string
		Err     error
	}
)

// Error implements the error interface for StartError.
func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

// Unwrap returns both ErrStart and the underlying cause.
func (e *StartError) Unwrap() []error { return []error{ErrStart, e.Err} }

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Run starts command with args and waits for it to exit.
// When args is empty, command is split into words with shell quoting rules;
// only allowlisted variables take part in expansion.
func (e *Executor) Run(ctx context.Context, command string, args []string, opts Options) (*Result, error) {
	name, argv, err := e.resolveArgv(command, args)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("run %s: %w", name, context.Cause(ctx))
	}

	cmd := exec.CommandContext(ctx, name, argv...)
	setProcessGroup(cmd, e.cfg.GracePeriod)
	cmd.WaitDelay = e.cfg.WaitDelay
	cmd.Dir = opts.Dir
	cmd.Env = envSlice(e.cfg.Env, opts.Env)
	cmd.Stdin = opts.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	var writers []*lineWriter
	if e.cfg.Sink != nil {
		outLines := &lineWriter{stream: console.StreamStdout, sink: e.cfg.Sink}
		errLines := &lineWriter{stream: console.StreamStderr, sink: e.cfg.Sink}
		cmd.Stdout = io.MultiWriter(&stdout, outLines)
		cmd.Stderr = io.MultiWriter(&stderr, errLines)
		writers = append(writers, outLines, errLines)
	}

	e.logger.Debug("starting process", "command", quoteArgv(append([]string{name}, argv...)), "dir", opts.Dir)

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Command: name, Err: err}
	}

	if e.cfg.Tracker != nil {
		if err := e.cfg.Tracker.add(cmd); err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("run %s: %w", name, err)
		}
		defer e.cfg.Tracker.remove(cmd)
	}

	waitErr := cmd.Wait()
	for _, w := range writers {
		w.flush()
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if waitErr == nil {
		e.logger.Debug("process exited", "command", name, "exitCode", 0)
		return result, nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("process %s terminated: %w", name, context.Cause(ctx))
	}
	if e.cfg.Tracker != nil && e.cfg.Tracker.Closed() {
		return nil, fmt.Errorf("process %s: %w", name, ErrKilled)
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		e.logger.Debug("process exited", "command", name, "exitCode", result.ExitCode)
		return result, nil
	}

	return nil, fmt.Errorf("wait for %s: %w", name, waitErr)
}

// resolveArgv returns the program name and its arguments.
func (e *Executor) resolveArgv(command string, args []string) (string, []string, error) {
	if strings.TrimSpace(command) == "" {
		return "", nil, ErrEmptyCommand
	}
	if len(args) > 0 || !strings.ContainsAny(command, " \t\n") {
		return command, args, nil
	}

	fields, err := shell.Fields(command, e.lookupEnv)
	if err != nil {
		return "", nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(fields) == 0 {
		return "", nil, ErrEmptyCommand
	}
	return fields[0], fields[1:], nil
}

// lookupEnv resolves variables for command splitting from the allowlist only.
func (e *Executor) lookupEnv(name string) string {
	return e.cfg.Env[name]
}

// quoteArgv renders argv as a shell command line for logs.
func quoteArgv(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", a)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}
