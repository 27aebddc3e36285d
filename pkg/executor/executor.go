// Package executor runs external management tools (ipmitool, freeipmi, browsers, ssh)
// from argument vectors and runs commands on BMC management shells over SSH.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/log"
)

// Executor runs external commands. Arguments are always passed as a vector, never through a shell.
type Executor interface {
	// Run executes argv and returns its standard output once it exits successfully.
	Run(ctx context.Context, argv []string) (string, error)

	// Exec executes argv attached to the caller's terminal and waits for it.
	Exec(ctx context.Context, argv []string) error

	// Start launches argv detached and does not wait for it.
	Start(ctx context.Context, argv []string) error
}

// ExecutionError reports a command that exited with a non-zero status.
type ExecutionError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", Redact(e.Argv)[0], e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Unwrap exposes the coded error so errors.Is(err, ErrExecution) holds.
func (e *ExecutionError) Unwrap() error {
	return &errors.Error{Code: errors.ErrExecution, Message: "command failed", Cause: e.Err}
}

// Local executes commands on this host.
type Local struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    []string

	log log.Logger
}

var _ Executor = (*Local)(nil)

// NewLocal returns a Local executor wired to the process's standard streams.
func NewLocal(logger log.Logger) *Local {
	return &Local{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		log:    log.OrStd(logger).WithName("executor"),
	}
}

func (l *Local) command(ctx context.Context, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New(errors.ErrInvalidInput, "empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if l.Env != nil {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	return cmd, nil
}

// Run implements Executor.
func (l *Local) Run(ctx context.Context, argv []string) (string, error) {
	cmd, err := l.command(ctx, argv)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.log.Debug("running command", "argv", Redact(argv))
	if err := cmd.Run(); err != nil {
		return "", l.wrap(argv, err, stderr.String())
	}

	out := stdout.Bytes()
	if !utf8.Valid(out) {
		return "", errors.WithContext(
			errors.New(errors.ErrDecode, "command output is not valid UTF-8"),
			map[string]interface{}{"command": argv[0]},
		)
	}
	return string(out), nil
}

// Exec implements Executor.
func (l *Local) Exec(ctx context.Context, argv []string) error {
	cmd, err := l.command(ctx, argv)
	if err != nil {
		return err
	}
	cmd.Stdin = l.Stdin
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	l.log.Debug("executing interactive command", "argv", Redact(argv))
	if err := cmd.Run(); err != nil {
		return l.wrap(argv, err, "")
	}
	return nil
}

// Start implements Executor.
func (l *Local) Start(ctx context.Context, argv []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return errors.New(errors.ErrInvalidInput, "empty command")
	}
	// The child must outlive ctx.
	cmd := exec.Command(argv[0], argv[1:]...)
	l.log.Debug("starting detached command", "argv", Redact(argv))
	if err := cmd.Start(); err != nil {
		return l.wrap(argv, err, "")
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (l *Local) wrap(argv []string, err error, stderr string) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &ExecutionError{
			Argv:     argv,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr,
			Err:      err,
		}
	}
	return errors.WithContext(
		errors.Wrap(err, errors.ErrExecution, "failed to run command"),
		map[string]interface{}{"command": argv[0]},
	)
}

// secretFlags are flags whose following argument is a password.
var secretFlags = map[string]bool{
	"-P": true,
	"-p": true,
}

// Redact returns a copy of argv with password arguments masked, safe for logging.
func Redact(argv []string) []string {
	if len(argv) == 0 {
		return []string{""}
	}
	out := make([]string, len(argv))
	copy(out, argv)
	for i := 0; i < len(out)-1; i++ {
		if secretFlags[out[i]] {
			out[i+1] = "******"
			i++
			continue
		}
		// ipmitool user set password <id> <password>
		if out[i] == "password" && i > 0 && out[i-1] == "set" && i+2 < len(out) {
			out[i+2] = "******"
		}
	}
	return out
}
