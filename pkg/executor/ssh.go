package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/log"
)

// SSHConfig holds the parameters of a BMC management shell connection.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// SSH runs commands on a BMC's management shell (racadm, SMASH-CLP).
// Every call opens its own connection.
type SSH struct {
	config SSHConfig
	log    log.Logger
}

// NewSSH creates an SSH executor for the given BMC.
func NewSSH(cfg SSHConfig, logger log.Logger) *SSH {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SSH{
		config: cfg,
		log:    log.OrStd(logger).WithName("ssh").WithValues("host", cfg.Host),
	}
}

func (s *SSH) clientConfig() *ssh.ClientConfig {
	password := s.config.Password
	return &ssh.ClientConfig{
		User: s.config.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// Some BMC firmwares only offer keyboard-interactive.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.config.Timeout,
	}
}

func (s *SSH) dial(ctx context.Context) (*ssh.Client, error) {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	dialer := net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConnection, fmt.Sprintf("failed to connect to %s", addr))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, s.clientConfig())
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.ErrConnection, fmt.Sprintf("ssh handshake with %s failed", addr))
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Run executes command remotely and returns its standard output.
func (s *SSH) Run(ctx context.Context, command string) (string, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrConnection, "failed to open ssh session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	s.log.Debug("running remote command", "command", command)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return "", &ExecutionError{
					Argv:     []string{command},
					ExitCode: exitErr.ExitStatus(),
					Stderr:   stderr.String(),
					Err:      err,
				}
			}
			// BMC shells frequently close the channel without an exit status.
			if _, ok := err.(*ssh.ExitMissingError); !ok {
				return "", errors.Wrap(err, errors.ErrExecution, "remote command failed")
			}
		}
	}
	return stdout.String(), nil
}

// Shell opens an interactive shell on the BMC attached to the local terminal.
func (s *SSH) Shell(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrap(err, errors.ErrConnection, "failed to open ssh session")
	}
	defer session.Close()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	width, height := 80, 24
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return errors.Wrap(err, errors.ErrExecution, "failed to set terminal raw mode")
		}
		defer term.Restore(fd, state)
		if w, h, err := term.GetSize(fd); err == nil {
			width, height = w, h
		}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", height, width, modes); err != nil {
		return errors.Wrap(err, errors.ErrExecution, "failed to request pty")
	}
	if err := session.Shell(); err != nil {
		return errors.Wrap(err, errors.ErrExecution, "failed to start remote shell")
	}
	if err := session.Wait(); err != nil {
		if _, ok := err.(*ssh.ExitMissingError); ok {
			return nil
		}
		return errors.Wrap(err, errors.ErrExecution, "remote shell exited")
	}
	return nil
}
