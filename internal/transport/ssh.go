package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
)

// DefaultConnectTimeout bounds the TCP and SSH handshake.
const DefaultConnectTimeout = 10 * time.Second

var (
	// errHostRequired is returned when no host is given.
	errHostRequired = errors.New("host must be provided")
	// errKeyRequired is returned when no private key is configured.
	errKeyRequired = errors.New("ssh key_file must be provided")
)

// SSHConfig describes how to reach one remote host.
type SSHConfig struct {
	// Host is "name" or "name:port".
	Host string
	// Port is used when Host carries no port.
	Port int
	// User is the login name.
	User string
	// KeyFile is the private key used for public key authentication.
	KeyFile string
	// KnownHosts verifies host keys. Host keys are not checked when it is empty.
	KnownHosts string
	// ConnectTimeout defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// SSH executes commands on a remote host over a single SSH connection.
// Every command runs in its own session.
type SSH struct {
	// client is the established connection.
	client *ssh.Client
	// address is host:port, used in errors.
	address string
	// mu protects client.
	mu sync.Mutex
}

// DialSSH connects to the host described by cfg.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSH, error) {
	if cfg.Host == "" {
		return nil, errHostRequired
	}

	if cfg.KeyFile == "" {
		return nil, errKeyRequired
	}

	key, err := os.ReadFile(filepath.Clean(cfg.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	callback, err := hostKeyCallback(ctx, cfg.KnownHosts)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	//nolint:exhaustruct // Defaults are fine for the remaining fields.
	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: callback,
		Timeout:         timeout,
	}

	address := hostAddress(cfg.Host, cfg.Port)

	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, transferError("dial "+address, err)
	}

	sshConn, channels, requests, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()

		return nil, transferError("ssh handshake with "+address, err)
	}

	return &SSH{
		client:  ssh.NewClient(sshConn, channels, requests),
		address: address,
	}, nil
}

// hostKeyCallback verifies host keys against known_hosts when one is configured.
func hostKeyCallback(ctx context.Context, knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		logger.Warn(ctx, "No known_hosts file configured, host keys are not verified")

		//nolint:gosec // Opt-in through configuration.
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	return callback, nil
}

// hostAddress appends the port unless host already carries one.
func hostAddress(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}

	if port <= 0 {
		port = 22
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Exists reports whether a file, directory or link exists at path.
func (s *SSH) Exists(ctx context.Context, path string) (bool, error) {
	command := Command("test", "-e", path) + " || " + Command("test", "-L", path)

	result, err := s.Run(ctx, command, release.Normal)
	if err != nil {
		return false, err
	}

	switch result.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, &release.CommandError{Command: command, Output: result.Output, ExitCode: result.ExitCode}
	}
}

// Upload streams localPath into remotePath through `cat`, or `sudo tee` when elevated.
func (s *SSH) Upload(ctx context.Context, localPath, remotePath string, privilege release.Privilege) error {
	file, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return transferError("open "+localPath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	command := "cat > " + Quote(remotePath)
	if privilege == release.Elevated {
		command = elevatePrefix + Command("tee", remotePath) + " > /dev/null"
	}

	session, err := s.session()
	if err != nil {
		return err
	}

	defer func() {
		_ = session.Close()
	}()

	session.Stdin = file

	output, err := s.wait(ctx, session, func() ([]byte, error) {
		return session.CombinedOutput(command)
	})

	result, err := s.result(command, output, err)
	if err != nil {
		return err
	}

	if !result.OK() {
		return &release.CommandError{Command: command, Output: result.Output, ExitCode: result.ExitCode}
	}

	return nil
}

// Run executes command in a new session.
func (s *SSH) Run(ctx context.Context, command string, privilege release.Privilege) (Result, error) {
	command = Elevate(command, privilege)

	session, err := s.session()
	if err != nil {
		return Result{}, err
	}

	defer func() {
		_ = session.Close()
	}()

	output, err := s.wait(ctx, session, func() ([]byte, error) {
		return session.CombinedOutput(command)
	})

	return s.result(command, output, err)
}

// Close closes the connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	err := s.client.Close()
	s.client = nil

	return err
}

// session opens a new session on the connection.
func (s *SSH) session() (*ssh.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, transferError("session on "+s.address, net.ErrClosed)
	}

	session, err := s.client.NewSession()
	if err != nil {
		return nil, transferError("session on "+s.address, err)
	}

	return session, nil
}

// wait runs fn and abandons the session when ctx is canceled first.
func (s *SSH) wait(ctx context.Context, session *ssh.Session, fn func() ([]byte, error)) ([]byte, error) {
	type outcome struct {
		output []byte
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		output, err := fn()
		done <- outcome{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()

		return nil, ctx.Err()
	case o := <-done:
		return o.output, o.err
	}
}

// result converts a session outcome into a Result.
func (s *SSH) result(command string, output []byte, err error) (Result, error) {
	if err == nil {
		return Result{Output: string(output), ExitCode: 0}, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return Result{Output: string(output), ExitCode: exitErr.ExitStatus()}, nil
	}

	return Result{Output: string(output), ExitCode: -1}, transferError(fmt.Sprintf("run %q on %s", command, s.address), err)
}
