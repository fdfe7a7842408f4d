package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nmslite/engine/internal/config"
)

const defaultCommandTimeout = 30 * time.Second

// CommandBackend runs command lines over SSH, or on the engine host when
// the target is local or the source asks for local execution.
type CommandBackend struct{}

func NewCommandBackend() *CommandBackend {
	return &CommandBackend{}
}

func (b *CommandBackend) Execute(ctx context.Context, target Target, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if target.Local || req.ExecuteLocally {
		out, err := runLocal(ctx, req.CommandLine)
		if err != nil {
			return nil, newError(KindCommandLine, "exec", target.Hostname, err)
		}
		return &Result{Raw: out}, nil
	}

	if target.Config == nil || target.Config.Protocols.SSH == nil {
		return nil, fmt.Errorf("%w: ssh", ErrMissingConfiguration)
	}
	out, err := runSSH(ctx, target.Hostname, target.Config.Protocols.SSH, req.CommandLine)
	if err != nil {
		return nil, newError(KindCommandLine, "ssh", target.Hostname, err)
	}
	return &Result{Raw: out}, nil
}

func runLocal(ctx context.Context, commandLine string) (string, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", commandLine)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", commandLine)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w (%d): %s", ErrCommandFailed, exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return "", err
	}
	return stdout.String(), nil
}

func sshClientConfig(cfg *config.SSHConfig, timeout time.Duration) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}

	if cfg.PrivateKey != "" {
		var (
			key ssh.Signer
			err error
		)
		if cfg.Passphrase != "" {
			key, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
		} else {
			key, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(key))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method provided (password or private_key required)")
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

func runSSH(ctx context.Context, hostname string, cfg *config.SSHConfig, commandLine string) (string, error) {
	clientConfig, err := sshClientConfig(cfg, config.Timeout(cfg.TimeoutMS, defaultCommandTimeout))
	if err != nil {
		return "", err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	client, err := ssh.Dial("tcp", net.JoinHostPort(hostname, strconv.Itoa(port)), clientConfig)
	if err != nil {
		return "", fmt.Errorf("SSH handshake failed: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	type output struct {
		out []byte
		err error
	}
	done := make(chan output, 1)
	go func() {
		out, err := session.Output(commandLine)
		done <- output{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		// Closing the client unblocks the pending Output call.
		client.Close()
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(res.err, &exitErr) {
				return "", fmt.Errorf("%w (%d)", ErrCommandFailed, exitErr.ExitStatus())
			}
			return "", res.err
		}
		return string(res.out), nil
	}
}
