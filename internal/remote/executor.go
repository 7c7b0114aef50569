package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/apperr"
	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
)

// Result is the pure outcome of one remote command. The worker loop
// persists it; the executor never writes to the database itself.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor owns one SSH session (and, lazily, one SFTP session over
// it) to a single remote host.
type Executor struct {
	cfg Config

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
}

func New(cfg Config) (*Executor, error) {
	if (cfg.Password == "") == (len(cfg.PrivateKey) == 0) {
		return nil, apperr.ErrSSHConfig
	}
	return &Executor{cfg: cfg}, nil
}

func (e *Executor) authMethod() (ssh.AuthMethod, error) {
	if len(e.cfg.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if e.cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(e.cfg.PrivateKey, []byte(e.cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(e.cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("remote: parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(e.cfg.Password), nil
}

// Connect is idempotent: calling it while already connected is a
// no-op.
func (e *Executor) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return nil
	}

	auth, err := e.authMethod()
	if err != nil {
		return err
	}

	clientCfg := &ssh.ClientConfig{
		User:            e.cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is a deployment concern, out of scope here
		Timeout:         e.cfg.readyTimeout(),
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.port())
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return fmt.Errorf("remote: dial %s: %w", addr, err)
	}

	e.client = client
	return nil
}

// Disconnect is idempotent: calling it while already disconnected is
// a no-op.
func (e *Executor) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.sftp != nil {
		err = e.sftp.Close()
		e.sftp = nil
	}
	if e.client != nil {
		if cErr := e.client.Close(); cErr != nil && err == nil {
			err = cErr
		}
		e.client = nil
	}
	return err
}

func (e *Executor) sshClient() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, apperr.ErrNotConnected
	}
	return e.client, nil
}

// TestConnection runs a trivial command and reports reachability.
func (e *Executor) TestConnection(ctx context.Context) error {
	client, err := e.sshClient()
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("remote: test connection: %w", err)
	}
	defer session.Close()

	if err := session.Run("echo ok"); err != nil {
		return fmt.Errorf("remote: test connection: %w", err)
	}
	return nil
}

// ServerInfo returns hostname and uptime strings for logging at
// worker start.
func (e *Executor) ServerInfo(ctx context.Context) (hostname, uptime string, err error) {
	client, err := e.sshClient()
	if err != nil {
		return "", "", err
	}

	hostname, err = e.runQuiet(client, "hostname")
	if err != nil {
		return "", "", fmt.Errorf("remote: hostname: %w", err)
	}
	uptime, err = e.runQuiet(client, "uptime")
	if err != nil {
		return "", "", fmt.Errorf("remote: uptime: %w", err)
	}
	return hostname, uptime, nil
}

func (e *Executor) runQuiet(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	out, err := session.Output(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// UploadFile SFTP-puts localPath to remotePath, lazily establishing
// the SFTP session over the existing SSH connection.
func (e *Executor) UploadFile(ctx context.Context, localPath, remotePath string) error {
	client, err := e.sshClient()
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.sftp == nil {
		sc, err := sftp.NewClient(client)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("remote: open sftp session: %w", err)
		}
		e.sftp = sc
	}
	sc := e.sftp
	e.mu.Unlock()

	return uploadViaOSAndSFTP(sc, localPath, remotePath)
}

func (e *Executor) buildInvocation(job *entity.Job) string {
	envKeys := make([]string, 0, len(e.cfg.Env))
	for k := range e.cfg.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)

	exports := buildEnvExports(e.cfg.Env, envKeys)

	workingDir := e.cfg.WorkingDir
	if workingDir == "" {
		workingDir = "/tmp"
	}
	if job.WorkingDir != nil && *job.WorkingDir != "" {
		workingDir = *job.WorkingDir
	}

	cmdLine := buildCommandLine(append([]string{job.Command}, job.Args...))

	return fmt.Sprintf("cd %s && %s%s", shellEscape(workingDir), exports, cmdLine)
}

// callbackWriter forwards every Write to a callback, chunk by chunk,
// while also buffering the full stream for the final captured output.
type callbackWriter struct {
	buf jobBuffer
	cb  func(string)
}

func (w *callbackWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.cb != nil && len(p) > 0 {
		w.cb(string(p))
	}
	return len(p), nil
}

type jobBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *jobBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

func (b *jobBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteJob shell-escapes [command, ...args], prefixes environment
// exports, cd's into the job's (or the executor's) working directory,
// and streams stdout/stderr to the callbacks while the command runs.
func (e *Executor) ExecuteJob(ctx context.Context, job *entity.Job, onStdout, onStderr func(string)) (*Result, error) {
	client, err := e.sshClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("remote: new session: %w", err)
	}
	defer session.Close()

	stdout := &callbackWriter{cb: onStdout}
	stderr := &callbackWriter{cb: onStderr}
	session.Stdout = stdout
	session.Stderr = stderr

	invocation := e.buildInvocation(job)

	start := time.Now()

	done := make(chan error, 1)
	go func() { done <- session.Run(invocation) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case runErr := <-done:
		result := &Result{
			Stdout:   stdout.buf.String(),
			Stderr:   stderr.buf.String(),
			Duration: time.Since(start),
		}
		if runErr == nil {
			result.ExitCode = 0
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("remote: run command: %w", runErr)
	}
}

// ExecuteJobWithTimeout bounds ExecuteJob by job.Timeout seconds (if
// set) using context cancellation. When the deadline fires it stops
// the local wait and returns ErrTimeout; ExecuteJob sends the remote
// session a best-effort SIGKILL but does not wait for or confirm the
// remote process's exit.
func (e *Executor) ExecuteJobWithTimeout(ctx context.Context, job *entity.Job, onStdout, onStderr func(string)) (*Result, error) {
	if job.Timeout == nil || *job.Timeout <= 0 {
		return e.ExecuteJob(ctx, job, onStdout, onStderr)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(*job.Timeout)*time.Second)
	defer cancel()

	result, err := e.ExecuteJob(timeoutCtx, job, onStdout, onStderr)
	if err != nil && timeoutCtx.Err() != nil {
		return nil, apperr.ErrTimeout
	}
	return result, err
}

// uploadViaOSAndSFTP is split out so UploadFile's session handling stays
// readable; it is the one place this package touches the local
// filesystem.
func uploadViaOSAndSFTP(sc *sftp.Client, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("remote: open local file: %w", err)
	}
	defer local.Close()

	remote, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("remote: create remote file: %w", err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return fmt.Errorf("remote: copy: %w", err)
	}
	return nil
}
