package gateway

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// maxDetailBytes caps how much stderr is kept for a CommandError.
const maxDetailBytes = 512

// Default timeouts applied by New for zero values.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultGracefulTimeout = 2 * time.Second
)

// Config holds the settings for invoking the CLI.
type Config struct {
	// Binary is the path to the executable.
	Binary string

	// ExtraArgs are appended after the per-call arguments on every invocation.
	ExtraArgs []string

	// Timeout bounds a single invocation.
	Timeout time.Duration

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Logger defines the logging interface for the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Gateway executes CLI invocations. It holds no per-call state and is safe
// for concurrent use.
type Gateway struct {
	config Config
	logger Logger
}

// New creates a Gateway, applying defaults for zero timeouts.
func New(cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	cfg.ExtraArgs = append([]string(nil), cfg.ExtraArgs...)

	return &Gateway{
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
}

// Binary returns the configured executable path.
func (g *Gateway) Binary() string {
	return g.config.Binary
}

// Available checks that the configured binary can be resolved.
// It does not run it.
func (g *Gateway) Available() error {
	if _, err := exec.LookPath(g.config.Binary); err != nil {
		return &CommandError{Kind: KindNotFound, Err: err}
	}
	return nil
}

// Execute runs the CLI with args followed by the configured extra args and
// returns its stdout.
//
// The call blocks until the process exits. If ctx is cancelled or the
// timeout elapses first, the process group is terminated and the returned
// error has Kind KindCanceled or KindTimeout respectively.
func (g *Gateway) Execute(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	argv := make([]string, 0, len(args)+len(g.config.ExtraArgs))
	argv = append(argv, args...)
	argv = append(argv, g.config.ExtraArgs...)

	cmd := exec.Command(g.config.Binary, argv...) //nolint:gosec // Binary comes from operator config; args are validated by callers
	// Own process group so termination reaches anything the CLI spawns
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Bound the wait for pipes held open by escaped descendants
	cmd.WaitDelay = g.config.GracefulTimeout

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxDetailBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", g.startError(args, err)
	}

	pid := cmd.Process.Pid
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		duration := time.Since(start)
		if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
			// CLI exited cleanly but a descendant kept stdout open
			g.logger.Warn("cli left output pipes open after exit", "args", args, "pid", pid)
			err = nil
		}
		if err != nil {
			detail := strings.TrimSpace(stderr.String())
			g.logger.Debug("cli invocation failed",
				"args", args,
				"pid", pid,
				"duration", duration,
				"error", err,
			)
			return "", &CommandError{
				Kind:   KindNonZeroExit,
				Args:   args,
				Detail: detail,
				Err:    err,
			}
		}
		g.logger.Debug("cli invocation completed",
			"args", args,
			"pid", pid,
			"duration", duration,
		)
		return stdout.String(), nil

	case <-runCtx.Done():
		kind := KindTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = KindCanceled
		}
		g.terminate(pid, done, args)
		return "", &CommandError{
			Kind: kind,
			Args: args,
			Err:  runCtx.Err(),
		}
	}
}

func (g *Gateway) startError(args []string, err error) error {
	// Anything that prevents the binary from starting is reported as
	// NotFound; the CLI never ran.
	if !errors.Is(err, exec.ErrNotFound) && !errors.Is(err, fs.ErrNotExist) {
		g.logger.Warn("cli could not be started", "binary", g.config.Binary, "error", err)
	}
	return &CommandError{
		Kind: KindNotFound,
		Args: args,
		Err:  err,
	}
}

// terminate sends SIGTERM to the process group, escalating to SIGKILL after
// the graceful timeout. It returns once Wait has returned.
func (g *Gateway) terminate(pid int, done <-chan error, args []string) {
	// Negative PID signals the group created via Setpgid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		g.logger.Warn("failed to send SIGTERM to cli process group", "pid", pid, "error", err)
	}

	timer := time.NewTimer(g.config.GracefulTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
		g.logger.Warn("cli ignored SIGTERM, sending SIGKILL",
			"args", args,
			"pid", pid,
			"timeout", g.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		g.logger.Error("failed to kill cli process group", "pid", pid, "error", err)
	}
	<-done
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting full writes, so the child never sees EPIPE.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
