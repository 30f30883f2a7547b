package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a child process.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusFailed  Status = "failed"
)

// Stream identifies the output pipe a line was read from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// maxLineSize bounds a single output line. Simulation logs can carry whole
// JSON documents on one line, so the bufio default of 64KiB is too small.
const maxLineSize = 1024 * 1024

// ErrOutputStream is returned by Wait when reading stdout or stderr failed.
var ErrOutputStream = errors.New("reading process output")

// ErrNotStarted is returned when Wait or Stop is called before Start.
var ErrNotStarted = errors.New("process not started")

// Config holds configuration for a child process.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnLine receives every output line, without its line terminator.
	// Calls for one stream are sequential; the two streams run concurrently.
	OnLine func(stream Stream, line string)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:            name,
		Binary:          binary,
		Args:            args,
		GracefulTimeout: 10 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs a single child process to completion.
//
// Unlike a daemon supervisor it never restarts: Start spawns the process,
// two goroutines pump stdout and stderr line by line into Config.OnLine, and
// Wait returns once both streams hit EOF and the process has been reaped.
type Manager struct {
	config Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	startTime time.Time
	endTime   time.Time
	exitCode  int
	lastError error
	lines     map[Stream]int

	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config:   cfg,
		logger:   noopLogger{},
		status:   StatusPending,
		exitCode: -1,
		lines:    make(map[Stream]int, 2),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start spawns the child process and begins pumping its output.
//
// The child is not bound to ctx: it keeps running after the caller's
// context ends and is only ended by Stop or by exiting on its own.
func (m *Manager) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("process %s already started", m.config.Name)
	}
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from operator config

	// Own process group so Stop reaches the script's children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return m.fail(fmt.Errorf("creating stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return m.fail(fmt.Errorf("creating stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return m.fail(fmt.Errorf("starting %s: %w", m.config.Name, err))
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	go m.monitor(cmd, stdout, stderr)

	return nil
}

// fail records a start failure and closes done so Wait does not block.
func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.status = StatusFailed
	m.lastError = err
	m.endTime = time.Now()
	close(m.done)
	m.mu.Unlock()
	return err
}

// monitor drains both streams, then reaps the process.
// Pipes must be fully read before cmd.Wait, which closes them.
func (m *Manager) monitor(cmd *exec.Cmd, stdout, stderr io.Reader) {
	defer close(m.done)

	var (
		wg        sync.WaitGroup
		streamMu  sync.Mutex
		streamErr error
	)
	pump := func(stream Stream, r io.Reader) {
		defer wg.Done()
		if err := m.captureOutput(stream, r); err != nil {
			streamMu.Lock()
			if streamErr == nil {
				streamErr = fmt.Errorf("%w: %s: %w", ErrOutputStream, stream, err)
			}
			streamMu.Unlock()
		}
	}

	wg.Add(2)
	go pump(StreamStdout, stdout)
	go pump(StreamStderr, stderr)
	wg.Wait()

	waitErr := cmd.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.endTime = time.Now()
	if cmd.ProcessState != nil {
		m.exitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case streamErr != nil:
		m.status = StatusFailed
		m.lastError = streamErr
	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			m.status = StatusFailed
		} else {
			m.status = StatusExited
		}
		m.lastError = waitErr
	default:
		m.status = StatusExited
	}

	m.logger.Info("process exited",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
		"exit_code", m.exitCode,
		"duration", m.endTime.Sub(m.startTime),
	)
}

// captureOutput reads r line by line and hands each line to OnLine.
// On a read error the rest of the stream is discarded so the child
// never blocks on a full pipe.
func (m *Manager) captureOutput(stream Stream, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		m.mu.Lock()
		m.lines[stream]++
		m.mu.Unlock()

		if m.config.OnLine != nil {
			m.config.OnLine(stream, line)
		}
	}

	if err := scanner.Err(); err != nil {
		m.logger.Warn("output stream failed",
			"name", m.config.Name,
			"stream", stream,
			"error", err,
		)
		io.Copy(io.Discard, r) //nolint:errcheck // best-effort drain
		return err
	}
	return nil
}

// Done returns a channel closed when the process has been reaped
// (or failed to start).
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Wait blocks until the process exits or ctx ends.
//
// It returns nil for a clean exit, an *exec.ExitError for a non-zero exit,
// and an error wrapping ErrOutputStream if reading output failed.
func (m *Manager) Wait(ctx context.Context) error {
	done := m.Done()
	if done == nil {
		return ErrNotStarted
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.LastError()
}

// Stop sends SIGTERM to the process group, then SIGKILL once
// GracefulTimeout has passed without the process exiting.
func (m *Manager) Stop() error {
	m.mu.RLock()
	cmd := m.cmd
	done := m.done
	status := m.status
	m.mu.RUnlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return ErrNotStarted
	}
	if status != StatusRunning {
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := Terminate(pid); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		m.logger.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
	}

	if err := Kill(pid); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}

	<-done
	m.logger.Info("process killed", "name", m.config.Name)

	return nil
}

// Status returns the current status of the process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error the process ended with, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// ExitCode returns the exit code, or -1 while running or if killed by a signal.
func (m *Manager) ExitCode() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exitCode
}

// PID returns the process ID, or 0 if not started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats describes a child process.
type Stats struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	PID         int           `json:"pid,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration,omitempty"`
	StdoutLines int           `json:"stdout_lines"`
	StderrLines int           `json:"stderr_lines"`
	LastError   string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:        m.config.Name,
		Status:      m.status,
		ExitCode:    m.exitCode,
		StdoutLines: m.lines[StreamStdout],
		StderrLines: m.lines[StreamStderr],
	}

	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}

	switch {
	case !m.endTime.IsZero() && !m.startTime.IsZero():
		stats.Duration = m.endTime.Sub(m.startTime)
	case m.status == StatusRunning:
		stats.Duration = time.Since(m.startTime)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
