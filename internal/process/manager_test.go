package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

// lineRecorder collects OnLine callbacks per stream.
type lineRecorder struct {
	mu    sync.Mutex
	lines map[Stream][]string
}

func newLineRecorder() *lineRecorder {
	return &lineRecorder{lines: make(map[Stream][]string)}
}

func (r *lineRecorder) record(stream Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[stream] = append(r.lines[stream], line)
}

func (r *lineRecorder) get(stream Stream) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines[stream]...)
}

func shell(t *testing.T, script string, rec *lineRecorder) *Manager {
	t.Helper()
	cfg := DefaultConfig("test", "/bin/sh", []string{"-c", script})
	if rec != nil {
		cfg.OnLine = rec.record
	}
	return NewManager(cfg)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{
		Name:   "test-proc",
		Binary: "/usr/bin/test",
		Args:   []string{"--flag"},
	})

	if m.config.Name != "test-proc" {
		t.Errorf("Name = %q, want %q", m.config.Name, "test-proc")
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v, want %v", m.config.GracefulTimeout, 10*time.Second)
	}
	if m.Status() != StatusPending {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusPending)
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d, want 0", m.PID())
	}
	if m.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d, want -1", m.ExitCode())
	}
}

func TestManager_WaitBeforeStart(t *testing.T) {
	m := shell(t, "true", nil)

	if err := m.Wait(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Wait() error = %v, want ErrNotStarted", err)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() error = %v, want ErrNotStarted", err)
	}
}

func TestManager_PumpsBothStreams(t *testing.T) {
	rec := newLineRecorder()
	m := shell(t, `echo one; echo two; echo oops >&2; printf 'no-newline'`, rec)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.PID() == 0 {
		t.Error("PID() = 0 after Start")
	}
	if err := m.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	stdout := rec.get(StreamStdout)
	want := []string{"one", "two", "no-newline"}
	if strings.Join(stdout, "|") != strings.Join(want, "|") {
		t.Errorf("stdout = %v, want %v", stdout, want)
	}
	stderr := rec.get(StreamStderr)
	if len(stderr) != 1 || stderr[0] != "oops" {
		t.Errorf("stderr = %v, want [oops]", stderr)
	}

	stats := m.Stats()
	if stats.Status != StatusExited {
		t.Errorf("Status = %q, want %q", stats.Status, StatusExited)
	}
	if stats.StdoutLines != 3 || stats.StderrLines != 1 {
		t.Errorf("lines = %d/%d, want 3/1", stats.StdoutLines, stats.StderrLines)
	}
	if stats.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", stats.ExitCode)
	}
}

func TestManager_PreservesEmptyLinesAndCR(t *testing.T) {
	rec := newLineRecorder()
	m := shell(t, `printf 'a\r\n\nb\n'`, rec)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	got := rec.get(StreamStdout)
	want := []string{"a", "", "b"}
	if len(got) != len(want) {
		t.Fatalf("stdout = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestManager_NonZeroExit(t *testing.T) {
	m := shell(t, "exit 3", nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := m.Wait(waitCtx(t))
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Wait() error = %v, want *exec.ExitError", err)
	}
	if m.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", m.ExitCode())
	}
	if m.Status() != StatusExited {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusExited)
	}
}

func TestManager_StartMissingBinary(t *testing.T) {
	m := NewManager(Config{Name: "missing", Binary: "/nonexistent/binary"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	// Done must be closed so Wait does not hang
	if err := m.Wait(waitCtx(t)); err == nil {
		t.Error("Wait() after failed Start should return the start error")
	}
}

func TestManager_StartTwice(t *testing.T) {
	m := shell(t, "sleep 0.1", nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	_ = m.Wait(waitCtx(t))
}

func TestManager_StartCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := shell(t, "true", nil)
	if err := m.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestManager_StopGraceful(t *testing.T) {
	m := shell(t, "sleep 30", nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start := time.Now()
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Stop() took too long for a process that honours SIGTERM")
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestManager_StopEscalatesToKill(t *testing.T) {
	cfg := DefaultConfig("stubborn", "/bin/sh", []string{"-c", `trap '' TERM; while :; do sleep 0.05; done`})
	cfg.GracefulTimeout = 200 * time.Millisecond
	m := NewManager(cfg)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Give the shell a moment to install its trap
	time.Sleep(100 * time.Millisecond)

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if Alive(m.PID()) {
		t.Error("process still alive after Stop")
	}
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(self) = false, want true")
	}
	if Alive(0) {
		t.Error("Alive(0) = true, want false")
	}
	if Alive(-1) {
		t.Error("Alive(-1) = true, want false")
	}

	m := shell(t, "true", nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pid := m.PID()
	if err := m.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if Alive(pid) {
		t.Errorf("Alive(%d) = true for a reaped process", pid)
	}
}

func TestTerminate_UnknownPID(t *testing.T) {
	if err := Terminate(0); err == nil {
		t.Error("Terminate(0) should fail")
	}
}
