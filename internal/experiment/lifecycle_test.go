package experiment

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/epitome-sim/reverie-core/internal/process"
)

// fakeSignaller simulates processes by pid.
type fakeSignaller struct {
	mu           sync.Mutex
	alive        map[int]bool
	terminateErr error
	onTerminate  func(pid int)
	terminated   []int
	killed       []int
}

func newFakeSignaller(alive ...int) *fakeSignaller {
	s := &fakeSignaller{alive: make(map[int]bool)}
	for _, pid := range alive {
		s.alive[pid] = true
	}
	return s
}

func (s *fakeSignaller) Alive(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive[pid]
}

func (s *fakeSignaller) Terminate(pid int) error {
	s.mu.Lock()
	s.terminated = append(s.terminated, pid)
	err := s.terminateErr
	hook := s.onTerminate
	s.mu.Unlock()

	if hook != nil {
		hook(pid)
	}
	return err
}

func (s *fakeSignaller) Kill(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = append(s.killed, pid)
	s.alive[pid] = false
	return nil
}

func (s *fakeSignaller) killCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.killed)
}

func TestLifecycle_Status(t *testing.T) {
	reg := newTestRegistry(t)
	signals := newFakeSignaller(100)
	metrics := NewMetrics("test", prometheus.NewRegistry())
	lc := NewLifecycle(reg, signals, WithMetrics(metrics))
	ctx := context.Background()

	state, err := lc.Status(ctx, "run_1")
	if err != nil || state != StateNotStarted {
		t.Errorf("Status(no record) = %q, %v; want %q", state, err, StateNotStarted)
	}

	if err := reg.Put(ctx, "run_1", 100); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if state, _ := lc.Status(ctx, "run_1"); state != StateRunning {
		t.Errorf("Status(alive) = %q, want %q", state, StateRunning)
	}

	signals.mu.Lock()
	signals.alive[100] = false
	signals.mu.Unlock()

	// Repeated queries leave the record in place
	for i := 0; i < 3; i++ {
		if state, _ := lc.Status(ctx, "run_1"); state != StateFinished {
			t.Errorf("Status(dead) #%d = %q, want %q", i, state, StateFinished)
		}
	}
	if _, ok, _ := reg.Get(ctx, "run_1"); !ok {
		t.Error("Status removed the record")
	}

	if got := testutil.ToFloat64(metrics.statusQueries.WithLabelValues(string(StateFinished))); got != 3 {
		t.Errorf("status_queries{finished} = %v, want 3", got)
	}
}

func TestLifecycle_Stop(t *testing.T) {
	tests := []struct {
		name         string
		record       bool
		alive        bool
		terminateErr error
		wantErr      error
		wantRecord   bool
		wantSignal   bool
	}{
		{name: "no record", wantErr: ErrNotFound},
		{name: "process already exited", record: true, wantErr: ErrNotRunning, wantRecord: false},
		{name: "running", record: true, alive: true, wantRecord: false, wantSignal: true},
		{name: "exits before signal", record: true, alive: true, terminateErr: syscall.ESRCH,
			wantErr: ErrNotRunning, wantRecord: false, wantSignal: true},
		{name: "signal refused", record: true, alive: true, terminateErr: syscall.EPERM,
			wantErr: ErrSignalFailure, wantRecord: true, wantSignal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			signals := newFakeSignaller()
			signals.alive[200] = tt.alive
			signals.terminateErr = tt.terminateErr
			lc := NewLifecycle(reg, signals)
			defer lc.Close()
			ctx := context.Background()

			if tt.record {
				if err := reg.Put(ctx, "run_1", 200); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
			}

			err := lc.Stop(ctx, "run_1")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Stop() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Stop() error = %v, want %v", err, tt.wantErr)
			}

			if _, ok, _ := reg.Get(ctx, "run_1"); ok != tt.wantRecord {
				t.Errorf("record present = %v, want %v", ok, tt.wantRecord)
			}
			if signalled := len(signals.terminated) > 0; signalled != tt.wantSignal {
				t.Errorf("SIGTERM sent = %v, want %v", signalled, tt.wantSignal)
			}
		})
	}
}

func TestLifecycle_StopKeepsNewerRecord(t *testing.T) {
	reg := newTestRegistry(t)
	signals := newFakeSignaller(300)
	lc := NewLifecycle(reg, signals)
	defer lc.Close()
	ctx := context.Background()

	if err := reg.Put(ctx, "run_1", 300); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	// A relaunch records its pid while the old run is being stopped
	signals.onTerminate = func(int) {
		if err := reg.Put(ctx, "run_1", 301); err != nil {
			t.Errorf("Put() error = %v", err)
		}
	}

	if err := lc.Stop(ctx, "run_1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	rec, ok, _ := reg.Get(ctx, "run_1")
	if !ok || rec.PID != 301 {
		t.Errorf("record = %+v (ok %v), want the relaunch pid 301", rec, ok)
	}
}

func TestLifecycle_StopEscalatesToKill(t *testing.T) {
	reg := newTestRegistry(t)
	signals := newFakeSignaller(400)
	lc := NewLifecycle(reg, signals, WithGracePeriod(20*time.Millisecond))
	defer lc.Close()
	ctx := context.Background()

	if err := reg.Put(ctx, "run_1", 400); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := lc.Stop(ctx, "run_1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for signals.killCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if signals.killCount() != 1 {
		t.Errorf("SIGKILL count = %d, want 1", signals.killCount())
	}
}

func TestLifecycle_NoEscalationWhenProcessExits(t *testing.T) {
	reg := newTestRegistry(t)
	signals := newFakeSignaller(500)
	signals.onTerminate = func(pid int) {
		signals.mu.Lock()
		signals.alive[pid] = false
		signals.mu.Unlock()
	}
	lc := NewLifecycle(reg, signals, WithGracePeriod(10*time.Millisecond))
	ctx := context.Background()

	if err := reg.Put(ctx, "run_1", 500); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := lc.Stop(ctx, "run_1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	lc.Close()
	if signals.killCount() != 0 {
		t.Errorf("SIGKILL count = %d, want 0", signals.killCount())
	}
}

func TestLifecycle_CloseCancelsEscalation(t *testing.T) {
	reg := newTestRegistry(t)
	signals := newFakeSignaller(600)
	lc := NewLifecycle(reg, signals, WithGracePeriod(time.Hour))
	ctx := context.Background()

	if err := reg.Put(ctx, "run_1", 600); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := lc.Stop(ctx, "run_1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		lc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}
	if signals.killCount() != 0 {
		t.Errorf("SIGKILL count = %d, want 0", signals.killCount())
	}

	// Close is idempotent
	lc.Close()
}

func TestLifecycle_RealProcess(t *testing.T) {
	f := newLauncherFixture(t, writeScript(t, "echo up; sleep 30"), nil)
	lc := NewLifecycle(f.registry, process.OS{}, WithGracePeriod(time.Second))
	defer lc.Close()
	ctx := context.Background()

	task, err := f.launcher.Launch(ctx, LaunchRequest{Origin: "base", Target: "run_live"})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	// The pid is recorded before Launch returns
	state, err := lc.Status(ctx, "run_live")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state != StateRunning {
		t.Fatalf("Status() right after Launch = %q, want %q", state, StateRunning)
	}
	if task.PID() == 0 {
		t.Error("PID() = 0 after Launch returned")
	}

	if err := lc.Stop(ctx, "run_live"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := waitTask(t, task); err != nil {
		t.Fatalf("task error = %v", err)
	}

	if state, _ := lc.Status(ctx, "run_live"); state != StateNotStarted {
		t.Errorf("Status() after Stop = %q, want %q", state, StateNotStarted)
	}
	if err := lc.Stop(ctx, "run_live"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Stop() error = %v, want ErrNotFound", err)
	}

	msgs := f.relay.get("experiment_run_live")
	if len(msgs) == 0 || msgs[len(msgs)-1] != EndedMessage {
		t.Errorf("messages = %q, want to end with %q", msgs, EndedMessage)
	}
}

func TestLifecycle_SilentRunFinishes(t *testing.T) {
	f := newLauncherFixture(t, writeScript(t, "exit 0"), nil)
	lc := NewLifecycle(f.registry, process.OS{})
	defer lc.Close()
	ctx := context.Background()

	task, err := f.launcher.Launch(ctx, LaunchRequest{Origin: "exp1", Target: "exp1_run", Steps: 5})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if err := waitTask(t, task); err != nil {
		t.Fatalf("task error = %v", err)
	}

	msgs := f.relay.get("experiment_exp1_run")
	if len(msgs) != 1 || msgs[0] != EndedMessage {
		t.Errorf("messages = %q, want exactly [%q]", msgs, EndedMessage)
	}

	// Status never clears the record, so repeated queries agree
	for i := range 2 {
		state, err := lc.Status(ctx, "exp1_run")
		if err != nil {
			t.Fatalf("Status() #%d error = %v", i+1, err)
		}
		if state != StateFinished {
			t.Errorf("Status() #%d = %q, want %q", i+1, state, StateFinished)
		}
	}
	if _, ok, _ := f.registry.Get(ctx, "exp1_run"); !ok {
		t.Error("record removed by Status")
	}
}
