package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/epitome-sim/reverie-core/internal/process"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultSimulationPort = 8000
)

// LauncherConfig configures how the simulation script is invoked.
type LauncherConfig struct {
	// Shell runs Script. Empty runs Script directly.
	Shell string
	// Script is the simulation entry point.
	Script string
	// WorkDir is the child's working directory. Empty inherits ours.
	WorkDir string
	// SimulationPort is passed as --port.
	SimulationPort int
	// StopGracePeriod bounds how long Shutdown waits between SIGTERM and SIGKILL.
	StopGracePeriod time.Duration
	// PublishTimeout bounds each relay publish.
	PublishTimeout time.Duration
}

// Telemetry receives one point per finished run.
type Telemetry interface {
	WriteRunMetric(target, origin, outcome string, fields map[string]any, ts time.Time)
}

// LauncherDeps are the collaborators of a Launcher. Registry and Relay are
// required; the rest are optional.
type LauncherDeps struct {
	Registry  *Registry
	Relay     Relay
	Logger    Logger
	Metrics   *Metrics
	History   History
	Telemetry Telemetry
}

// Launcher spawns simulation runs and relays their output.
type Launcher struct {
	cfg       LauncherConfig
	registry  *Registry
	relay     Relay
	logger    Logger
	metrics   *Metrics
	history   History
	telemetry Telemetry

	mu     sync.Mutex
	closed bool
	tasks  map[string]*Task
	wg     sync.WaitGroup
}

// NewLauncher creates a Launcher.
func NewLauncher(cfg LauncherConfig, deps LauncherDeps) (*Launcher, error) {
	if cfg.Script == "" {
		return nil, errors.New("experiment: launcher script is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("experiment: launcher registry is required")
	}
	if deps.Relay == nil {
		return nil, errors.New("experiment: launcher relay is required")
	}
	if cfg.SimulationPort == 0 {
		cfg.SimulationPort = defaultSimulationPort
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Launcher{
		cfg:       cfg,
		registry:  deps.Registry,
		relay:     deps.Relay,
		logger:    logger,
		metrics:   deps.Metrics,
		history:   deps.History,
		telemetry: deps.Telemetry,
		tasks:     make(map[string]*Task),
	}, nil
}

// Launch validates req, spawns the simulation and records its pid.
//
// When Launch returns the child is running and Status reports it; output
// pumping and the wait for exit continue in the background. Spawn failures
// are reported to subscribers of the run's group and through the returned
// Task, never as an error from Launch.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		l.metrics.launched("rejected")
		return nil, err
	}
	if _, err := os.Stat(l.cfg.Script); err != nil {
		l.metrics.launched("rejected")
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, l.cfg.Script)
	}

	task := &Task{
		RunID:         uuid.NewString(),
		Request:       req,
		WebSocketPath: WebSocketPath(req.Target),
		done:          make(chan struct{}),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrShuttingDown
	}
	l.tasks[task.RunID] = task
	l.wg.Add(1)
	l.mu.Unlock()

	l.logger.Info("launching experiment",
		"run_id", task.RunID,
		"origin", req.Origin,
		"target", req.Target,
		"steps", req.Steps,
	)

	// The run outlives the request that started it
	runCtx := context.WithoutCancel(ctx)
	group := GroupName(req.Target)

	summary := RunSummary{
		RunID:     task.RunID,
		Origin:    req.Origin,
		Target:    req.Target,
		Steps:     req.Steps,
		ExitCode:  -1,
		StartedAt: time.Now(),
	}
	if l.history != nil {
		if err := l.history.RecordStart(runCtx, summary); err != nil {
			l.logger.Warn("recording run start failed", "run_id", task.RunID, "error", err)
		}
	}

	mgr := l.newManager(req, group)
	task.setManager(mgr)

	if err := mgr.Start(runCtx); err != nil {
		l.logger.Error("spawning simulation failed", "target", req.Target, "error", err)
		l.publish(group, errorMessage(err))
		l.metrics.launched("spawn_failed")
		l.finish(task, summary, mgr, OutcomeSpawnFailed, fmt.Errorf("%w: %w", ErrSpawnFailure, err))
		l.forget(task)
		l.wg.Done()
		return task, nil
	}

	pid := mgr.PID()
	task.setPID(pid)
	summary.PID = pid
	l.metrics.launched("started")
	l.metrics.runStarted()

	if err := l.registry.Put(runCtx, req.Target, pid); err != nil {
		l.logger.Error("recording pid failed", "target", req.Target, "pid", pid, "error", err)
	}

	// A Shutdown that began after the closed check above may have missed
	// this child while its manager was unset.
	if l.isClosed() {
		go l.stopTask(task)
	}

	go l.run(task, summary, mgr)

	return task, nil
}

// command returns the binary and arguments for req.
func (l *Launcher) command(req LaunchRequest) (string, []string) {
	args := []string{
		"--origin", req.Origin,
		"--target", req.Target,
		"--steps", strconv.Itoa(req.Steps),
		"--ui", "false",
		"--port", strconv.Itoa(l.cfg.SimulationPort),
	}
	if l.cfg.Shell == "" {
		return l.cfg.Script, args
	}
	return l.cfg.Shell, append([]string{l.cfg.Script}, args...)
}

// newManager builds the process manager for req. Each stream is relayed
// line by line, in order, to group.
func (l *Launcher) newManager(req LaunchRequest, group string) *process.Manager {
	binary, args := l.command(req)
	mgr := process.NewManager(process.Config{
		Name:            req.Target,
		Binary:          binary,
		Args:            args,
		WorkDir:         l.cfg.WorkDir,
		GracefulTimeout: l.cfg.StopGracePeriod,
		OnLine: func(stream process.Stream, line string) {
			l.metrics.line(stream)
			if stream == process.StreamStderr {
				line = StderrPrefix + line
			}
			l.publish(group, line)
		},
	})
	mgr.SetLogger(l.logger)
	return mgr
}

// run waits for a spawned task to exit and reports how it ended.
func (l *Launcher) run(task *Task, summary RunSummary, mgr *process.Manager) {
	defer l.wg.Done()
	defer l.forget(task)

	ctx := context.Background()
	req := task.Request
	group := GroupName(req.Target)
	pid := summary.PID

	waitErr := mgr.Wait(ctx)

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		l.logger.Error("simulation output failed", "target", req.Target, "pid", pid, "error", waitErr)
		l.publish(group, errorMessage(waitErr))
		if _, err := l.registry.CompareAndDelete(ctx, req.Target, pid); err != nil {
			l.logger.Warn("clearing pid failed", "target", req.Target, "error", err)
		}
		l.finish(task, summary, mgr, OutcomeStreamFailed, fmt.Errorf("%w: %w", ErrStreamFailure, waitErr))
		l.metrics.runEnded(task.Summary())
		return
	}

	l.publish(group, EndedMessage)

	outcome := OutcomeCompleted
	if mgr.ExitCode() != 0 {
		outcome = OutcomeExited
	}
	l.finish(task, summary, mgr, outcome, nil)
	l.metrics.runEnded(task.Summary())
}

// publish relays one message, logging failures. Output keeps flowing to
// other subscribers when one transport fails.
func (l *Launcher) publish(group, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.PublishTimeout)
	defer cancel()

	if err := l.relay.Publish(ctx, group, message); err != nil {
		l.logger.Warn("relaying output failed", "group", group, "error", err)
	}
}

// finish completes the summary, records it and releases waiters.
func (l *Launcher) finish(task *Task, summary RunSummary, mgr *process.Manager, outcome Outcome, err error) {
	stats := mgr.Stats()

	summary.Outcome = outcome
	summary.ExitCode = stats.ExitCode
	summary.StdoutLines = stats.StdoutLines
	summary.StderrLines = stats.StderrLines
	summary.EndedAt = time.Now()
	summary.Duration = summary.EndedAt.Sub(summary.StartedAt)
	if err != nil {
		summary.Error = err.Error()
	}

	ctx := context.Background()
	if l.history != nil {
		if herr := l.history.RecordEnd(ctx, summary); herr != nil {
			l.logger.Warn("recording run end failed", "run_id", summary.RunID, "error", herr)
		}
	}
	if l.telemetry != nil {
		l.telemetry.WriteRunMetric(summary.Target, summary.Origin, string(summary.Outcome),
			map[string]any{
				"stdout_lines": summary.StdoutLines,
				"stderr_lines": summary.StderrLines,
				"exit_code":    summary.ExitCode,
				"duration_ms":  summary.Duration.Milliseconds(),
			},
			summary.EndedAt,
		)
	}

	l.logger.Info("experiment ended",
		"run_id", summary.RunID,
		"target", summary.Target,
		"outcome", summary.Outcome,
		"exit_code", summary.ExitCode,
		"duration", summary.Duration,
	)

	task.complete(summary, err)
}

func (l *Launcher) forget(task *Task) {
	l.mu.Lock()
	delete(l.tasks, task.RunID)
	l.mu.Unlock()
}

// Running returns the tasks still in flight in this instance.
func (l *Launcher) Running() []*Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	tasks := make([]*Task, 0, len(l.tasks))
	for _, t := range l.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// Shutdown stops accepting runs, terminates running children and waits
// for their tasks to finish or ctx to end.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	tasks := make([]*Task, 0, len(l.tasks))
	for _, t := range l.tasks {
		tasks = append(tasks, t)
	}
	l.mu.Unlock()

	for _, t := range tasks {
		go l.stopTask(t)
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopTask terminates t's child. Tasks still spawning are stopped by
// Launch once their pid is known.
func (l *Launcher) stopTask(t *Task) {
	mgr := t.manager()
	if mgr == nil {
		return
	}
	if err := mgr.Stop(); err != nil && !errors.Is(err, process.ErrNotStarted) {
		l.logger.Warn("stopping simulation failed", "target", t.Request.Target, "error", err)
	}
}

func (l *Launcher) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Task is the handle of one launched run.
type Task struct {
	RunID         string
	Request       LaunchRequest
	WebSocketPath string

	mu      sync.RWMutex
	mgr     *process.Manager
	pid     int
	err     error
	summary RunSummary
	done    chan struct{}
}

func (t *Task) setManager(mgr *process.Manager) {
	t.mu.Lock()
	t.mgr = mgr
	t.mu.Unlock()
}

func (t *Task) manager() *process.Manager {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mgr
}

func (t *Task) setPID(pid int) {
	t.mu.Lock()
	t.pid = pid
	t.mu.Unlock()
}

func (t *Task) complete(summary RunSummary, err error) {
	t.mu.Lock()
	t.summary = summary
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// Done is closed when the run has ended and its final message was relayed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the run ends or ctx is done. It returns the run's
// failure, if any. A non-zero exit is not a failure.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run's failure once Done is closed.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// PID returns the child's pid, or 0 after a spawn failure.
func (t *Task) PID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pid
}

// Summary returns the run summary. It is complete once Done is closed.
func (t *Task) Summary() RunSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.summary
}
