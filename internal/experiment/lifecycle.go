package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"
)

// Signaller probes and signals processes by pid.
type Signaller interface {
	Alive(pid int) bool
	Terminate(pid int) error
	Kill(pid int) error
}

// Lifecycle answers status queries and stops runs by pid.
//
// It works from registry records only, so it can stop runs launched by
// another instance sharing the same registry backend.
type Lifecycle struct {
	registry    *Registry
	signals     Signaller
	gracePeriod time.Duration
	logger      Logger
	metrics     *Metrics

	mu        sync.Mutex
	closing   chan struct{}
	closed    bool
	watchdogs sync.WaitGroup
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithGracePeriod sets how long a stopped process may take to exit before
// it is sent SIGKILL. Zero disables escalation.
func WithGracePeriod(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) { l.gracePeriod = d }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) LifecycleOption {
	return func(l *Lifecycle) { l.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = m }
}

// NewLifecycle creates a Lifecycle over registry.
func NewLifecycle(registry *Registry, signals Signaller, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		registry: registry,
		signals:  signals,
		logger:   noopLogger{},
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Status reports the state of id. It never changes the registry: a record
// whose process has exited reads as finished until it expires or is
// cleared by Stop.
func (l *Lifecycle) Status(ctx context.Context, id string) (State, error) {
	rec, ok, err := l.registry.Get(ctx, id)
	if err != nil {
		return "", err
	}

	state := StateNotStarted
	switch {
	case !ok:
	case l.signals.Alive(rec.PID):
		state = StateRunning
	default:
		state = StateFinished
	}

	l.metrics.queried(state)
	return state, nil
}

// Stop terminates the run recorded for id.
//
// It returns ErrNotFound when there is no record and ErrNotRunning when
// the recorded process has already exited; in that case the stale record
// is cleared. On success the record is removed. Records are only removed
// if they still name the pid that was signalled, so a concurrent relaunch
// keeps its record.
func (l *Lifecycle) Stop(ctx context.Context, id string) error {
	rec, ok, err := l.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		l.metrics.stopped("not_found")
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if !l.signals.Alive(rec.PID) {
		l.clear(ctx, rec)
		l.metrics.stopped("not_running")
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	if err := l.signals.Terminate(rec.PID); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			// Exited between probe and signal
			l.clear(ctx, rec)
			l.metrics.stopped("not_running")
			return fmt.Errorf("%w: %s", ErrNotRunning, id)
		}
		l.metrics.stopped("signal_failed")
		return fmt.Errorf("%w: pid %d: %w", ErrSignalFailure, rec.PID, err)
	}

	l.logger.Info("experiment stopped", "id", id, "pid", rec.PID)
	l.clear(ctx, rec)
	l.metrics.stopped("stopped")

	if l.gracePeriod > 0 {
		l.escalate(rec)
	}
	return nil
}

func (l *Lifecycle) clear(ctx context.Context, rec Record) {
	if _, err := l.registry.CompareAndDelete(ctx, rec.ID, rec.PID); err != nil {
		l.logger.Warn("clearing pid failed", "id", rec.ID, "pid", rec.PID, "error", err)
	}
}

// escalate sends SIGKILL to rec's process if it outlives the grace period.
func (l *Lifecycle) escalate(rec Record) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.watchdogs.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.watchdogs.Done()

		timer := time.NewTimer(l.gracePeriod)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-l.closing:
			return
		}

		if !l.signals.Alive(rec.PID) {
			return
		}
		l.logger.Warn("experiment ignored SIGTERM, sending SIGKILL",
			"id", rec.ID,
			"pid", rec.PID,
			"grace_period", l.gracePeriod,
		)
		if err := l.signals.Kill(rec.PID); err != nil && !errors.Is(err, syscall.ESRCH) {
			l.logger.Error("SIGKILL failed", "id", rec.ID, "pid", rec.PID, "error", err)
		}
	}()
}

// Close cancels pending SIGKILL escalations and waits for them to return.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.closing)
	}
	l.mu.Unlock()

	l.watchdogs.Wait()
}
