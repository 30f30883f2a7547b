package experiment

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// State is the derived lifecycle state of an experiment.
type State string

const (
	StateNotStarted State = "not started"
	StateRunning    State = "running"
	StateFinished   State = "finished"
)

// Record is a process record: the pid recorded for an experiment.
type Record struct {
	ID  string
	PID int
}

// LaunchRequest describes one simulation run.
type LaunchRequest struct {
	// Origin is the experiment the run forks from (--origin).
	Origin string
	// Target names the new run; it keys the registry and the broadcast group.
	Target string
	// Steps is the number of simulation steps (--steps).
	Steps int
}

// Validate checks the request the way the launch endpoint always has.
func (r LaunchRequest) Validate() error {
	if r.Origin == "" || r.Target == "" {
		return fmt.Errorf("%w: sim_code and target are required", ErrInvalidRequest)
	}
	if r.Origin == r.Target {
		return fmt.Errorf("%w: sim_code and target are the same", ErrInvalidRequest)
	}
	if r.Steps < 0 {
		return fmt.Errorf("%w: steps must be a non-negative integer", ErrInvalidRequest)
	}
	if err := ValidateID(r.Origin); err != nil {
		return err
	}
	return ValidateID(r.Target)
}

// ValidateID rejects identifiers that cannot safely name a directory,
// a cache key and a broker topic segment.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: sim_code is required", ErrInvalidRequest)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: invalid experiment id %q", ErrInvalidRequest, id)
	}
	if strings.ContainsAny(id, "/\\+#*>\x00") {
		return fmt.Errorf("%w: experiment id %q contains a reserved character", ErrInvalidRequest, id)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: experiment id %q contains whitespace", ErrInvalidRequest, id)
		}
	}
	return nil
}

// WebSocketPath returns the path clients subscribe to for a target's output.
func WebSocketPath(target string) string {
	return "ws/experiment/" + target + "/"
}

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeExited       Outcome = "exited" // non-zero exit or killed
	OutcomeSpawnFailed  Outcome = "spawn_failed"
	OutcomeStreamFailed Outcome = "stream_failed"
)

// RunSummary describes a finished run. It feeds the run history, telemetry
// and metrics.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	Origin      string        `json:"origin"`
	Target      string        `json:"target"`
	Steps       int           `json:"steps"`
	PID         int           `json:"pid,omitempty"`
	Outcome     Outcome       `json:"outcome"`
	ExitCode    int           `json:"exit_code"`
	StdoutLines int           `json:"stdout_lines"`
	StderrLines int           `json:"stderr_lines"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration"`
}

// Logger defines the logging interface used by this package.
// Compatible with logging.Logger and slog.Logger.
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
