package experiment

import "errors"

// Lifecycle errors. Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound means no process record exists for the experiment.
	ErrNotFound = errors.New("experiment: no running experiment found")

	// ErrNotRunning means a record exists but its process has exited.
	ErrNotRunning = errors.New("experiment: process is not running")

	// ErrSpawnFailure means the simulation script could not be started.
	ErrSpawnFailure = errors.New("experiment: spawn failed")

	// ErrStreamFailure means reading the script's output failed mid-run.
	ErrStreamFailure = errors.New("experiment: output stream failed")

	// ErrSignalFailure means the termination signal could not be delivered.
	ErrSignalFailure = errors.New("experiment: signal delivery failed")

	// ErrInvalidRequest means the launch or query arguments were rejected.
	ErrInvalidRequest = errors.New("experiment: invalid request")

	// ErrScriptNotFound means the configured simulation script does not exist.
	ErrScriptNotFound = errors.New("experiment: script not found")

	// ErrShuttingDown means the launcher no longer accepts new runs.
	ErrShuttingDown = errors.New("experiment: launcher shutting down")
)
