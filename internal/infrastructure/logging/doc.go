// Package logging provides structured logging for reverie-core.
//
// It wraps log/slog so every component logs with the same handler,
// level filter and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	launcherLog := logger.With("component", "launcher")
//	launcherLog.Info("experiment started", "target", target, "pid", pid)
//
// Simulation output lines are relayed to clients, not logged at info:
// a long run prints thousands of them.
package logging
