// Package process runs one-shot child processes and signals them by pid.
//
// It is built for the simulation script launched per experiment: a child
// that runs once, streams its progress on stdout/stderr, and is stopped by
// signal rather than restarted.
//
// Features:
//   - Line-based pumping of stdout and stderr into a callback
//   - Process-group spawning so signals reach the script's children
//   - Stop with SIGTERM, escalating to SIGKILL after a grace period
//   - Zero-signal liveness probing for pids recorded elsewhere
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:   "exp1_run",
//	    Binary: "bash",
//	    Args:   []string{"run_backend_automatic.sh", "--origin", "exp1"},
//	    OnLine: func(stream process.Stream, line string) { ... },
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	err := mgr.Wait(ctx)
package process
