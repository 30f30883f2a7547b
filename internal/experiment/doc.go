// Package experiment manages the lifecycle of simulation runs.
//
// A run is started by Launcher.Launch, which spawns the simulation script,
// records its pid in the Registry under the run's target name, and relays
// every output line to the broadcast group "experiment_<target>". Lifecycle
// answers status queries from the recorded pid and stops runs by signal.
//
//	registry := experiment.NewRegistry(store, "reverie:", 24*time.Hour)
//	launcher, _ := experiment.NewLauncher(cfg, experiment.LauncherDeps{
//	    Registry: registry,
//	    Relay:    hub,
//	})
//	task, err := launcher.Launch(ctx, experiment.LaunchRequest{
//	    Origin: "base_the_ville", Target: "run_1", Steps: 5,
//	})
//	...
//	state, _ := lifecycle.Status(ctx, "run_1") // running
//
// # Concurrency
//
// Launch spawns the child and records its pid before returning. The wait
// for exit runs on its own goroutine; stdout and stderr are drained by two
// more. Registry operations are atomic per key. Status is read-only.
// Stop clears records with compare-and-delete, so it never removes a
// record written by a newer launch of the same target. Two launches of the
// same target still race: the last one to record its pid wins.
//
// Process ids are not reserved: if the OS recycles a pid while its record
// still exists, Status reports the unrelated process.
package experiment
