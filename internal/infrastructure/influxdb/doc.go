// Package influxdb records simulation run telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each finished run
// becomes one "experiment_run" point tagged by target, origin and outcome,
// with line counts, exit code and duration as fields.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteRunMetric("run_1", "base_the_ville", "completed", fields, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write errors are delivered through the
// SetOnError callback; connection and health check errors are returned
// directly.
package influxdb
