package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by reverie-core.
const (
	// MeasurementRun holds one point per finished simulation run.
	MeasurementRun = "experiment_run"
)

// WriteRunMetric records the outcome of one simulation run.
//
// Tags stay low-cardinality (target, origin, outcome); counts and timings
// go in fields. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Example:
//
//	client.WriteRunMetric("run_1", "base_the_ville", "completed",
//	    map[string]any{"stdout_lines": 812, "duration_ms": 93000}, endedAt)
func (c *Client) WriteRunMetric(target, origin, outcome string, fields map[string]any, ts time.Time) {
	c.WritePointWithTime(MeasurementRun,
		map[string]string{
			"target":  target,
			"origin":  origin,
			"outcome": outcome,
		},
		fields,
		ts,
	)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Points written while disconnected are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
