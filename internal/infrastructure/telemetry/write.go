package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Sample is one observation of a running app, taken by the scheduler
// sweep. One point is written per running app per sweep.
type Sample struct {
	// AppID identifies the app the sample belongs to.
	AppID string

	// PID is the supervised process ID at sample time.
	PID int

	// CPUPercent is the lifetime-average CPU usage of the process.
	CPUPercent float64

	// MemoryRSS is the resident set size in bytes.
	MemoryRSS int64

	// PortOpen reports whether the app's TCP port accepted a connection.
	PortOpen bool

	// IdleSeconds is the time since the app's last recorded activity.
	IdleSeconds float64
}

// WriteAppSample records a single app status sample.
//
// This is the primary method for recording app telemetry. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Points land in the app_status measurement, tagged by app_id so that
// dashboards can group and filter per app.
//
// Example:
//
//	client.WriteAppSample(telemetry.Sample{
//	    AppID:      "dashboard",
//	    PID:        4242,
//	    CPUPercent: 1.3,
//	    MemoryRSS:  48 << 20,
//	    PortOpen:   true,
//	})
func (c *Client) WriteAppSample(s Sample) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"app_status",
		map[string]string{
			"app_id": s.AppID,
		},
		map[string]interface{}{
			"pid":              s.PID,
			"cpu_percent":      s.CPUPercent,
			"memory_rss_bytes": s.MemoryRSS,
			"port_open":        s.PortOpen,
			"idle_seconds":     s.IdleSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLifecycleEvent records a lifecycle transition as a point.
//
// Unlike the journal, which is the authoritative event record, these
// points exist so lifecycle markers can be overlaid on status graphs.
//
// Parameters:
//   - appID: App identifier
//   - action: The lifecycle action (start, stop, restart, idle_stop)
//   - outcome: "ok" or "failed"
func (c *Client) WriteLifecycleEvent(appID string, action string, outcome string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"app_lifecycle",
		map[string]string{
			"app_id": appID,
			"action": action,
		},
		map[string]interface{}{
			"outcome": outcome,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("supervisor_stats",
//	    map[string]string{"host": "web-01"},
//	    map[string]interface{}{"apps_running": 3, "goroutines": 24})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
