// Package telemetry provides time-series recording of app status for warden.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched sample writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Per-app status samples (CPU, memory, port reachability, idle time)
//   - Lifecycle transition markers for graph overlays
//
// The scheduler sweep produces one sample per running app per tick,
// so write volume is small and steady: apps x (1 / check_interval).
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "warden",
//	    Bucket:  "apps",
//	}
//
//	client, err := telemetry.Connect(ctx, cfg)
//	if errors.Is(err, telemetry.ErrDisabled) {
//	    // Telemetry is optional; run without it
//	}
//
//	client.WriteAppSample(telemetry.Sample{AppID: "dashboard", PID: 4242})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly.
//
// # Performance
//
// Writes are batched according to warden.yaml settings (batch_size,
// flush_interval). This keeps the scheduler sweep free of network I/O.
package telemetry
