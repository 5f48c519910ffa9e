// Package api implements warden's HTTP control API and WebSocket server.
//
// This package provides:
//   - REST endpoints for app lifecycle (start, stop, restart, status, logs, health)
//   - Idle scheduler status and explicit activity recording
//   - Event journal queries
//   - WebSocket hub for real-time lifecycle event broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body size limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between callers (dashboards, reverse proxies,
// curl) and the supervisor. Handlers translate HTTP requests into
// supervisor operations, journal each lifecycle action through the
// injected EventRecorder, and map supervisor errors onto structured
// JSON error responses. Lifecycle events reach WebSocket clients via
// the hub: the composition root broadcasts every journal event on the
// "app.event" channel and on "app.event.<id>" for targeted
// subscriptions.
//
// # Graceful Degradation
//
// The server operates without the idle scheduler (scheduler endpoints
// report it disabled) and without an EventRecorder (events are
// appended to the journal directly). Supervisor failures affect only
// the app they concern; the API itself stays up.
package api
