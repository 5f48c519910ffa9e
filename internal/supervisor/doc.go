// Package supervisor manages the lifecycle of locally hosted web app
// processes: spawning them detached, tracking them through durable PID
// records, stopping them with escalating signals, and answering
// status, log, and health queries about them.
//
// # Process Model
//
// Apps are spawned in their own session (setsid), so they survive a
// warden restart and can be signalled as a whole process group. The
// supervisor records each spawn in a small JSON file under the state
// directory; the record is advisory. Before trusting one, the
// supervisor verifies against the kernel that the PID is alive, is not
// a zombie, and still runs the expected interpreter. Records that fail
// verification are deleted on sight, so a crashed app heals back to a
// clean "dead" state on the next status query.
//
// # Liveness
//
// Because an app can also be started by hand, liveness is reported as
// one of three states: alive (a verified process of ours), dead
// (nothing there), or ambiguous (no process of ours, but something is
// listening on the app's port). Ambiguous apps count as running for
// start/stop purposes: start declines to double-bind the port, and
// stop declines to kill a process it does not own.
//
// # Serialisation
//
// Lifecycle operations on the same app are serialised by a per-app
// mutex. A restart holds the lock across its stop, pause, and start,
// so no concurrent operation can observe the half-restarted state.
// Health probes deliberately run outside the lock; a slow app must not
// block its own stop.
//
// # Usage
//
//	sup, err := supervisor.New(supervisor.Config{
//		StateDir: "./data/state",
//		LogDir:   "./data/logs",
//	}, reg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	sup.SetLogger(logger)
//
//	res, err := sup.Start(ctx, "dashboard")
package supervisor
