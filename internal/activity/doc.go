// Package activity tracks when apps were last used and shuts down apps
// that have been idle past their timeout.
//
// The tracker holds an in-memory map of app ID to last-activity
// timestamp. Callers feed it: the API records activity when an app is
// started, restarted, fetched for its URL, or explicitly pinged. A
// background sweep loop compares idle time against each app's
// effective timeout (a per-app override, or the configured default)
// and stops apps that have exceeded it through the supervisor.
//
// Apps the tracker has never been told about are not killed on sight:
// the first sweep that observes one running seeds its activity clock,
// so it gets a full timeout from that point. Activity records do not
// survive a warden restart; a restart likewise grants every running
// app a fresh timeout.
//
// One failing app cannot starve the rest: each per-app check is
// panic-isolated, and a failed stop leaves the record in place so the
// next sweep retries it.
package activity
