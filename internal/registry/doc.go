// Package registry loads and serves app descriptors for warden.
//
// Descriptors live in a YAML file (apps.yaml) that declares every app
// warden may manage: where it lives on disk, its entry point, the port
// it serves on, and optional idle-timeout and display settings.
//
// # File Format
//
//	apps:
//	  - id: expenses
//	    name: "Expense Tracker"
//	    dir: /srv/apps/expenses
//	    entry: app.py
//	    port: 5050
//	    idle_timeout_minutes: 60
//	    health_path: /health
//
// # Reload Semantics
//
// Load() replaces the whole descriptor set atomically. A failed load
// (unreadable file, bad YAML, validation errors) leaves the previous
// set active, so a broken edit never strands a running warden without
// config. Apps removed by a reload keep running; they simply stop being
// manageable until re-added.
package registry
