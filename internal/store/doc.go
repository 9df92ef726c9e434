// ABOUTME: Package documentation for the persistence layer.

// Package store persists the bridge's operational history: agent
// lifecycle transitions and periodic health snapshots. The SQLite
// implementation is the only one; the Store interface exists so the
// manager and monitor can be tested with in-memory fakes.
package store
