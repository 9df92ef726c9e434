// ABOUTME: Package documentation for the resource tracker.
// ABOUTME: Explains ownership rules and the release escalation model.

// Package resource provides centralized ownership tracking for everything
// the bridge spawns: agent processes, background tasks, and arbitrary
// closables.
//
// Registering a resource transfers ownership to the Tracker. From that
// point the Tracker is the only component allowed to wait on, signal, or
// tear down the resource; callers that need ownership back must Unregister
// first.
//
// Release is deliberately forgiving: the bookkeeping entry is removed
// before any blocking teardown starts, a process that ignores SIGINT is
// escalated through SIGTERM to SIGKILL, and ReleaseAll collects failures
// into a summary instead of aborting the sweep. A failed release never
// leaves a stale entry behind.
package resource
