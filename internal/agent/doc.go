// ABOUTME: Package documentation for agent lifecycle management.
// ABOUTME: Describes the variant dispatch table and ownership boundaries.

// Package agent manages the lifecycle of the coding agents the bridge can
// front: detection, installation, start, stop, switch, and background
// liveness monitoring.
//
// Every variant-specific behavior lives in a single dispatch table entry
// (binary name, launch command, installer, credential env var, output
// patterns), so the manager's operations are variant-agnostic. Transitions
// for one variant are serialized with a per-variant lock and recorded to
// the transition ledger with an operation ID for correlation.
//
// Process ownership is strict: spawned agents are registered with the
// resource tracker, which is the only component that waits on or signals
// them. Agents discovered behind an externally launched server are tracked
// as running but have no process to release.
package agent
