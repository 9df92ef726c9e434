// ABOUTME: Package documentation for the health monitor.

// Package health evaluates the bridge's health as three isolated
// sub-checks: agentapi server reachability, agent readiness, and the
// bridge process itself. Verdicts aggregate conservatively and every
// snapshot can be persisted for trend inspection.
package health
