// ABOUTME: Package documentation for the bridge orchestrator.

// Package bridge wires configuration into the running system: the
// resource tracker, the API client, the lifecycle manager, the health
// monitor, and the optional SQLite ledger. The CLI builds a Bridge and
// either runs it as a long-lived process or uses its components for
// one-shot commands.
package bridge
