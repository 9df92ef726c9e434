// ABOUTME: Package documentation for the Agent API client.
// ABOUTME: Covers the retry model and the event stream lifecycle.

// Package apiclient is the bridge's HTTP client for the agentapi server.
//
// Requests go through a single retry engine: transient failures (transport
// errors and 429/5xx responses) are retried with exponential backoff and
// jitter, while everything else fails fast as an *APIError. Typed wrappers
// cover each endpoint the server exposes.
//
// Events opens a long-lived server-sent event stream. The stream resumes
// from the last observed event ID across reconnects, a watchdog aborts
// connections that go silent, and a bounded reorder buffer re-establishes
// ascending ID order when deliveries arrive out of sequence. When the
// consecutive reconnect budget is exhausted the channel delivers a
// *StreamTerminalError and closes.
package apiclient
