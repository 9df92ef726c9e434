// ABOUTME: Ledger types and interface for agentapi-bridge persistence.
// ABOUTME: Records lifecycle transitions and health snapshots for later inspection.

package store

import (
	"context"
	"time"
)

// Transition is one recorded lifecycle state change.
type Transition struct {
	ID        string
	Variant   string
	From      string
	To        string
	Operation string
	CreatedAt time.Time
}

// HealthSnapshot is one recorded health evaluation.
type HealthSnapshot struct {
	ID        string
	Overall   string
	API       string
	Agent     string
	Self      string
	CreatedAt time.Time
}

// Store persists the bridge's operational history.
type Store interface {
	RecordTransition(ctx context.Context, variant, from, to, operation string) error
	RecentTransitions(ctx context.Context, limit int) ([]Transition, error)

	RecordSnapshot(ctx context.Context, overall, api, agent, self string) error
	RecentSnapshots(ctx context.Context, limit int) ([]HealthSnapshot, error)

	Close() error
}
