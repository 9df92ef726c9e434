// ABOUTME: Health monitor aggregating API reachability, agent readiness, and self checks.
// ABOUTME: Sub-checks are isolated; a panic in one degrades the snapshot instead of crashing.

package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/2389/agentapi-bridge/internal/apiclient"
)

// Status is a health verdict.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// Check is the outcome of one sub-check.
type Check struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	// RawStatus carries the agent's literal readiness value when it is
	// outside the known set.
	RawStatus string `json:"rawStatus,omitempty"`
}

// SelfStats are process-level measurements taken during the self check.
type SelfStats struct {
	Uptime     time.Duration `json:"uptime"`
	RSSBytes   uint64        `json:"rssBytes,omitempty"`
	CPUPercent float64       `json:"cpuPercent,omitempty"`
}

// Snapshot is one full health evaluation.
type Snapshot struct {
	Overall   Status    `json:"overall"`
	API       Check     `json:"api"`
	Agent     Check     `json:"agent"`
	Self      Check     `json:"self"`
	Stats     SelfStats `json:"stats"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Recorder persists health snapshots. Implementations must tolerate
// concurrent calls.
type Recorder interface {
	RecordSnapshot(ctx context.Context, overall, api, agent, self string) error
}

// Monitor evaluates bridge health on demand and on a fixed interval.
type Monitor struct {
	api      *apiclient.Client
	interval time.Duration
	started  time.Time
	rec      Recorder
	logger   *slog.Logger

	mu   sync.Mutex
	last Snapshot
}

// New creates a Monitor. rec may be nil when snapshot persistence is
// disabled.
func New(api *apiclient.Client, interval time.Duration, rec Recorder, logger *slog.Logger) *Monitor {
	return &Monitor{
		api:      api,
		interval: interval,
		started:  time.Now(),
		rec:      rec,
		logger:   logger,
	}
}

// Last returns the most recent snapshot, zero-valued before the first
// check.
func (m *Monitor) Last() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run evaluates health every interval until ctx is cancelled. Designed to
// run as a tracked task. Overall status changes are logged at warn or
// info depending on direction.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs all sub-checks, aggregates them, stores the snapshot, and
// returns it.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	snap := Snapshot{CheckedAt: time.Now()}

	snap.API = guarded(func() Check { return m.checkAPI(ctx) })
	snap.Agent = guarded(func() Check { return m.checkAgent(ctx) })
	snap.Self, snap.Stats = m.checkSelf()
	snap.Overall = aggregate(snap.API.Status, snap.Agent.Status, snap.Self.Status)

	m.mu.Lock()
	previous := m.last.Overall
	m.last = snap
	m.mu.Unlock()

	if previous != "" && previous != snap.Overall {
		level := slog.LevelInfo
		if snap.Overall == Unhealthy || snap.Overall == Degraded {
			level = slog.LevelWarn
		}
		m.logger.Log(ctx, level, "health changed",
			"from", previous,
			"to", snap.Overall,
			"api", snap.API.Status,
			"agent", snap.Agent.Status,
			"self", snap.Self.Status,
		)
	}

	if m.rec != nil {
		err := m.rec.RecordSnapshot(ctx,
			string(snap.Overall), string(snap.API.Status), string(snap.Agent.Status), string(snap.Self.Status))
		if err != nil {
			m.logger.Warn("recording health snapshot failed", "error", err)
		}
	}
	return snap
}

// guarded runs a sub-check, converting a panic into an unknown verdict so
// one broken probe cannot take the monitor down.
func guarded(check func() Check) (result Check) {
	defer func() {
		if r := recover(); r != nil {
			result = Check{Status: Unknown, Detail: fmt.Sprintf("check panicked: %v", r)}
		}
	}()
	return check()
}

// checkAPI probes server reachability with a single non-retried request.
func (m *Monitor) checkAPI(ctx context.Context) Check {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := m.api.Ping(probeCtx); err != nil {
		return Check{Status: Unhealthy, Detail: err.Error()}
	}
	return Check{Status: Healthy}
}

// checkAgent evaluates the agent's readiness value. Stable and running
// both count as healthy; anything else the server reports is preserved
// verbatim as unknown.
func (m *Monitor) checkAgent(ctx context.Context) Check {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := m.api.Status(probeCtx)
	if err != nil {
		return Check{Status: Unhealthy, Detail: err.Error()}
	}

	switch status.Status {
	case apiclient.StatusStable, apiclient.StatusRunning:
		return Check{Status: Healthy}
	default:
		return Check{Status: Unknown, RawStatus: string(status.Status)}
	}
}

// checkSelf measures the bridge's own process. Measurement failures are
// non-fatal: uptime alone still yields a healthy verdict.
func (m *Monitor) checkSelf() (Check, SelfStats) {
	stats := SelfStats{Uptime: time.Since(m.started)}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return Check{Status: Healthy, Detail: "process stats unavailable"}, stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	return Check{Status: Healthy}, stats
}

// aggregate folds sub-check verdicts into an overall one. The API and the
// agent are load-bearing: either being unhealthy makes the whole bridge
// unhealthy. Anything short of all-healthy is degraded.
func aggregate(api, agent, self Status) Status {
	if api == Unhealthy || agent == Unhealthy {
		return Unhealthy
	}
	if api == Healthy && agent == Healthy && self == Healthy {
		return Healthy
	}
	return Degraded
}
