// ABOUTME: Background liveness monitor for the active agent.
// ABOUTME: Pings the server, backs off on failure, and optionally restarts.

package agent

import (
	"context"
	"errors"
	"time"
)

const (
	monitorInterval    = 5 * time.Second
	monitorMaxInterval = 60 * time.Second
	monitorGiveUpAfter = 5
)

// Monitor watches the active agent until ctx is cancelled. Each probe is a
// single non-retried ping. Consecutive failures stretch the probe interval;
// after the give-up threshold the active variant is marked stopped and,
// when restart is enabled, started again. Designed to run as a tracked
// task under the resource tracker.
func (m *Manager) Monitor(ctx context.Context, restart bool) {
	interval := monitorInterval
	failures := 0

	for {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}

		active := m.Active()
		if active == "" || m.Record(active).Run != Running {
			interval = monitorInterval
			failures = 0
			continue
		}

		if err := m.probeLiveness(ctx); err != nil {
			failures++
			m.logger.Warn("agent liveness probe failed",
				"variant", active,
				"consecutive", failures,
				"error", err,
			)

			if failures >= monitorGiveUpAfter {
				m.handleDeadAgent(ctx, active, restart)
				interval = monitorInterval
				failures = 0
				continue
			}

			interval = time.Duration(float64(interval) * 1.5)
			if interval > monitorMaxInterval {
				interval = monitorMaxInterval
			}
			continue
		}

		if failures > 0 {
			m.logger.Info("agent liveness recovered", "variant", active, "after_failures", failures)
		}
		interval = monitorInterval
		failures = 0
	}
}

// probeLiveness pings the server once under the manager's probe timeout.
// The monitor runs on a long-lived context, so the bound must come from
// here rather than from the caller.
func (m *Manager) probeLiveness(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return m.api.Ping(probeCtx)
}

// handleDeadAgent reconciles a variant whose server stopped answering:
// release whatever process is left, then restart when asked to.
func (m *Manager) handleDeadAgent(ctx context.Context, v Variant, restart bool) {
	m.logger.Error("agent is unresponsive, giving up on probes", "variant", v)

	if err := m.Stop(ctx, v); err != nil && !errors.Is(err, ErrNotRunning) {
		m.logger.Warn("cleaning up unresponsive agent failed", "variant", v, "error", err)
	}

	if !restart {
		return
	}
	if err := m.Start(ctx, v); err != nil {
		m.logger.Error("automatic restart failed", "variant", v, "error", err)
	}
}
