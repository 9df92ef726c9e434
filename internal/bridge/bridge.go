// ABOUTME: Top-level orchestrator wiring the tracker, client, manager, and monitor.
// ABOUTME: Run blocks until the context is cancelled, then releases everything.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/agentapi-bridge/internal/agent"
	"github.com/2389/agentapi-bridge/internal/apiclient"
	"github.com/2389/agentapi-bridge/internal/config"
	"github.com/2389/agentapi-bridge/internal/health"
	"github.com/2389/agentapi-bridge/internal/resource"
	"github.com/2389/agentapi-bridge/internal/store"
)

// Bridge assembles the bridge's components from configuration.
type Bridge struct {
	cfg     *config.Config
	logger  *slog.Logger
	tracker *resource.Tracker
	api     *apiclient.Client
	ledger  store.Store
	manager *agent.Manager
	monitor *health.Monitor
}

// New wires a Bridge. The ledger is optional: an empty path disables
// persistence and the manager and monitor run without a recorder.
func New(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	tracker := resource.NewTracker(cfg.Agent.KillGrace, logger.With("component", "tracker"))
	api := apiclient.New(cfg.AgentAPIURL, cfg.Retry, logger.With("component", "apiclient"))

	var ledger store.Store
	if cfg.Ledger.Path != "" {
		var err error
		ledger, err = store.NewSQLiteStore(cfg.Ledger.Path, logger.With("component", "store"))
		if err != nil {
			return nil, fmt.Errorf("opening ledger: %w", err)
		}
	}

	var managerRec agent.Recorder
	var monitorRec health.Recorder
	if ledger != nil {
		managerRec = ledger
		monitorRec = ledger
	}

	return &Bridge{
		cfg:     cfg,
		logger:  logger,
		tracker: tracker,
		api:     api,
		ledger:  ledger,
		manager: agent.NewManager(cfg, api, tracker, managerRec, logger.With("component", "agent")),
		monitor: health.New(api, cfg.Health.Interval, monitorRec, logger.With("component", "health")),
	}, nil
}

// Manager exposes the lifecycle manager for CLI commands.
func (b *Bridge) Manager() *agent.Manager { return b.manager }

// Monitor exposes the health monitor for CLI commands.
func (b *Bridge) Monitor() *health.Monitor { return b.monitor }

// Client exposes the API client for CLI commands.
func (b *Bridge) Client() *apiclient.Client { return b.api }

// Ledger exposes the transition ledger, nil when persistence is disabled.
func (b *Bridge) Ledger() store.Store { return b.ledger }

// Run starts the bridge: detect agents, optionally start the active one,
// spin up the monitors and the event stream, then block until ctx is
// cancelled. Shutdown releases every tracked resource.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.shutdown()

	b.manager.Detect(ctx)

	if b.cfg.Agent.AutoStart {
		active := b.manager.Active()
		if err := b.manager.Start(ctx, active); err != nil {
			if errors.Is(err, agent.ErrAlreadyRunning) {
				b.logger.Info("active agent already running", "variant", active)
			} else {
				return fmt.Errorf("starting active agent: %w", err)
			}
		}
	}

	if _, err := b.tracker.StartTask("health-monitor", b.monitor.Run); err != nil {
		return fmt.Errorf("starting health monitor: %w", err)
	}
	if _, err := b.tracker.StartTask("agent-monitor", func(ctx context.Context) {
		b.manager.Monitor(ctx, b.cfg.Agent.AutoStart)
	}); err != nil {
		return fmt.Errorf("starting agent monitor: %w", err)
	}
	if _, err := b.tracker.StartTask("event-stream", b.consumeEvents); err != nil {
		return fmt.Errorf("starting event stream: %w", err)
	}

	b.logger.Info("bridge running",
		"agent_api_url", b.cfg.AgentAPIURL,
		"active", b.manager.Active(),
		"auto_start", b.cfg.Agent.AutoStart,
	)

	<-ctx.Done()
	b.logger.Info("shutting down")
	return nil
}

// consumeEvents follows the server's event stream for the life of the
// bridge. A terminal stream error is logged, not fatal: the liveness
// monitor decides what to do about a dead server.
func (b *Bridge) consumeEvents(ctx context.Context) {
	events := b.api.Events(ctx, b.cfg.Stream)
	for ev := range events {
		if ev.Err != nil {
			b.logger.Error("event stream ended", "error", ev.Err)
			return
		}
		b.logger.Debug("agent event",
			"id", ev.Event.ID,
			"type", ev.Event.Type,
			"bytes", len(ev.Event.Data),
		)
	}
}

// shutdown releases all tracked resources and closes the ledger.
func (b *Bridge) shutdown() {
	summary := b.tracker.ReleaseAll(b.cfg.Agent.StopGrace)
	if !summary.OK() {
		for _, f := range summary.Failures {
			b.logger.Error("resource did not shut down cleanly", "key", f.Key, "error", f.Err)
		}
	}
	if b.ledger != nil {
		if err := b.ledger.Close(); err != nil {
			b.logger.Warn("closing ledger", "error", err)
		}
	}
}
