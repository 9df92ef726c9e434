// ABOUTME: Agent lifecycle manager: detect, install, start, stop, switch, monitor.
// ABOUTME: Transitions are serialized per variant and recorded to the ledger.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentapi-bridge/internal/apiclient"
	"github.com/2389/agentapi-bridge/internal/config"
	"github.com/2389/agentapi-bridge/internal/resource"
)

// InstallStatus describes whether a variant's binary is available.
type InstallStatus string

const (
	InstallUnknown      InstallStatus = "unknown"
	Installed           InstallStatus = "installed"
	NotInstalled        InstallStatus = "not_installed"
	Installing          InstallStatus = "installing"
	InstallFailed       InstallStatus = "install_failed"
	InstallNotSupported InstallStatus = "not_supported"
)

// RunStatus describes a variant's process state.
type RunStatus string

const (
	RunUnknown  RunStatus = "unknown"
	Starting    RunStatus = "starting"
	Running     RunStatus = "running"
	Stopping    RunStatus = "stopping"
	Stopped     RunStatus = "stopped"
	StartFailed RunStatus = "start_failed"
)

var (
	// ErrAlreadyRunning indicates a start request for a variant that is
	// already running.
	ErrAlreadyRunning = errors.New("agent already running")
	// ErrNotRunning indicates a stop request for a variant with no
	// running process.
	ErrNotRunning = errors.New("agent not running")
	// ErrInstallUnsupported indicates the variant has no automated
	// installer.
	ErrInstallUnsupported = errors.New("automated install not supported for variant")
)

// CredentialError blocks a start because the variant's API key is absent.
type CredentialError struct {
	Variant Variant
	Env     string
	Err     error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential check for %s (%s): %v", e.Variant, e.Env, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// StartError wraps a failed start with the phase that failed.
type StartError struct {
	Variant Variant
	Phase   string // "command", "spawn", "readiness"
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting %s (%s phase): %v", e.Variant, e.Phase, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError wraps a teardown failure. The agent is still marked stopped;
// the error reports what the release left behind.
type StopError struct {
	Variant Variant
	Err     error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stopping %s: %v", e.Variant, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }

// Record is the manager's view of one variant.
type Record struct {
	Variant Variant       `json:"variant"`
	Install InstallStatus `json:"install"`
	Run     RunStatus     `json:"run"`
	Version string        `json:"version,omitempty"`
	Command []string      `json:"command,omitempty"`
	PID     int           `json:"pid,omitempty"`
	// CredentialPresent and CredentialValid are distinct: a key can be
	// set but fail its provider's format check.
	CredentialPresent bool `json:"credentialPresent"`
	CredentialValid   bool `json:"credentialValid"`

	// processKey is non-empty only when the manager spawned the process
	// itself. An agent detected behind an externally launched server has
	// no key and nothing to release.
	processKey string
}

// Recorder persists lifecycle transitions. Implementations must tolerate
// concurrent calls.
type Recorder interface {
	RecordTransition(ctx context.Context, variant, from, to, operation string) error
}

// Manager owns the lifecycle of every agent variant. Process ownership is
// delegated to the resource tracker; the manager never waits on or signals
// processes directly.
type Manager struct {
	cfg     *config.Config
	api     *apiclient.Client
	tracker *resource.Tracker
	rec     Recorder
	logger  *slog.Logger
	runner  runner

	// probeTimeout bounds each liveness ping so a connection the server
	// accepts but never answers cannot wedge the monitor loop.
	probeTimeout time.Duration

	mu      sync.Mutex
	records map[Variant]*Record
	wrapper WrapperStatus
	active  Variant

	// locks serialize transitions per variant so concurrent start/stop
	// calls for the same agent cannot interleave.
	locks map[Variant]*sync.Mutex
}

// NewManager creates a Manager. rec may be nil when transition persistence
// is disabled.
func NewManager(cfg *config.Config, api *apiclient.Client, tracker *resource.Tracker, rec Recorder, logger *slog.Logger) *Manager {
	records := make(map[Variant]*Record, len(Variants()))
	locks := make(map[Variant]*sync.Mutex, len(Variants()))
	for _, v := range Variants() {
		records[v] = &Record{Variant: v, Install: InstallUnknown, Run: RunUnknown}
		locks[v] = &sync.Mutex{}
	}
	return &Manager{
		cfg:          cfg,
		api:          api,
		tracker:      tracker,
		rec:          rec,
		logger:       logger,
		runner:       execRunner{},
		probeTimeout: 5 * time.Second,
		records:      records,
		active:       Variant(cfg.Agent.Active),
		locks:        locks,
	}
}

// Active returns the currently selected variant.
func (m *Manager) Active() Variant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Record returns a copy of the record for v.
func (m *Manager) Record(v Variant) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[v]
}

// Records returns copies of all variant records in stable order.
func (m *Manager) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, v := range Variants() {
		out = append(out, *m.records[v])
	}
	return out
}

// transition updates a variant's run status under the manager lock, logs
// the change with an operation ID, and persists it to the ledger.
func (m *Manager) transition(ctx context.Context, v Variant, to RunStatus, operation string) {
	opID := uuid.NewString()

	m.mu.Lock()
	rec := m.records[v]
	from := rec.Run
	rec.Run = to
	m.mu.Unlock()

	m.logger.Info("agent transition",
		"op", opID,
		"variant", v,
		"from", from,
		"to", to,
		"operation", operation,
	)

	if m.rec != nil {
		if err := m.rec.RecordTransition(ctx, string(v), string(from), string(to), operation); err != nil {
			m.logger.Warn("recording transition failed", "op", opID, "variant", v, "error", err)
		}
	}
}

// Detect probes every variant: binary availability, version, and
// credential state. It also asks the running agentapi server (if any)
// which agent it fronts, marking that variant running even though the
// manager did not spawn it.
func (m *Manager) Detect(ctx context.Context) []Record {
	m.detectWrapper(ctx)

	for _, v := range Variants() {
		s := spec(v)

		m.mu.Lock()
		rec := m.records[v]
		m.mu.Unlock()

		install := InstallNotSupported
		version := ""
		if s.binary != "" {
			if _, err := m.runner.LookPath(s.binary); err == nil {
				install = Installed
				if out, err := m.runner.Output(ctx, s.binary, "--version"); err == nil {
					version = out
				}
			} else {
				install = NotInstalled
			}
		} else if vc := m.cfg.Variant(string(v)); vc.Command != "" {
			if _, err := m.runner.LookPath(vc.Command); err == nil {
				install = Installed
			} else {
				install = NotInstalled
			}
		}

		cred := config.CheckCredential(m.credentialEnv(v))

		m.mu.Lock()
		// Installing state is transient and owned by Install; don't
		// clobber it from a concurrent detect.
		if rec.Install != Installing {
			rec.Install = install
		}
		rec.Version = version
		rec.CredentialPresent = cred.Present
		rec.CredentialValid = cred.Valid
		m.mu.Unlock()
	}

	m.detectRunning(ctx)
	return m.Records()
}

// WrapperStatus reports availability of the agentapi server binary that
// built-in launch commands run through.
type WrapperStatus struct {
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
}

// Wrapper returns the agentapi binary's status from the last Detect.
func (m *Manager) Wrapper() WrapperStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wrapper
}

// detectWrapper probes the agentapi binary on PATH and its version. A
// missing wrapper does not block detection, but every built-in variant's
// launch command will fail to spawn until it is installed.
func (m *Manager) detectWrapper(ctx context.Context) {
	var ws WrapperStatus
	if _, err := m.runner.LookPath(wrapperBinary); err == nil {
		ws.Installed = true
		if out, err := m.runner.Output(ctx, wrapperBinary, "--version"); err == nil {
			ws.Version = out
		}
	} else {
		m.logger.Warn("agentapi binary not found on PATH, agent launch commands will not spawn")
	}

	m.mu.Lock()
	m.wrapper = ws
	m.mu.Unlock()
}

// detectRunning asks the server which agent it fronts. Agents the manager
// did not spawn get a running record with no process key.
func (m *Manager) detectRunning(ctx context.Context) {
	status, err := m.api.Status(ctx)
	if err != nil {
		m.logger.Debug("no reachable agent during detection", "error", err)
		return
	}

	v, perr := ParseVariant(status.AgentType)
	if perr != nil {
		// Older servers omit agentType. Fall back to inferring the
		// variant from the agent's own message output.
		v, perr = m.inferFromMessages(ctx)
		if perr != nil {
			m.logger.Debug("server reports unrecognized agent type", "agent_type", status.AgentType)
			return
		}
	}

	m.mu.Lock()
	rec := m.records[v]
	changed := rec.Run != Running
	if changed {
		rec.Run = Running
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info("detected externally started agent", "variant", v)
	}
}

// inferFromMessages fetches recent agent-authored messages and matches
// them against the per-variant output patterns.
func (m *Manager) inferFromMessages(ctx context.Context) (Variant, error) {
	msgs, err := m.api.Messages(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching messages for inference: %w", err)
	}

	var contents []string
	for _, msg := range msgs {
		if msg.Role == "agent" {
			contents = append(contents, msg.Content)
		}
	}

	v, ok := InferVariant(contents)
	if !ok {
		return "", errors.New("agent type could not be inferred from message history")
	}
	m.logger.Info("inferred agent type from message history", "variant", v)
	return v, nil
}

// credentialEnv resolves the env var holding v's API key, honoring config
// overrides.
func (m *Manager) credentialEnv(v Variant) string {
	if vc := m.cfg.Variant(string(v)); vc.APIKeyEnv != "" {
		return vc.APIKeyEnv
	}
	return spec(v).credentialEnv
}

// Install installs the variant's binary. Already-installed variants
// return immediately; custom variants have no installer.
func (m *Manager) Install(ctx context.Context, v Variant) error {
	lock := m.locks[v]
	lock.Lock()
	defer lock.Unlock()

	s := spec(v)
	if s.install == nil {
		return fmt.Errorf("%w: %s", ErrInstallUnsupported, v)
	}

	if s.binary != "" {
		if _, err := m.runner.LookPath(s.binary); err == nil {
			m.setInstall(v, Installed)
			return nil
		}
	}

	m.setInstall(v, Installing)
	m.logger.Info("installing agent", "variant", v)

	if err := s.install(ctx, m.runner); err != nil {
		m.setInstall(v, InstallFailed)
		return fmt.Errorf("installing %s: %w", v, err)
	}

	if _, err := m.runner.LookPath(s.binary); err != nil {
		m.setInstall(v, InstallFailed)
		return fmt.Errorf("installing %s: binary %q missing after install", v, s.binary)
	}

	m.setInstall(v, Installed)
	return nil
}

func (m *Manager) setInstall(v Variant, st InstallStatus) {
	m.mu.Lock()
	m.records[v].Install = st
	m.mu.Unlock()
}

// Start launches v behind an agentapi server and waits for readiness.
// A missing credential refuses the start; a malformed one is logged but
// does not block. On readiness failure the spawned process is released
// and the status becomes start_failed.
func (m *Manager) Start(ctx context.Context, v Variant) error {
	lock := m.locks[v]
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	rec := m.records[v]
	if rec.Run == Running || rec.Run == Starting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, v)
	}
	m.mu.Unlock()

	env := m.credentialEnv(v)
	cred := config.CheckCredential(env)
	if cred.Err != nil {
		if errors.Is(cred.Err, config.ErrCredentialMissing) {
			return &CredentialError{Variant: v, Env: env, Err: cred.Err}
		}
		m.logger.Warn("credential looks malformed, starting anyway", "variant", v, "env", env)
	}

	vc := m.cfg.Variant(string(v))
	argv, err := commandFor(v, vc)
	if err != nil {
		m.transition(ctx, v, StartFailed, "start")
		return &StartError{Variant: v, Phase: "command", Err: err}
	}

	m.transition(ctx, v, Starting, "start")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		m.transition(ctx, v, StartFailed, "start")
		return &StartError{Variant: v, Phase: "spawn", Err: err}
	}

	key := processKey(v)
	if err := m.tracker.RegisterProcess(key, cmd); err != nil {
		// The key is stale from a previous run that never got cleaned up.
		// Kill the fresh process rather than leak it.
		_ = cmd.Process.Kill()
		m.transition(ctx, v, StartFailed, "start")
		return &StartError{Variant: v, Phase: "spawn", Err: err}
	}

	m.mu.Lock()
	rec.Command = argv
	rec.PID = cmd.Process.Pid
	rec.processKey = key
	m.mu.Unlock()

	if err := m.awaitReady(ctx); err != nil {
		m.transition(ctx, v, StartFailed, "start")
		if relErr := m.tracker.Release(key, m.cfg.Agent.StopGrace); relErr != nil && !errors.Is(relErr, resource.ErrNotFound) {
			m.logger.Warn("releasing failed agent", "variant", v, "error", relErr)
		}
		m.clearProcess(v)
		return &StartError{Variant: v, Phase: "readiness", Err: err}
	}

	m.transition(ctx, v, Running, "start")
	return nil
}

// awaitReady polls the server until it answers, growing the poll interval
// up to a cap, bounded by the configured start timeout.
func (m *Manager) awaitReady(ctx context.Context) error {
	deadline := time.Now().Add(m.cfg.Agent.StartTimeout)
	interval := time.Second

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := m.api.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("agent not ready within %s: %w", m.cfg.Agent.StartTimeout, err)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
		interval = time.Duration(float64(interval) * 1.5)
		if interval > 5*time.Second {
			interval = 5 * time.Second
		}
	}
}

func (m *Manager) clearProcess(v Variant) {
	m.mu.Lock()
	rec := m.records[v]
	rec.PID = 0
	rec.processKey = ""
	m.mu.Unlock()
}

// Stop shuts down v's process through the tracker. An agent the manager
// did not spawn has nothing to release; its status still becomes stopped
// so the bridge's view is consistent. A failed release is reported but the
// variant always ends up stopped.
func (m *Manager) Stop(ctx context.Context, v Variant) error {
	lock := m.locks[v]
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	rec := m.records[v]
	if rec.Run != Running && rec.Run != Starting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, v)
	}
	key := rec.processKey
	m.mu.Unlock()

	m.transition(ctx, v, Stopping, "stop")

	var err error
	if key == "" {
		m.logger.Info("agent was started externally, nothing to release", "variant", v)
	} else if err = m.tracker.Release(key, m.cfg.Agent.StopGrace); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			m.logger.Warn("agent process already released", "variant", v)
			err = nil
		}
	}

	m.clearProcess(v)
	m.transition(ctx, v, Stopped, "stop")

	if err != nil {
		return &StopError{Variant: v, Err: err}
	}
	return nil
}

// Restart stops v if running, then starts it fresh.
func (m *Manager) Restart(ctx context.Context, v Variant) error {
	if err := m.Stop(ctx, v); err != nil && !errors.Is(err, ErrNotRunning) {
		m.logger.Warn("stop during restart failed, starting anyway", "variant", v, "error", err)
	}
	return m.Start(ctx, v)
}

// Switch stops the active variant and starts target, updating the active
// selection only when the start succeeds.
func (m *Manager) Switch(ctx context.Context, target Variant) error {
	current := m.Active()
	if current == target {
		m.mu.Lock()
		running := m.records[target].Run == Running
		m.mu.Unlock()
		if running {
			return fmt.Errorf("%w: %s is already active", ErrAlreadyRunning, target)
		}
	}

	if current != "" && current != target {
		if err := m.Stop(ctx, current); err != nil && !errors.Is(err, ErrNotRunning) {
			m.logger.Warn("stopping previous agent during switch failed", "variant", current, "error", err)
		}
	}

	if err := m.Start(ctx, target); err != nil {
		return fmt.Errorf("switching to %s: %w", target, err)
	}

	m.mu.Lock()
	m.active = target
	m.mu.Unlock()
	m.logger.Info("switched active agent", "from", current, "to", target)
	return nil
}

func processKey(v Variant) string {
	return "agent:" + string(v)
}
