// ABOUTME: Tracks owned resources (processes, tasks, closables) and guarantees their release.
// ABOUTME: The mutex guards only map transitions; blocking waits happen outside the lock.

package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ErrDuplicateKey indicates a resource with the same key is already registered.
var ErrDuplicateKey = errors.New("resource key already registered")

// ErrNotFound indicates the specified resource is not registered.
var ErrNotFound = errors.New("resource not registered")

// Kind identifies the category of a tracked resource.
type Kind string

const (
	KindProcess Kind = "process"
	KindTask    Kind = "task"
	KindCustom  Kind = "custom"
)

// Task is a tracked background goroutine with cooperative cancellation.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Done returns a channel closed when the task's goroutine has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

type handle struct {
	kind    Kind
	proc    *exec.Cmd
	task    *Task
	custom  any
	release func() error
}

// Tracker owns registered resources until they are released or unregistered.
// All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	resources map[string]*handle
	killGrace time.Duration
	logger    *slog.Logger
}

// NewTracker creates a Tracker. killGrace bounds the wait after each
// escalation step when terminating a process.
func NewTracker(killGrace time.Duration, logger *slog.Logger) *Tracker {
	if killGrace <= 0 {
		killGrace = 2 * time.Second
	}
	return &Tracker{
		resources: make(map[string]*handle),
		killGrace: killGrace,
		logger:    logger,
	}
}

func (t *Tracker) register(key string, h *handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.resources[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	t.resources[key] = h
	t.logger.Debug("registered resource", "key", key, "kind", h.kind)
	return nil
}

// RegisterProcess registers a started process for tracking. The tracker
// becomes the exclusive owner: callers must not wait on or kill the process
// themselves after registration.
func (t *Tracker) RegisterProcess(key string, cmd *exec.Cmd) error {
	return t.register(key, &handle{kind: KindProcess, proc: cmd})
}

// RegisterCustom registers an arbitrary resource with a release procedure.
func (t *Tracker) RegisterCustom(key string, resource any, release func() error) error {
	return t.register(key, &handle{kind: KindCustom, custom: resource, release: release})
}

// StartTask runs fn in a goroutine tracked under key. The goroutine receives
// a context cancelled when the task is released, and must return promptly
// once the context is done.
func (t *Tracker) StartTask(key string, fn func(ctx context.Context)) (*Task, error) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{cancel: cancel, done: make(chan struct{})}

	if err := t.register(key, &handle{kind: KindTask, task: task}); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer close(task.done)
		fn(ctx)
	}()
	return task, nil
}

// Unregister removes and returns the underlying resource without releasing
// it. The caller takes over ownership. Returns ErrNotFound if absent.
func (t *Tracker) Unregister(key string) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.resources[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	delete(t.resources, key)
	t.logger.Debug("unregistered resource", "key", key, "kind", h.kind)

	switch h.kind {
	case KindProcess:
		return h.proc, nil
	case KindTask:
		return h.task, nil
	default:
		return h.custom, nil
	}
}

// Release removes the resource under key and performs kind-specific graceful
// shutdown, waiting up to timeout. The bookkeeping entry is removed before
// any blocking work, so the key is free for re-registration even while
// termination is still in flight. Shutdown failures are logged and returned,
// but never prevent removal.
func (t *Tracker) Release(key string, timeout time.Duration) error {
	t.mu.Lock()
	h, ok := t.resources[key]
	if ok {
		delete(t.resources, key)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	var err error
	switch h.kind {
	case KindProcess:
		err = t.releaseProcess(key, h.proc, timeout)
	case KindTask:
		err = t.releaseTask(key, h.task, timeout)
	case KindCustom:
		err = t.releaseCustom(key, h.release)
	}

	if err != nil {
		t.logger.Warn("resource release failed", "key", key, "kind", h.kind, "error", err)
	} else {
		t.logger.Debug("released resource", "key", key, "kind", h.kind)
	}
	return err
}

// releaseProcess terminates a process with three-tier escalation:
// interrupt, then terminate, then kill. Each signal is followed by a
// bounded wait; the first wait uses the caller's timeout and the later
// waits use the kill grace period.
func (t *Tracker) releaseProcess(key string, cmd *exec.Cmd, timeout time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	if cmd.ProcessState != nil {
		// Already reaped.
		return nil
	}

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	steps := []struct {
		sig  syscall.Signal
		wait time.Duration
	}{
		{syscall.SIGINT, timeout},
		{syscall.SIGTERM, t.killGrace},
		{syscall.SIGKILL, t.killGrace},
	}

	for i, step := range steps {
		if err := cmd.Process.Signal(step.sig); err != nil {
			// ESRCH-style failures mean the process is already gone;
			// drain the wait result and finish.
			select {
			case werr := <-waited:
				return exitError(werr)
			case <-time.After(t.killGrace):
				return fmt.Errorf("signaling process %q: %w", key, err)
			}
		}

		select {
		case werr := <-waited:
			return exitError(werr)
		case <-time.After(step.wait):
			if i < len(steps)-1 {
				t.logger.Warn("process did not exit, escalating",
					"key", key, "signal", step.sig.String(), "waited", step.wait)
			}
		}
	}

	return fmt.Errorf("process %q survived SIGKILL after %s", key, t.killGrace)
}

// exitError filters expected wait outcomes: a process killed by our own
// signals reports an *exec.ExitError, which is a successful release.
func exitError(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// releaseTask cancels the task and waits up to timeout for the goroutine to
// return. A task that outlives the timeout is abandoned best-effort.
func (t *Tracker) releaseTask(key string, task *Task, timeout time.Duration) error {
	task.cancel()

	select {
	case <-task.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("task %q did not stop within %s", key, timeout)
	}
}

// releaseCustom invokes the registered release procedure. Panics are
// recovered so a misbehaving procedure cannot take down the caller.
func (t *Tracker) releaseCustom(key string, release func() error) (err error) {
	if release == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("release of %q panicked: %v", key, r)
		}
	}()
	return release()
}

// Failure records one failed release in a ReleaseAll summary.
type Failure struct {
	Key string
	Err error
}

// Summary reports the outcome of ReleaseAll.
type Summary struct {
	Released int
	Failures []Failure
}

// OK reports whether every release succeeded.
func (s Summary) OK() bool { return len(s.Failures) == 0 }

// ReleaseAll releases every tracked resource, iterating a stable snapshot of
// the keys. Individual failures are collected rather than halting the sweep;
// no resource remains registered afterwards.
func (t *Tracker) ReleaseAll(timeout time.Duration) Summary {
	t.mu.Lock()
	keys := make([]string, 0, len(t.resources))
	for key := range t.resources {
		keys = append(keys, key)
	}
	t.mu.Unlock()

	var summary Summary
	for _, key := range keys {
		if err := t.Release(key, timeout); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Released concurrently; nothing left to do.
				continue
			}
			summary.Failures = append(summary.Failures, Failure{Key: key, Err: err})
			continue
		}
		summary.Released++
	}

	t.logger.Info("released all resources",
		"released", summary.Released,
		"failed", len(summary.Failures),
	)
	return summary
}

// Status reports registered keys grouped by kind for observability.
type Status struct {
	Processes []string
	Tasks     []string
	Custom    []string
}

// Count returns the total number of tracked resources.
func (s Status) Count() int {
	return len(s.Processes) + len(s.Tasks) + len(s.Custom)
}

// Status returns a snapshot of all registered resources.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	var st Status
	for key, h := range t.resources {
		switch h.kind {
		case KindProcess:
			st.Processes = append(st.Processes, key)
		case KindTask:
			st.Tasks = append(st.Tasks, key)
		case KindCustom:
			st.Custom = append(st.Custom, key)
		}
	}
	return st
}
