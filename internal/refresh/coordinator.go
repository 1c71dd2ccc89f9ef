// Package refresh coordinates named periodic data-refresh tasks.
//
// One base-resolution ticker drives every task. A task never overlaps
// itself, is skipped while the backend is unreachable, and enters a fixed
// cooldown when the backend reports rate limiting. One task's failure never
// affects the others, and failures are retried no faster than the task's own
// interval.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/multiapi/driveman/internal/events"
	"github.com/multiapi/driveman/internal/health"
	"github.com/multiapi/driveman/internal/logging"
)

var (
	// ErrDuplicateTask is returned when registering a name twice.
	ErrDuplicateTask = errors.New("refresh task already registered")
	// ErrUnknownTask is returned by RunNow for an unregistered name.
	ErrUnknownTask = errors.New("refresh task not registered")
	// ErrAlreadyStarted is returned by Start when the tick loop is running.
	ErrAlreadyStarted = errors.New("refresh coordinator already started")
)

// DefaultResolution is how often the coordinator evaluates task schedules.
const DefaultResolution = time.Second

// Result is what a task runner reports back.
type Result struct {
	Success     bool
	RateLimited bool
	Err         error
}

// Runner executes one refresh. It must honor ctx and return rather than
// panic; transport failures belong in Result.Err.
type Runner func(ctx context.Context) Result

// StatusSource exposes the shared connection state. The health monitor
// implements it; the coordinator only ever reads.
type StatusSource interface {
	State() health.State
}

// TaskState is a read-only snapshot of one registered task.
type TaskState struct {
	Name          string
	Interval      time.Duration
	LastStartedAt time.Time
	Running       bool
	CooldownUntil time.Time
}

type task struct {
	name          string
	interval      time.Duration
	runner        Runner
	lastStartedAt time.Time
	running       bool
	cooldownUntil time.Time
}

// Coordinator schedules registered tasks on a single cooperative tick loop.
// Tick handling never blocks on network I/O: runners execute on their own
// goroutines and report back through the completion handler.
type Coordinator struct {
	status     StatusSource
	cooldown   time.Duration
	resolution time.Duration
	bus        *events.Bus
	log        *logging.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	order   []string
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runWG  sync.WaitGroup
}

// NewCoordinator creates a coordinator gated by status. cooldown is the
// fixed rate-limit suppression window shared by all tasks. bus may be nil.
func NewCoordinator(status StatusSource, cooldown time.Duration, bus *events.Bus, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Coordinator{
		status:     status,
		cooldown:   cooldown,
		resolution: DefaultResolution,
		bus:        bus,
		log:        logger.Component("refresh"),
		tasks:      make(map[string]*task),
	}
}

// SetResolution overrides the tick resolution. Must be called before Start.
func (c *Coordinator) SetResolution(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 && !c.started {
		c.resolution = d
	}
}

// RegisterTask adds a named periodic task. Returns ErrDuplicateTask if the
// name is taken. Tasks may be registered before or after Start.
func (c *Coordinator) RegisterTask(name string, interval time.Duration, runner Runner) error {
	if name == "" {
		return errors.New("task name must not be empty")
	}
	if interval <= 0 {
		return fmt.Errorf("task %q interval must be positive", name)
	}
	if runner == nil {
		return fmt.Errorf("task %q runner must not be nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	c.tasks[name] = &task{name: name, interval: interval, runner: runner}
	c.order = append(c.order, name)
	return nil
}

// Start begins the tick loop.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	ctx := c.ctx
	resolution := c.resolution
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(resolution)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.tick(time.Now())
			}
		}
	}()
	return nil
}

// Stop halts the tick loop, cancels the context passed to in-flight runners
// and waits for them to return. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.runWG.Wait()
}

// RunNow starts the named task immediately, bypassing its interval, cooldown
// and the connection gate (a deliberate human action always probes).
// The overlap guard still applies: a no-op if the task is running.
func (c *Coordinator) RunNow(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, exists := c.tasks[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if t.running {
		return nil
	}
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.launchLocked(t, ctx, time.Now())
	return nil
}

// TaskStates returns snapshots of all registered tasks in registration order.
func (c *Coordinator) TaskStates() []TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TaskState, 0, len(c.order))
	for _, name := range c.order {
		t := c.tasks[name]
		out = append(out, TaskState{
			Name:          t.name,
			Interval:      t.interval,
			LastStartedAt: t.lastStartedAt,
			Running:       t.running,
			CooldownUntil: t.cooldownUntil,
		})
	}
	return out
}

// tick evaluates every task against the current time and launches the due
// ones. It holds the lock only to flip scheduling state; runners execute on
// their own goroutines.
func (c *Coordinator) tick(now time.Time) {
	connected := c.status.State().Connected()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	for _, name := range c.order {
		t := c.tasks[name]
		if t.running {
			continue
		}
		if t.cooldownUntil.After(now) {
			continue
		}
		if !connected {
			continue
		}
		if !t.lastStartedAt.IsZero() && now.Sub(t.lastStartedAt) < t.interval {
			continue
		}
		c.launchLocked(t, c.ctx, now)
	}
}

// launchLocked marks the task running and starts its runner goroutine.
// Caller holds c.mu.
func (c *Coordinator) launchLocked(t *task, ctx context.Context, now time.Time) {
	t.running = true
	t.lastStartedAt = now

	c.bus.Publish(&events.RefreshEvent{
		BaseEvent: events.NewBase(events.EventRefreshStarted),
		Task:      t.name,
	})

	runner := t.runner
	c.runWG.Add(1)
	go func() {
		defer c.runWG.Done()
		started := time.Now()
		res := runner(ctx)
		c.complete(t.name, res, time.Since(started))
	}()
}

// complete applies a finished run's result to the task's scheduling state.
func (c *Coordinator) complete(name string, res Result, took time.Duration) {
	c.mu.Lock()
	t, exists := c.tasks[name]
	if !exists {
		c.mu.Unlock()
		return
	}
	t.running = false
	if res.RateLimited {
		t.cooldownUntil = time.Now().Add(c.cooldown)
	}
	cooldownUntil := t.cooldownUntil
	c.mu.Unlock()

	switch {
	case res.RateLimited:
		c.log.Warn().Str("task", name).Time("cooldown_until", cooldownUntil).
			Msg("refresh rate limited, entering cooldown")
	case !res.Success:
		c.log.Debug().Str("task", name).Err(res.Err).Msg("refresh failed, waiting for next tick")
	default:
		c.log.Debug().Str("task", name).Dur("took", took).Msg("refresh completed")
	}

	c.bus.Publish(&events.RefreshEvent{
		BaseEvent:   events.NewBase(events.EventRefreshFinished),
		Task:        name,
		Success:     res.Success,
		RateLimited: res.RateLimited,
		Err:         res.Err,
		Duration:    took,
	})
}
