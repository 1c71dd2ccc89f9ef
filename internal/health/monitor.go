// Package health monitors backend reachability with exponential backoff.
//
// The monitor owns the connection state: it is the only writer, and every
// other component (refresh coordinator, UI) reads snapshots or subscribes to
// changes. Probe failures are absorbed into backoff state; no error ever
// crosses the monitor's boundary.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/multiapi/driveman/internal/events"
	"github.com/multiapi/driveman/internal/logging"
)

// ErrAlreadyStarted is returned by Start when the check loop is running.
var ErrAlreadyStarted = errors.New("health monitor already started")

// Status is the externally visible reachability state.
type Status string

const (
	// StatusUnknown is the state before the first probe completes.
	StatusUnknown Status = "unknown"
	// StatusConnected means the last probe succeeded.
	StatusConnected Status = "connected"
	// StatusDisconnected means the last probe failed.
	StatusDisconnected Status = "disconnected"
)

// State is an immutable snapshot of the connection state.
type State struct {
	Status              Status
	ConsecutiveFailures int
	CheckInterval       time.Duration
	NextCheckAt         time.Time
}

// Connected reports whether the backend was reachable at the last probe.
func (s State) Connected() bool { return s.Status == StatusConnected }

// Prober performs one bounded reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Observer receives a state snapshot whenever status or interval changes.
type Observer func(State)

// Monitor runs the periodic reachability check loop.
type Monitor struct {
	prober Prober
	bus    *events.Bus
	log    *logging.Logger

	mu        sync.Mutex
	state     State
	base      time.Duration
	max       time.Duration
	started   bool
	checking  bool
	observers map[int]Observer
	nextObsID int

	stopCh chan struct{}
	kickCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor probing through prober. bus may be nil.
func NewMonitor(prober Prober, bus *events.Bus, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Monitor{
		prober:    prober,
		bus:       bus,
		log:       logger.Component("health"),
		state:     State{Status: StatusUnknown},
		observers: make(map[int]Observer),
	}
}

// Start begins the check loop. The first probe fires immediately, then the
// schedule follows the backoff interval. Returns ErrAlreadyStarted if the
// loop is running.
func (m *Monitor) Start(baseInterval, maxInterval time.Duration) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if baseInterval <= 0 {
		m.mu.Unlock()
		return errors.New("base interval must be positive")
	}
	if maxInterval < baseInterval {
		m.mu.Unlock()
		return errors.New("max interval must be >= base interval")
	}
	m.started = true
	m.base = baseInterval
	m.max = maxInterval
	m.state.CheckInterval = baseInterval
	m.stopCh = make(chan struct{})
	m.kickCh = make(chan struct{}, 1)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(m.stopCh, m.kickCh)
	return nil
}

// Stop halts scheduling. Idempotent; safe to call before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// CheckNow forces an immediate probe. If a probe is already in flight this is
// a no-op; either way the current state snapshot is returned.
func (m *Monitor) CheckNow() State {
	m.mu.Lock()
	state := m.state
	started := m.started
	checking := m.checking
	kick := m.kickCh
	m.mu.Unlock()

	if !started || checking {
		return state
	}
	select {
	case kick <- struct{}{}:
	default:
	}
	return state
}

// State returns the current connection state snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStatusChanged registers an observer called whenever status or interval
// changes. The returned function unsubscribes it.
func (m *Monitor) OnStatusChanged(obs Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = obs
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// run is the single check loop. All probes execute here, so at most one is
// ever in flight and all state writes happen from this goroutine.
func (m *Monitor) run(stopCh, kickCh chan struct{}) {
	defer m.wg.Done()

	// Immediate first probe, then backoff-governed schedule.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		case <-kickCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		interval := m.check()

		timer.Reset(interval)
	}
}

// check performs one probe and applies the backoff rules.
// Returns the interval until the next scheduled probe.
func (m *Monitor) check() time.Duration {
	m.mu.Lock()
	m.checking = true
	timeout := m.base
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	err := m.prober.Probe(ctx)
	cancel()

	m.mu.Lock()
	m.checking = false
	prev := m.state

	if err == nil {
		m.state.Status = StatusConnected
		m.state.ConsecutiveFailures = 0
		m.state.CheckInterval = m.base
	} else {
		m.state.Status = StatusDisconnected
		m.state.ConsecutiveFailures++
		m.state.CheckInterval = backoffInterval(m.base, m.max, m.state.ConsecutiveFailures)
	}
	m.state.NextCheckAt = time.Now().Add(m.state.CheckInterval)
	state := m.state

	changed := state.Status != prev.Status || state.CheckInterval != prev.CheckInterval
	var observers []Observer
	if changed {
		observers = make([]Observer, 0, len(m.observers))
		for _, obs := range m.observers {
			observers = append(observers, obs)
		}
	}
	m.mu.Unlock()

	if changed {
		if err != nil {
			m.log.Warn().
				Int("consecutive_failures", state.ConsecutiveFailures).
				Dur("next_check_in", state.CheckInterval).
				Err(err).
				Msg("backend unreachable")
		} else {
			m.log.Info().Msg("backend connected")
		}

		for _, obs := range observers {
			obs(state)
		}
		m.bus.Publish(&events.ConnectionEvent{
			BaseEvent:           events.NewBase(events.EventConnectionChanged),
			Connected:           state.Connected(),
			ConsecutiveFailures: state.ConsecutiveFailures,
			CheckInterval:       state.CheckInterval,
			NextCheckAt:         state.NextCheckAt,
		})
	}

	return state.CheckInterval
}

// backoffInterval computes min(base * 2^failures, max) without overflowing.
func backoffInterval(base, max time.Duration, failures int) time.Duration {
	interval := base
	for i := 0; i < failures; i++ {
		interval *= 2
		if interval >= max || interval <= 0 {
			return max
		}
	}
	if interval > max {
		return max
	}
	return interval
}
