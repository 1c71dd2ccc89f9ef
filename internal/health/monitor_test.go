package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedProber fails a fixed number of times, then succeeds forever.
type scriptedProber struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (p *scriptedProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// blockingProber blocks until released, to pin a probe in flight.
type blockingProber struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProber) Probe(ctx context.Context) error {
	p.entered <- struct{}{}
	<-p.release
	return nil
}

func TestBackoffInterval(t *testing.T) {
	base := 30 * time.Second
	max := 900 * time.Second

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 480 * time.Second},
		{5, 900 * time.Second}, // 30*2^5 = 960s, capped
		{10, 900 * time.Second},
		{63, 900 * time.Second}, // shift overflow territory
	}

	for _, tt := range tests {
		got := backoffInterval(base, max, tt.failures)
		if got != tt.want {
			t.Errorf("failures=%d: expected %v, got %v", tt.failures, tt.want, got)
		}
		if got < base || got > max {
			t.Errorf("failures=%d: interval %v outside [%v, %v]", tt.failures, got, base, max)
		}
	}
}

func TestMonitorFailuresThenRecovery(t *testing.T) {
	prober := &scriptedProber{failures: 2}
	m := NewMonitor(prober, nil, nil)

	var mu sync.Mutex
	var states []State
	m.OnStatusChanged(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := m.Start(5*time.Millisecond, 40*time.Millisecond); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	// Failures at ~0ms and ~10ms, success at ~30ms.
	deadline := time.Now().Add(2 * time.Second)
	for m.State().Status != StatusConnected {
		if time.Now().After(deadline) {
			t.Fatal("monitor never reached Connected")
		}
		time.Sleep(2 * time.Millisecond)
	}

	final := m.State()
	if final.ConsecutiveFailures != 0 {
		t.Errorf("expected failures reset to 0, got %d", final.ConsecutiveFailures)
	}
	if final.CheckInterval != 5*time.Millisecond {
		t.Errorf("expected interval reset to base, got %v", final.CheckInterval)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 {
		t.Fatalf("expected at least 2 state changes, got %d", len(states))
	}
	first := states[0]
	if first.Status != StatusDisconnected || first.ConsecutiveFailures != 1 {
		t.Errorf("first change: expected disconnected with 1 failure, got %+v", first)
	}
	if first.CheckInterval != 10*time.Millisecond {
		t.Errorf("first failure: expected interval 10ms (base*2), got %v", first.CheckInterval)
	}
	last := states[len(states)-1]
	if last.Status != StatusConnected {
		t.Errorf("last change: expected connected, got %+v", last)
	}
}

func TestMonitorStartTwice(t *testing.T) {
	m := NewMonitor(&scriptedProber{}, nil, nil)
	if err := m.Start(time.Hour, time.Hour); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer m.Stop()

	if err := m.Start(time.Hour, time.Hour); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestMonitorStopIdempotent(t *testing.T) {
	m := NewMonitor(&scriptedProber{}, nil, nil)

	// Stop before Start is a no-op.
	m.Stop()

	if err := m.Start(time.Hour, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Stop()
	m.Stop()

	// Monitor is restartable after Stop.
	if err := m.Start(time.Hour, time.Hour); err != nil {
		t.Errorf("restart after Stop failed: %v", err)
	}
	m.Stop()
}

func TestMonitorInvalidIntervals(t *testing.T) {
	m := NewMonitor(&scriptedProber{}, nil, nil)
	if err := m.Start(0, time.Hour); err == nil {
		m.Stop()
		t.Error("expected error for zero base interval")
	}
	if err := m.Start(time.Hour, time.Minute); err == nil {
		m.Stop()
		t.Error("expected error for max < base")
	}
}

func TestCheckNowWhileProbeInFlight(t *testing.T) {
	prober := &blockingProber{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	m := NewMonitor(prober, nil, nil)
	if err := m.Start(time.Hour, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		close(prober.release)
		m.Stop()
	}()

	<-prober.entered // first probe now in flight

	// CheckNow must not block and must not queue a second probe.
	done := make(chan State, 1)
	go func() { done <- m.CheckNow() }()
	select {
	case state := <-done:
		if state.Status != StatusUnknown {
			t.Errorf("expected snapshot of current (unknown) state, got %v", state.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("CheckNow blocked while probe in flight")
	}
}

func TestCheckNowForcesImmediateProbe(t *testing.T) {
	prober := &scriptedProber{}
	m := NewMonitor(prober, nil, nil)
	if err := m.Start(time.Hour, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	// Wait out the immediate first probe.
	deadline := time.Now().Add(2 * time.Second)
	for prober.callCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("first probe never ran")
		}
		time.Sleep(2 * time.Millisecond)
	}

	m.CheckNow()
	deadline = time.Now().Add(2 * time.Second)
	for prober.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("CheckNow did not trigger a probe")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
