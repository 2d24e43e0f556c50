package timectrl

import (
	"sync"
	"time"
)

// Mode describes how the TimeController paces simulation time.
type Mode int

const (
	// RealTime holds simulation time back so it never runs ahead of
	// wall-clock time (scaled by Speedup).
	RealTime Mode = iota
	// Accelerated lets the engine run as fast as it can; ticks only update
	// Now and notify listeners.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// ParseMode maps a configuration string to a Mode. Unknown values fall back
// to Accelerated.
func ParseMode(s string) Mode {
	if s == "realtime" || s == "real-time" {
		return RealTime
	}
	return Accelerated
}

// TimeController tracks simulation time and notifies registered listeners.
// The engine calls Advance from its event loop every Tick of simulation
// time; in RealTime mode Advance blocks until the wall clock catches up.
type TimeController struct {
	mu      sync.RWMutex
	Tick    time.Duration
	Mode    Mode
	Speedup float64

	current   time.Duration
	wallStart time.Time
	started   bool

	listeners []func(time.Duration)

	// wall and sleep are replaced in tests.
	wall  func() time.Time
	sleep func(time.Duration)
}

// NewTimeController constructs a controller. A non-positive speedup is
// treated as 1.
func NewTimeController(tick time.Duration, mode Mode, speedup float64) *TimeController {
	if speedup <= 0 {
		speedup = 1
	}
	return &TimeController{
		Tick:    tick,
		Mode:    mode,
		Speedup: speedup,
		wall:    time.Now,
		sleep:   time.Sleep,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.current
}

// SetTime overrides the current simulation time without pacing or
// notifying listeners.
func (tc *TimeController) SetTime(t time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.current = t
}

// AddListener registers a callback invoked on every Advance.
func (tc *TimeController) AddListener(fn func(time.Duration)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance moves simulation time forward to simTime. Moving backwards is
// ignored.
func (tc *TimeController) Advance(simTime time.Duration) {
	tc.mu.Lock()
	if simTime < tc.current {
		tc.mu.Unlock()
		return
	}
	if !tc.started {
		tc.started = true
		tc.wallStart = tc.wall()
	}
	tc.current = simTime
	wallStart := tc.wallStart
	listeners := append([]func(time.Duration){}, tc.listeners...)
	tc.mu.Unlock()

	if tc.Mode == RealTime {
		target := wallStart.Add(time.Duration(float64(simTime) / tc.Speedup))
		if wait := target.Sub(tc.wall()); wait > 0 {
			tc.sleep(wait)
		}
	}

	for _, fn := range listeners {
		fn(simTime)
	}
}
