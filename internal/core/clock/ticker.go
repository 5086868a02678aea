// Package clock implements the client command frame clock and its drift correction.
package clock

import (
	"time"

	"github.com/zeusync/netsync/internal/core/models"
)

// DefaultTickRate is the nominal simulation rate in ticks per second.
const DefaultTickRate = 60.0

// Option configures a Ticker.
type Option func(*Ticker)

// WithNow replaces the wall clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Ticker) { t.now = now }
}

// WithCommandFrame sets the initial frame.
func WithCommandFrame(frame models.CommandFrame) Option {
	return func(t *Ticker) { t.frame = frame }
}

// Ticker is a cooperative frame counter. It never blocks; callers poll TryTick once per
// scheduler pass. It is owned by a single tick loop and carries no locks.
type Ticker struct {
	frame   models.CommandFrame
	nominal float64
	rate    float64
	last    time.Time
	now     func() time.Time
}

// NewTicker creates a ticker running at rate ticks per second.
func NewTicker(rate float64, opts ...Option) *Ticker {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	t := &Ticker{
		nominal: rate,
		rate:    rate,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.last = t.now()
	return t
}

// TryTick advances the frame when at least one effective interval elapsed since the
// previous tick. It reports whether a tick happened. Late polls keep the cadence; a stall
// longer than two intervals restarts it instead of replaying the backlog.
func (t *Ticker) TryTick() bool {
	now := t.now()
	interval := t.Interval()
	if now.Sub(t.last) < interval {
		return false
	}
	t.last = t.last.Add(interval)
	if now.Sub(t.last) >= interval {
		t.last = now
	}
	t.frame++
	return true
}

func (t *Ticker) CommandFrame() models.CommandFrame {
	return t.frame
}

// SetCommandFrame hard-resets the frame counter.
func (t *Ticker) SetCommandFrame(frame models.CommandFrame) {
	t.frame = frame
}

// AdjustSimulation changes the effective rate going forward. The frame is untouched.
func (t *Ticker) AdjustSimulation(rate float64) {
	if rate <= 0 {
		return
	}
	t.rate = rate
}

// DefaultSimulationSpeed is the nominal rate the ticker was created with.
func (t *Ticker) DefaultSimulationSpeed() float64 {
	return t.nominal
}

// SimulationSpeed is the current effective rate.
func (t *Ticker) SimulationSpeed() float64 {
	return t.rate
}

// SpeedFactor is the current rate relative to the nominal one.
func (t *Ticker) SpeedFactor() float64 {
	return t.rate / t.nominal
}

// Interval is the effective wall time between two ticks.
func (t *Ticker) Interval() time.Duration {
	return time.Duration(float64(time.Second) / t.rate)
}
