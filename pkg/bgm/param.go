package bgm

import (
	"sync"
	"time"
)

// ramp is a scheduled linear transition.
type ramp struct {
	from, to float64
	start    time.Time
	duration time.Duration
}

func (r *ramp) valueAt(t time.Time) float64 {
	if !t.After(r.start) {
		return r.from
	}
	elapsed := t.Sub(r.start)
	if elapsed >= r.duration {
		return r.to
	}
	frac := float64(elapsed) / float64(r.duration)
	return r.from + (r.to-r.from)*frac
}

// Param is an automatable gain value. It holds either a fixed value or a
// single linear ramp; scheduling a new ramp replaces the pending one.
type Param struct {
	mu    sync.Mutex
	value float64
	ramp  *ramp
}

// NewParam creates a parameter fixed at v.
func NewParam(v float64) *Param {
	return &Param{value: v}
}

// ValueAt returns the instantaneous value at t.
func (p *Param) ValueAt(t time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valueAtLocked(t)
}

func (p *Param) valueAtLocked(t time.Time) float64 {
	if p.ramp == nil {
		return p.value
	}
	return p.ramp.valueAt(t)
}

// Target returns the value the parameter settles at.
func (p *Param) Target() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ramp != nil {
		return p.ramp.to
	}
	return p.value
}

// Ramp returns the pending ramp's start and duration; ok is false when
// the parameter is fixed.
func (p *Param) Ramp() (start time.Time, duration time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ramp == nil {
		return time.Time{}, 0, false
	}
	return p.ramp.start, p.ramp.duration, true
}

// SetValue fixes the parameter at v, cancelling any ramp.
func (p *Param) SetValue(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ramp = nil
	p.value = v
}

// CancelAndHold cancels any ramp and freezes the value it had at t.
func (p *Param) CancelAndHold(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = p.valueAtLocked(t)
	p.ramp = nil
}

// LinearRampTo schedules a ramp from the value at start to target over d,
// replacing any pending ramp. A non-positive d sets target immediately.
func (p *Param) LinearRampTo(target float64, start time.Time, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.valueAtLocked(start)
	if d <= 0 {
		p.ramp = nil
		p.value = target
		return
	}
	p.ramp = &ramp{from: from, to: target, start: start, duration: d}
}
