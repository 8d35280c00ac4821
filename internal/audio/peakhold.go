package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak is held before it may decay.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks the held peak for the level meter.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder at MinDB that holds peaks for d.
// A non-positive d selects DefaultPeakHoldDuration.
func NewPeakHolder(d time.Duration) *PeakHolder {
	if d <= 0 {
		d = DefaultPeakHoldDuration
	}
	return &PeakHolder{held: MinDB, holdDuration: d}
}

// Update records peak at now and returns the held peak.
func (p *PeakHolder) Update(peak float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peak >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = peak
		p.heldAt = now
	}
	return p.held
}

// Held returns the current held peak without updating it.
func (p *PeakHolder) Held() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = MinDB
	p.heldAt = time.Time{}
}
