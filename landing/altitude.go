package landing

import (
	"math"
	"sync"
	"time"
)

// DefaultAltitudeMeters stands in before the first rangefinder sample
// arrives. It must be strictly positive so scale estimation never divides
// against a zero depth on startup.
const DefaultAltitudeMeters = 1.0

// AltitudeCell holds the most recent ground-clearance measurement. The
// sensor path overwrites it, the vision path snapshots it; neither ever
// blocks the other for long. Only the latest value is kept.
type AltitudeCell struct {
	mu     sync.RWMutex
	meters float64
	at     time.Time
}

func NewAltitudeCell() *AltitudeCell {
	return &AltitudeCell{meters: DefaultAltitudeMeters}
}

// Update overwrites the cell with a new sample. Negative or non-finite
// readings are dropped and the prior value retained, so a transient bad
// sensor reading cannot corrupt scale estimation for subsequent frames.
func (c *AltitudeCell) Update(meters float64) {
	if meters < 0 || math.IsNaN(meters) || math.IsInf(meters, 0) {
		return
	}
	c.mu.Lock()
	c.meters = meters
	c.at = time.Now()
	c.mu.Unlock()
}

// Current returns the last good value. It never blocks and never fails;
// before the first real sample it returns the startup placeholder.
func (c *AltitudeCell) Current() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meters
}

// CurrentWithAge returns the last good value along with how long ago it was
// observed. ok is false until the first real sample has arrived.
func (c *AltitudeCell) CurrentWithAge() (meters float64, age time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.at.IsZero() {
		return c.meters, 0, false
	}
	return c.meters, time.Since(c.at), true
}
