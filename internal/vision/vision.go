// Package vision provides distance-to-target sources for the launcher.
package vision

import (
	"math"
	"sync"
)

// SimulatedDistance is reported by the fixed source when no camera is
// attached.
const SimulatedDistance = 3.0

// TestDistanceKey is the dashboard entry an operator tunes for test shots.
const TestDistanceKey = "Test Distance (m)"

// Fixed reports a constant distance. It is safe for concurrent use.
type Fixed struct {
	mu sync.RWMutex
	d  float64
}

// NewFixed returns a source reporting d.
func NewFixed(d float64) *Fixed { return &Fixed{d: d} }

// CurrentDistance returns the configured distance.
func (f *Fixed) CurrentDistance() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.d
}

// Set changes the reported distance.
func (f *Fixed) Set(d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.d = d
}

// NumberReader reads a dashboard number.
type NumberReader interface {
	GetNumber(key string, def float64) float64
}

// DashboardDistance reads the distance from a dashboard key, so an operator
// or an off-board tracker can feed it.
type DashboardDistance struct {
	table NumberReader
	key   string
	def   float64
}

// NewDashboardDistance reads key from table, returning def while the key is
// unset or holds a non-finite value.
func NewDashboardDistance(table NumberReader, key string, def float64) *DashboardDistance {
	return &DashboardDistance{table: table, key: key, def: def}
}

// CurrentDistance returns the dashboard value.
func (d *DashboardDistance) CurrentDistance() float64 {
	v := d.table.GetNumber(d.key, d.def)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return d.def
	}
	return v
}
