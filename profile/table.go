// Package profile holds the distance to wheel-speed calibration curves and
// the registry that selects which one drives the launcher.
package profile

import (
	"fmt"
	"math"
	"sort"
)

// Point is one calibration sample: a distance in metres and the wheel speed
// in RPM that lands a shot from there.
type Point struct {
	Distance float64 `json:"distance"`
	Speed    float64 `json:"speed"`
}

// TableConfig is the static description a Table is built from.
type TableConfig struct {
	Name            string
	Description     string
	Points          []Point
	MinSafeDistance float64
	MaxSafeDistance float64
	DefaultSpeed    float64
	AngleDegrees    float64
	LaunchHeight    float64
	TargetHeight    float64
}

// Table is an immutable piecewise-linear distance to speed mapping with a
// validated safe operating interval.
type Table struct {
	name        string
	description string
	points      []Point

	minSafe      float64
	maxSafe      float64
	defaultSpeed float64

	angleDegrees float64
	launchHeight float64
	targetHeight float64
}

// NewTable validates cfg and builds a Table. Points must be strictly
// increasing by distance; they are not reordered.
func NewTable(cfg TableConfig) (*Table, error) {
	if cfg.Name == "" {
		return nil, invalid(cfg.Name, "empty name")
	}
	if len(cfg.Points) < 2 {
		return nil, invalid(cfg.Name, "need at least 2 control points, got %d", len(cfg.Points))
	}
	for i, p := range cfg.Points {
		if !finite(p.Distance) || !finite(p.Speed) {
			return nil, invalid(cfg.Name, "control point %d is not finite", i)
		}
		if i > 0 && p.Distance <= cfg.Points[i-1].Distance {
			return nil, invalid(cfg.Name, "control point %d distance %.3f does not increase past %.3f",
				i, p.Distance, cfg.Points[i-1].Distance)
		}
	}
	for _, v := range []float64{cfg.MinSafeDistance, cfg.MaxSafeDistance, cfg.DefaultSpeed} {
		if !finite(v) {
			return nil, invalid(cfg.Name, "safe range and default speed must be finite")
		}
	}
	if cfg.MinSafeDistance > cfg.MaxSafeDistance {
		return nil, invalid(cfg.Name, "min safe distance %.2f exceeds max %.2f", cfg.MinSafeDistance, cfg.MaxSafeDistance)
	}

	points := make([]Point, len(cfg.Points))
	copy(points, cfg.Points)

	return &Table{
		name:         cfg.Name,
		description:  cfg.Description,
		points:       points,
		minSafe:      cfg.MinSafeDistance,
		maxSafe:      cfg.MaxSafeDistance,
		defaultSpeed: cfg.DefaultSpeed,
		angleDegrees: cfg.AngleDegrees,
		launchHeight: cfg.LaunchHeight,
		targetHeight: cfg.TargetHeight,
	}, nil
}

// MustTable is NewTable for static configuration known to be valid.
func MustTable(cfg TableConfig) *Table {
	t, err := NewTable(cfg)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the registry key of the profile.
func (t *Table) Name() string { return t.name }

// Description returns the human-readable summary shown on the dashboard.
func (t *Table) Description() string { return t.description }

// MinSafeDistance returns the lower edge of the safe interval in metres.
func (t *Table) MinSafeDistance() float64 { return t.minSafe }

// MaxSafeDistance returns the upper edge of the safe interval in metres.
func (t *Table) MaxSafeDistance() float64 { return t.maxSafe }

// DefaultSpeed returns the wheel speed used when no distance is known.
func (t *Table) DefaultSpeed() float64 { return t.defaultSpeed }

// AngleDegrees returns the launch angle the table was calibrated at.
func (t *Table) AngleDegrees() float64 { return t.angleDegrees }

// LaunchHeight returns the exit height of the launcher in metres.
func (t *Table) LaunchHeight() float64 { return t.launchHeight }

// TargetHeight returns the height of the target in metres.
func (t *Table) TargetHeight() float64 { return t.targetHeight }

// Points returns a copy of the control points.
func (t *Table) Points() []Point {
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Domain returns the first and last control point distances.
func (t *Table) Domain() (float64, float64) {
	return t.points[0].Distance, t.points[len(t.points)-1].Distance
}

// SpeedForDistance interpolates the wheel speed for distance. Outside the
// control point domain it never extrapolates: it returns the nearest boundary
// speed together with a *RangeError.
func (t *Table) SpeedForDistance(distance float64) (float64, error) {
	first, last := t.points[0], t.points[len(t.points)-1]
	switch {
	case math.IsNaN(distance):
		return first.Speed, &RangeError{Profile: t.name, Distance: distance, Bound: first.Distance, Side: Below}
	case distance < first.Distance:
		return first.Speed, &RangeError{Profile: t.name, Distance: distance, Bound: first.Distance, Side: Below}
	case distance > last.Distance:
		return last.Speed, &RangeError{Profile: t.name, Distance: distance, Bound: last.Distance, Side: Above}
	}

	// First index whose distance is >= the query.
	i := sort.Search(len(t.points), func(i int) bool { return t.points[i].Distance >= distance })
	hi := t.points[i]
	if hi.Distance == distance {
		return hi.Speed, nil
	}
	lo := t.points[i-1]
	return lo.Speed + (hi.Speed-lo.Speed)*(distance-lo.Distance)/(hi.Distance-lo.Distance), nil
}

// IsInSafeRange reports whether distance lies inside the safe interval. The
// safe interval is independent of the interpolation domain.
func (t *Table) IsInSafeRange(distance float64) bool {
	return distance >= t.minSafe && distance <= t.maxSafe
}

// ClampToSafeRange returns distance clamped into the safe interval, with a
// *RangeError when clamping was needed.
func (t *Table) ClampToSafeRange(distance float64) (float64, error) {
	switch {
	case math.IsNaN(distance) || distance < t.minSafe:
		return t.minSafe, &RangeError{Profile: t.name, Distance: distance, Bound: t.minSafe, Side: Below, Safe: true}
	case distance > t.maxSafe:
		return t.maxSafe, &RangeError{Profile: t.name, Distance: distance, Bound: t.maxSafe, Side: Above, Safe: true}
	}
	return distance, nil
}

// DisplayName is the label shown in the profile chooser.
func (t *Table) DisplayName() string {
	return t.name + " - " + t.description
}

func (t *Table) String() string {
	return fmt.Sprintf("ProfileTable[%s, %.1f°, %.1f-%.1fm]", t.name, t.angleDegrees, t.minSafe, t.maxSafe)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
