package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProfile marks malformed static configuration. It is fatal at
	// construction: a malformed profile is never registered.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrProfileNotFound is returned by Registry.Select when the requested name
	// is absent; the registry has already fallen back to its default.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNoActiveProfile is returned when a speed is requested without any
	// resolvable profile; callers fall back to a fixed speed.
	ErrNoActiveProfile = errors.New("no active profile")
	// ErrDistanceOutOfRange signals a lookup outside the interpolation domain.
	ErrDistanceOutOfRange = errors.New("distance outside calibrated range")
	// ErrDistanceOutOfSafeRange signals a distance outside a profile's safe range.
	ErrDistanceOutOfSafeRange = errors.New("distance outside safe range")
)

// Side reports which bound a distance violated.
type Side int

const (
	Below Side = iota
	Above
)

func (s Side) String() string {
	if s == Above {
		return "above"
	}
	return "below"
}

// RangeError describes a recoverable range violation. The value returned
// alongside it is the clamped boundary value and is always usable.
type RangeError struct {
	Profile  string
	Distance float64
	Bound    float64
	Side     Side
	// Safe is true for safe-range violations and false for violations of the
	// interpolation domain.
	Safe bool
}

func (e *RangeError) Error() string {
	kind := "calibrated"
	if e.Safe {
		kind = "safe"
	}
	return fmt.Sprintf("profile %s: distance %.2fm %s %s bound %.2fm", e.Profile, e.Distance, e.Side, kind, e.Bound)
}

func (e *RangeError) Unwrap() error {
	if e.Safe {
		return ErrDistanceOutOfSafeRange
	}
	return ErrDistanceOutOfRange
}

func invalid(name, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidProfile, name, fmt.Sprintf(format, args...))
}
