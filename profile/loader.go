package profile

import (
	"encoding/json"
	"fmt"
	"io"
)

// internal JSON shapes, unexported so the file format can evolve.
type profileSetJSON struct {
	Default  string        `json:"default"`
	Profiles []profileJSON `json:"profiles"`
}

type profileJSON struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	AngleDegrees    float64 `json:"angle_degrees"`
	LaunchHeight    float64 `json:"launch_height_m"`
	TargetHeight    float64 `json:"target_height_m"`
	Points          []Point `json:"points"`
	MinSafeDistance float64 `json:"min_safe_distance_m"`
	MaxSafeDistance float64 `json:"max_safe_distance_m"`
	DefaultSpeed    float64 `json:"default_rpm"`
}

// LoadRegistry reads a profile set from r. An empty "default" falls back to
// DefaultProfileName. Any malformed profile fails the whole load.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var payload profileSetJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode profile set: %v", ErrInvalidProfile, err)
	}
	if len(payload.Profiles) == 0 {
		return nil, fmt.Errorf("%w: profile set is empty", ErrInvalidProfile)
	}

	configs := make([]TableConfig, 0, len(payload.Profiles))
	for _, p := range payload.Profiles {
		configs = append(configs, TableConfig{
			Name:            p.Name,
			Description:     p.Description,
			Points:          p.Points,
			MinSafeDistance: p.MinSafeDistance,
			MaxSafeDistance: p.MaxSafeDistance,
			DefaultSpeed:    p.DefaultSpeed,
			AngleDegrees:    p.AngleDegrees,
			LaunchHeight:    p.LaunchHeight,
			TargetHeight:    p.TargetHeight,
		})
	}

	def := payload.Default
	if def == "" {
		def = DefaultProfileName
	}
	return BuildRegistry(def, configs)
}
