package profile

// Measured from the launcher exit to the floor and from the floor to the
// target opening.
const (
	LaunchHeightMeters = 0.58
	TargetHeightMeters = 2.05
)

// DefaultProfileName is selected at startup and whenever a requested
// profile does not exist.
const DefaultProfileName = "BALANCED"

// BuiltinConfigs returns the calibration set shipped with the robot.
func BuiltinConfigs() []TableConfig {
	return []TableConfig{
		{
			Name:         "BALANCED",
			Description:  "45° All-Purpose (1.5-5.0m)",
			AngleDegrees: 45.0,
			Points: []Point{
				{1.5, 2600}, {2.0, 3000}, {2.5, 3450}, {3.0, 3950},
				{3.5, 4500}, {4.0, 5100}, {4.5, 5750}, {5.0, 6450},
			},
			MinSafeDistance: 1.5,
			MaxSafeDistance: 5.0,
			DefaultSpeed:    3800,
		},
		{
			Name:         "STEEP_CLOSE",
			Description:  "60° Over Defense (1.0-3.5m)",
			AngleDegrees: 60.0,
			Points: []Point{
				{1.0, 2200}, {1.5, 2500}, {2.0, 2900},
				{2.5, 3400}, {3.0, 4000}, {3.5, 4700},
			},
			MinSafeDistance: 1.0,
			MaxSafeDistance: 3.5,
			DefaultSpeed:    3000,
		},
		{
			Name:         "FLAT_LONG",
			Description:  "35° Long Range (2.5-6.0m)",
			AngleDegrees: 35.0,
			Points: []Point{
				{2.5, 3800}, {3.0, 4200}, {3.5, 4650}, {4.0, 5150},
				{4.5, 5700}, {5.0, 6300}, {5.5, 6950}, {6.0, 7650},
			},
			MinSafeDistance: 2.5,
			MaxSafeDistance: 6.0,
			DefaultSpeed:    4500,
		},
		{
			Name:         "EXPERIMENTAL",
			Description:  "Test Config (47° - USE CAUTION)",
			AngleDegrees: 47.0,
			Points: []Point{
				{1.5, 2700}, {2.0, 3100}, {2.5, 3550}, {3.0, 4050},
				{3.5, 4600}, {4.0, 5200}, {4.5, 5850},
			},
			MinSafeDistance: 1.5,
			MaxSafeDistance: 4.5,
			DefaultSpeed:    3900,
		},
	}
}

// NewBuiltinRegistry builds the shipped calibration set with BALANCED active.
func NewBuiltinRegistry() (*Registry, error) {
	return BuildRegistry(DefaultProfileName, BuiltinConfigs())
}

// BuildRegistry validates every config and registers the results. Launch and
// target heights default to the robot's measured values when left zero.
func BuildRegistry(defaultName string, configs []TableConfig) (*Registry, error) {
	tables := make([]*Table, 0, len(configs))
	for _, cfg := range configs {
		if cfg.LaunchHeight == 0 {
			cfg.LaunchHeight = LaunchHeightMeters
		}
		if cfg.TargetHeight == 0 {
			cfg.TargetHeight = TargetHeightMeters
		}
		t, err := NewTable(cfg)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return NewRegistry(defaultName, tables...)
}
