package core

import (
	"fmt"
	"math"
)

// Free speed of a CIM motor at 12 V, no load.
const CIMFreeSpeedRPM = 5310.0

// OpenLoopModel converts a wheel speed into a bounded motor voltage from
// gearing and electrical constants alone. It holds no state.
type OpenLoopModel struct {
	GearRatio         float64 // motor revolutions per wheel revolution
	MotorFreeSpeedRPM float64
	MaxSupplyVoltage  float64
	MaxOutputFraction float64 // safety ceiling on the supply voltage, (0, 1]
}

// DefaultOpenLoopModel is a single CIM on a 1.5:1 reduction capped at 80%.
func DefaultOpenLoopModel() OpenLoopModel {
	return OpenLoopModel{
		GearRatio:         1.5,
		MotorFreeSpeedRPM: CIMFreeSpeedRPM,
		MaxSupplyVoltage:  12.0,
		MaxOutputFraction: 0.8,
	}
}

// NewOpenLoopModel validates the constants.
func NewOpenLoopModel(gearRatio, freeSpeedRPM, maxVoltage, maxFraction float64) (OpenLoopModel, error) {
	m := OpenLoopModel{
		GearRatio:         gearRatio,
		MotorFreeSpeedRPM: freeSpeedRPM,
		MaxSupplyVoltage:  maxVoltage,
		MaxOutputFraction: maxFraction,
	}
	if err := m.Validate(); err != nil {
		return OpenLoopModel{}, err
	}
	return m, nil
}

// Validate reports whether every constant is in range.
func (m OpenLoopModel) Validate() error {
	switch {
	case !(m.GearRatio > 0) || math.IsInf(m.GearRatio, 0):
		return fmt.Errorf("%w: gear ratio %v must be positive", ErrInvalidModel, m.GearRatio)
	case !(m.MotorFreeSpeedRPM > 0) || math.IsInf(m.MotorFreeSpeedRPM, 0):
		return fmt.Errorf("%w: motor free speed %v must be positive", ErrInvalidModel, m.MotorFreeSpeedRPM)
	case !(m.MaxSupplyVoltage > 0) || math.IsInf(m.MaxSupplyVoltage, 0):
		return fmt.Errorf("%w: supply voltage %v must be positive", ErrInvalidModel, m.MaxSupplyVoltage)
	case !(m.MaxOutputFraction > 0) || m.MaxOutputFraction > 1:
		return fmt.Errorf("%w: output fraction %v must be in (0, 1]", ErrInvalidModel, m.MaxOutputFraction)
	}
	return nil
}

// MaxVoltage is the highest voltage Voltage will ever return.
func (m OpenLoopModel) MaxVoltage() float64 {
	return m.MaxSupplyVoltage * m.MaxOutputFraction
}

// Voltage returns the command for wheelRPM, clamped to [0, MaxVoltage].
// Negative requests clamp to zero; reverse drive is not done through this model.
func (m OpenLoopModel) Voltage(wheelRPM float64) float64 {
	if math.IsNaN(wheelRPM) {
		return 0
	}
	motorRPM := m.WheelToMotor(wheelRPM)
	raw := motorRPM / m.MotorFreeSpeedRPM * m.MaxSupplyVoltage
	return math.Max(0, math.Min(m.MaxVoltage(), raw))
}

// EstimatedSpeed inverts Voltage. It is for display only.
func (m OpenLoopModel) EstimatedSpeed(volts float64) float64 {
	return volts / m.MaxSupplyVoltage * m.MotorFreeSpeedRPM / m.GearRatio
}

// WheelToMotor converts wheel RPM to motor RPM.
func (m OpenLoopModel) WheelToMotor(wheelRPM float64) float64 {
	return wheelRPM * m.GearRatio
}

// MotorToWheel converts motor RPM to wheel RPM.
func (m OpenLoopModel) MotorToWheel(motorRPM float64) float64 {
	return motorRPM / m.GearRatio
}
