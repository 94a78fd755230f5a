package challenge

import (
	"errors"
	"fmt"
)

// Sentinel errors for the challenge package.
var (
	// ErrInvalidConfiguration is returned when a challenge cannot be built
	// from the supplied tasks or options.
	ErrInvalidConfiguration = errors.New("challenge: invalid configuration")

	// ErrInvalidMeasurement is returned when a frame carries values outside
	// the measurement domain. The frame is skipped and state is unchanged.
	ErrInvalidMeasurement = errors.New("challenge: invalid measurement")

	// ErrSessionClosed is returned by Session methods once its run loop has
	// exited.
	ErrSessionClosed = errors.New("challenge: session closed")
)

// ConfigError describes why a challenge definition was rejected.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfiguration, e.Reason)
}

// Unwrap returns ErrInvalidConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// MeasurementError names the offending field of a rejected measurement.
type MeasurementError struct {
	Field string
	Value float64
}

// Error implements the error interface.
func (e *MeasurementError) Error() string {
	return fmt.Sprintf("%s: %s=%v", ErrInvalidMeasurement, e.Field, e.Value)
}

// Unwrap returns ErrInvalidMeasurement.
func (e *MeasurementError) Unwrap() error {
	return ErrInvalidMeasurement
}
