package challenge

import (
	"math"
	"time"
)

// FaceMeasurement is what the face detector reports for one analyzed frame.
//
// YawDegrees is the head rotation around the vertical axis, as a front-camera
// detector reports its Euler-Y angle. Zero faces the camera. Negative values
// mean the subject turned their head to their own left, positive values to
// their right.
type FaceMeasurement struct {
	YawDegrees         float64   `json:"yaw"`
	SmilingProbability float64   `json:"smile"`
	FrameID            uint64    `json:"frame_id,omitempty"`
	CapturedAt         time.Time `json:"captured_at,omitempty"`
}

// MaxYawDegrees bounds the yaw a detector can meaningfully report.
const MaxYawDegrees = 180.0

// Validate checks that the measurement is inside the value domain.
func (m FaceMeasurement) Validate() error {
	if math.IsNaN(m.YawDegrees) || math.IsInf(m.YawDegrees, 0) || math.Abs(m.YawDegrees) > MaxYawDegrees {
		return &MeasurementError{Field: "yaw", Value: m.YawDegrees}
	}
	if math.IsNaN(m.SmilingProbability) || m.SmilingProbability < 0 || m.SmilingProbability > 1 {
		return &MeasurementError{Field: "smile", Value: m.SmilingProbability}
	}
	return nil
}

// Thresholds are the pose classification limits.
type Thresholds struct {
	// YawBandDegrees is the half-width of the open "facing the camera" band.
	// TurnLeft holds at or beyond its negative edge.
	YawBandDegrees float64 `json:"yaw_band" yaml:"yaw_band"`

	// SmileFloor is the minimum smiling probability for Smile to hold.
	SmileFloor float64 `json:"smile_floor" yaml:"smile_floor"`
}

// DefaultThresholds returns a ±10° band and a 0.30 smile floor.
func DefaultThresholds() Thresholds {
	return Thresholds{
		YawBandDegrees: 10,
		SmileFloor:     0.30,
	}
}

func (th Thresholds) validate() error {
	if !(th.YawBandDegrees > 0) || th.YawBandDegrees >= MaxYawDegrees {
		return configErrorf("yaw band must be in (0, %v), got %v", MaxYawDegrees, th.YawBandDegrees)
	}
	if !(th.SmileFloor > 0) || th.SmileFloor > 1 {
		return configErrorf("smile floor must be in (0, 1], got %v", th.SmileFloor)
	}
	return nil
}

// Verdict is the outcome of evaluating one frame.
type Verdict int

const (
	// VerdictIgnored means the frame arrived while no task was active.
	VerdictIgnored Verdict = iota
	// VerdictHeld means the active task's pose holds.
	VerdictHeld
	// VerdictBroken means the active task's pose does not hold.
	VerdictBroken
)

// String returns the wire name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictHeld:
		return "held"
	case VerdictBroken:
		return "broken"
	default:
		return "ignored"
	}
}

func facingCamera(m FaceMeasurement, th Thresholds) bool {
	return m.YawDegrees > -th.YawBandDegrees && m.YawDegrees < th.YawBandDegrees
}

func lookingStraight(m FaceMeasurement, th Thresholds) bool {
	return facingCamera(m, th)
}

func smiling(m FaceMeasurement, th Thresholds) bool {
	return facingCamera(m, th) && m.SmilingProbability >= th.SmileFloor
}

func turnedLeft(m FaceMeasurement, th Thresholds) bool {
	return m.YawDegrees <= -th.YawBandDegrees
}

// Holds reports whether m satisfies the pose for kind k. Unknown kinds never
// hold.
func (k Kind) Holds(m FaceMeasurement, th Thresholds) bool {
	switch k {
	case LookStraight:
		return lookingStraight(m, th)
	case Smile:
		return smiling(m, th)
	case TurnLeft:
		return turnedLeft(m, th)
	default:
		return false
	}
}
