// Package script replays scripted face measurements into a challenge, either
// a local Session or a remote liveness server. Scripts are YAML documents
// made of timed pose steps and control actions.
package script

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-liveness/pkg/challenge"
)

var (
	// ErrInvalidScript is returned when a script document is malformed.
	ErrInvalidScript = errors.New("invalid script")

	// ErrAlreadyPlaying is returned when Play is called during playback.
	ErrAlreadyPlaying = errors.New("script already playing")
)

// DefaultFrameRate is used when a script does not set fps.
const DefaultFrameRate = 10.0

// Action is a control step.
type Action string

const (
	ActionStart Action = "start"
	ActionReset Action = "reset"
	ActionStop  Action = "stop"
)

// Step is either a control action or a pose held for Duration.
type Step struct {
	Action   Action        `yaml:"action,omitempty"`
	Note     string        `yaml:"note,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Yaw      float64       `yaml:"yaw"`
	Smile    float64       `yaml:"smile"`
}

// Frames returns how many frames the step emits at fps.
func (s Step) Frames(fps float64) int {
	if s.Action != "" || s.Duration <= 0 {
		return 0
	}
	n := int(math.Round(s.Duration.Seconds() * fps))
	if n < 1 {
		n = 1
	}
	return n
}

// Measurement returns the step's pose as a face measurement.
func (s Step) Measurement() challenge.FaceMeasurement {
	return challenge.FaceMeasurement{
		YawDegrees:         s.Yaw,
		SmilingProbability: s.Smile,
	}
}

// Script is a named sequence of steps.
type Script struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	FrameRate   float64 `yaml:"fps,omitempty"`
	Steps       []Step  `yaml:"steps"`
}

// Duration is the total time covered by pose steps.
func (s *Script) Duration() time.Duration {
	var d time.Duration
	for _, st := range s.Steps {
		if st.Action == "" {
			d += st.Duration
		}
	}
	return d
}

// FrameCount returns how many frames the script sends at fps. A
// non-positive fps uses the script's own rate.
func (s *Script) FrameCount(fps float64) int {
	if fps <= 0 {
		fps = s.fps()
	}
	n := 0
	for _, st := range s.Steps {
		n += st.Frames(fps)
	}
	return n
}

// Validate checks the script structure. Measurement values are not checked
// here; out-of-range poses are allowed so scripts can exercise rejection.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: %q has no steps", ErrInvalidScript, s.Name)
	}
	if s.FrameRate < 0 || math.IsNaN(s.FrameRate) || math.IsInf(s.FrameRate, 0) {
		return fmt.Errorf("%w: %q has fps %v", ErrInvalidScript, s.Name, s.FrameRate)
	}
	for i, st := range s.Steps {
		switch st.Action {
		case "":
			if st.Duration <= 0 {
				return fmt.Errorf("%w: %q step %d needs a positive duration", ErrInvalidScript, s.Name, i)
			}
		case ActionStart, ActionReset, ActionStop:
		default:
			return fmt.Errorf("%w: %q step %d has unknown action %q", ErrInvalidScript, s.Name, i, st.Action)
		}
	}
	return nil
}

// fps returns the effective frame rate.
func (s *Script) fps() float64 {
	if s.FrameRate > 0 {
		return s.FrameRate
	}
	return DefaultFrameRate
}

// Parse decodes and validates a YAML script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
