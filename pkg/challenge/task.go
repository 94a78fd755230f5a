// Package challenge implements the liveness challenge: an ordered list of
// facial poses the user must hold, one after another, in front of a camera.
//
// The package consumes per-frame face measurements (head yaw and smiling
// probability) that some external detector has already computed. It never
// touches images. A Machine classifies each measurement against the active
// task, runs a single debounce timer while the pose holds and reports progress
// to a Listener. A Session wraps a Machine with a goroutine inbox so frames and
// timer expiries from different goroutines are applied one at a time.
package challenge

import (
	"fmt"
	"strings"
)

// Kind identifies a pose the user is asked to perform.
type Kind int

const (
	// LookStraight asks the user to face the camera.
	LookStraight Kind = iota + 1
	// Smile asks the user to smile while facing the camera.
	Smile
	// TurnLeft asks the user to turn their head to their left.
	TurnLeft
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case LookStraight:
		return "look_straight"
	case Smile:
		return "smile"
	case TurnLeft:
		return "turn_left"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case LookStraight, Smile, TurnLeft:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown task kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a kind name. Dashes, spaces and case are ignored, so
// "Look-Straight", "look straight" and "look_straight" are all accepted.
// "straight" and "left" are accepted as short forms.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	switch name {
	case "look_straight", "straight":
		return LookStraight, nil
	case "smile":
		return Smile, nil
	case "turn_left", "left", "left_face":
		return TurnLeft, nil
	default:
		return 0, fmt.Errorf("unknown task kind %q", s)
	}
}

// Task is a single step of a challenge. Tasks are values and never change
// after construction.
type Task struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// String returns the prompt, falling back to the kind name.
func (t Task) String() string {
	if t.Prompt != "" {
		return t.Prompt
	}
	return t.Kind.String()
}

// DefaultKinds is the standard challenge order.
var DefaultKinds = []Kind{LookStraight, Smile, TurnLeft}

// DefaultTasks returns the standard three-step challenge with English prompts.
func DefaultTasks() []Task {
	return TasksFor(DefaultKinds, DefaultLocale)
}

// TasksFor builds tasks for the given kinds using prompts in locale.
func TasksFor(kinds []Kind, locale string) []Task {
	prompts := PromptsFor(locale)
	tasks := make([]Task, 0, len(kinds))
	for _, k := range kinds {
		tasks = append(tasks, Task{Kind: k, Prompt: prompts[k]})
	}
	return tasks
}
