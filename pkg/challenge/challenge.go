package challenge

import (
	"time"
)

// DefaultHold is how long a pose must be held before the challenge advances.
const DefaultHold = 3 * time.Second

// Challenge is an immutable, ordered list of tasks together with the hold
// duration and classification thresholds used to judge them.
type Challenge struct {
	tasks      []Task
	hold       time.Duration
	thresholds Thresholds
}

// Option configures a Challenge.
type Option func(*Challenge)

// WithHold sets how long each pose must be held.
func WithHold(d time.Duration) Option {
	return func(c *Challenge) { c.hold = d }
}

// WithHoldSeconds sets the hold duration in whole seconds.
func WithHoldSeconds(s int) Option {
	return WithHold(time.Duration(s) * time.Second)
}

// WithThresholds replaces the classification thresholds.
func WithThresholds(th Thresholds) Option {
	return func(c *Challenge) { c.thresholds = th }
}

// New builds a challenge from tasks in completion order. It fails with
// ErrInvalidConfiguration when tasks is empty, contains an unknown or
// duplicate kind, or when an option sets an out-of-range value.
func New(tasks []Task, opts ...Option) (*Challenge, error) {
	if len(tasks) == 0 {
		return nil, configErrorf("challenge needs at least one task")
	}

	c := &Challenge{
		tasks:      make([]Task, len(tasks)),
		hold:       DefaultHold,
		thresholds: DefaultThresholds(),
	}
	copy(c.tasks, tasks)

	for _, opt := range opts {
		opt(c)
	}

	seen := make(map[Kind]bool, len(c.tasks))
	for i, t := range c.tasks {
		if !t.Kind.Valid() {
			return nil, configErrorf("task %d has unknown kind %d", i, int(t.Kind))
		}
		if seen[t.Kind] {
			return nil, configErrorf("task %d repeats kind %s", i, t.Kind)
		}
		seen[t.Kind] = true
	}

	if c.hold <= 0 {
		return nil, configErrorf("hold duration must be positive, got %v", c.hold)
	}
	if err := c.thresholds.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Default returns the standard LookStraight, Smile, TurnLeft challenge.
func Default() *Challenge {
	c, err := New(DefaultTasks())
	if err != nil {
		panic("challenge: default challenge invalid: " + err.Error())
	}
	return c
}

// TaskAt returns the task at index i.
func (c *Challenge) TaskAt(i int) (Task, bool) {
	if i < 0 || i >= len(c.tasks) {
		return Task{}, false
	}
	return c.tasks[i], true
}

// TaskCount returns the number of tasks.
func (c *Challenge) TaskCount() int {
	return len(c.tasks)
}

// IsLastTask reports whether i is the index of the final task.
func (c *Challenge) IsLastTask(i int) bool {
	return i == len(c.tasks)-1
}

// Tasks returns a copy of the task list.
func (c *Challenge) Tasks() []Task {
	out := make([]Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Hold returns the pose hold duration.
func (c *Challenge) Hold() time.Duration {
	return c.hold
}

// Thresholds returns the classification thresholds.
func (c *Challenge) Thresholds() Thresholds {
	return c.thresholds
}
