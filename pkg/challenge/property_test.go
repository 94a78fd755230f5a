package challenge

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// step codes driven by the generators below.
const (
	stepHeld = iota
	stepBroken
	stepShortWait
	stepHoldWait
	stepYaw
	stepCount
)

func runSteps(m *Machine, clk *fakeClock, steps []int, yaws []float64, check func() bool) bool {
	for i, s := range steps {
		st := m.Snapshot()
		switch s {
		case stepHeld:
			_, _ = m.Evaluate(heldFor(st.Task.Kind))
		case stepBroken:
			_, _ = m.Evaluate(brokenFor(st.Task.Kind))
		case stepShortWait:
			clk.Advance(500 * time.Millisecond)
		case stepHoldWait:
			clk.Advance(DefaultHold)
		case stepYaw:
			yaw := 0.0
			if len(yaws) > 0 {
				yaw = yaws[i%len(yaws)]
			}
			_, _ = m.Evaluate(FaceMeasurement{YawDegrees: yaw, SmilingProbability: 0.5})
		}
		if !check() {
			return false
		}
	}
	return true
}

func TestMachineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	steps := gen.SliceOf(gen.IntRange(0, stepCount-1))
	yaws := gen.SliceOf(gen.Float64Range(-MaxYawDegrees, MaxYawDegrees))

	properties.Property("at most one debounce timer is live", prop.ForAll(
		func(steps []int, yaws []float64) bool {
			m, clk, _ := newTestMachine(t, nil)
			m.Start()
			return runSteps(m, clk, steps, yaws, func() bool {
				active := clk.Active()
				return active <= 1 && (active == 1) == m.Snapshot().TimerPending
			})
		},
		steps, yaws,
	))

	properties.Property("index only moves forward one task at a time", prop.ForAll(
		func(steps []int, yaws []float64) bool {
			m, clk, rec := newTestMachine(t, nil)
			m.Start()
			last := 0
			ok := runSteps(m, clk, steps, yaws, func() bool {
				idx := m.Snapshot().Index
				if idx != last && idx != last+1 {
					return false
				}
				last = idx
				return idx < m.Challenge().TaskCount()
			})
			return ok && rec.Completions() <= 1
		},
		steps, yaws,
	))

	properties.Property("advance events follow challenge order", prop.ForAll(
		func(steps []int, yaws []float64) bool {
			m, clk, rec := newTestMachine(t, nil)
			m.Start()
			runSteps(m, clk, steps, yaws, func() bool { return true })

			kinds := rec.advances()
			if len(kinds) > len(DefaultKinds) {
				return false
			}
			for i, k := range kinds {
				if DefaultKinds[i] != k {
					return false
				}
			}
			return true
		},
		steps, yaws,
	))

	properties.Property("holding every pose completes exactly once", prop.ForAll(
		func(n int, holdMillis int) bool {
			kinds := DefaultKinds[:n]
			c, err := New(TasksFor(kinds, DefaultLocale), WithHold(time.Duration(holdMillis)*time.Millisecond))
			if err != nil {
				return false
			}
			m, clk, rec := newTestMachine(t, c)
			m.Start()
			for _, k := range kinds {
				_, _ = m.Evaluate(heldFor(k))
				clk.Advance(c.Hold())
			}
			return len(rec.Progress()) == n && rec.Completions() == 1
		},
		gen.IntRange(1, len(DefaultKinds)),
		gen.IntRange(1, 5000),
	))

	properties.TestingRun(t)
}
