package challenge

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameStep = 100 * time.Millisecond

func newTestMachine(t *testing.T, c *Challenge) (*Machine, *fakeClock, *recorder) {
	t.Helper()
	if c == nil {
		c = Default()
	}
	clk := newFakeClock()
	rec := &recorder{}
	m := NewMachine(c, rec, WithScheduler(clk), WithClock(clk))
	return m, clk, rec
}

// feed evaluates fm once per frameStep for d, advancing the clock after
// each frame.
func feed(t *testing.T, m *Machine, clk *fakeClock, fm FaceMeasurement, d time.Duration) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < d; elapsed += frameStep {
		_, err := m.Evaluate(fm)
		require.NoError(t, err)
		clk.Advance(frameStep)
	}
}

func TestMachine_StartEmitsFirstTask(t *testing.T) {
	m, _, rec := newTestMachine(t, nil)

	m.Start()

	events := rec.Progress()
	require.Len(t, events, 1)
	assert.Equal(t, LookStraight, events[0].Task.Kind)
	assert.Equal(t, 0, events[0].Index)
	assert.Equal(t, 3, events[0].Count)
	assert.Equal(t, CauseStart, events[0].Cause)

	st := m.Snapshot()
	assert.True(t, st.Running)
	assert.False(t, st.TimerPending)
}

func TestMachine_FramesBeforeStartAreIgnored(t *testing.T) {
	m, clk, rec := newTestMachine(t, nil)

	v, err := m.Evaluate(heldFor(LookStraight))
	require.NoError(t, err)
	assert.Equal(t, VerdictIgnored, v)
	assert.Equal(t, 0, clk.Started())
	assert.Empty(t, rec.Progress())
}

func TestMachine_ThreeTaskScenario(t *testing.T) {
	m, clk, rec := newTestMachine(t, nil)
	m.Start()

	// Hold straight for the full 3s.
	feed(t, m, clk, FaceMeasurement{YawDegrees: 0}, 3*time.Second)
	assert.Equal(t, []Kind{LookStraight, Smile}, rec.advances())

	// Smile for 1s, lose it for one frame, then smile for 3s.
	feed(t, m, clk, FaceMeasurement{YawDegrees: 0, SmilingProbability: 0.5}, time.Second)
	feed(t, m, clk, FaceMeasurement{YawDegrees: 0, SmilingProbability: 0.1}, frameStep)
	assert.Equal(t, 1, m.Snapshot().Index, "partial hold must not advance")

	feed(t, m, clk, FaceMeasurement{YawDegrees: 0, SmilingProbability: 0.5}, 3*time.Second)
	assert.Equal(t, []Kind{LookStraight, Smile, TurnLeft}, rec.advances())

	feed(t, m, clk, FaceMeasurement{YawDegrees: -15}, 3*time.Second)
	assert.Equal(t, 1, rec.Completions())
	assert.True(t, m.Snapshot().Completed)

	// The single break re-reported Smile, never LookStraight.
	var lost []Progress
	for _, p := range rec.Progress() {
		if p.Cause == CausePoseLost {
			lost = append(lost, p)
		}
	}
	require.Len(t, lost, 1)
	assert.Equal(t, Smile, lost[0].Task.Kind)
	assert.Equal(t, 1, lost[0].Index)
}

func TestMachine_TimerRestartsAfterBreak(t *testing.T) {
	m, clk, rec := newTestMachine(t, nil)
	m.Start()

	feed(t, m, clk, heldFor(LookStraight), 2900*time.Millisecond)
	feed(t, m, clk, brokenFor(LookStraight), frameStep)
	feed(t, m, clk, heldFor(LookStraight), 2900*time.Millisecond)

	assert.Equal(t, 0, m.Snapshot().Index)
	assert.Equal(t, []Kind{LookStraight}, rec.advances())

	feed(t, m, clk, heldFor(LookStraight), frameStep)
	assert.Equal(t, 1, m.Snapshot().Index)
}

func TestMachine_SustainedHoldDoesNotRestartTimer(t *testing.T) {
	m, clk, _ := newTestMachine(t, nil)
	m.Start()

	for i := 0; i < 10; i++ {
		v, err := m.Evaluate(heldFor(LookStraight))
		require.NoError(t, err)
		assert.Equal(t, VerdictHeld, v)
		clk.Advance(10 * time.Millisecond)
	}

	assert.Equal(t, 1, clk.Started(), "only the first held frame schedules a timer")
	assert.Equal(t, 1, clk.Active())
}

func TestMachine_RepeatedBreaksAreIdempotent(t *testing.T) {
	m, clk, rec := newTestMachine(t, nil)
	m.Start()
	feed(t, m, clk, heldFor(LookStraight), 3*time.Second)
	require.Equal(t, 1, m.Snapshot().Index)
	before := clk.Started()

	for i := 0; i < 25; i++ {
		v, err := m.Evaluate(brokenFor(Smile))
		require.NoError(t, err)
		assert.Equal(t, VerdictBroken, v)
	}

	assert.Equal(t, 1, m.Snapshot().Index)
	assert.Equal(t, before, clk.Started(), "breaks never start timers")
	assert.Equal(t, 0, clk.Active())

	events := rec.Progress()
	for _, p := range events[len(events)-25:] {
		assert.Equal(t, Smile, p.Task.Kind)
		assert.Equal(t, CausePoseLost, p.Cause)
	}
}

func TestMachine_YawBoundaryIsBroken(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		fm   FaceMeasurement
		want Verdict
	}{
		{"straight at +10", LookStraight, FaceMeasurement{YawDegrees: 10}, VerdictBroken},
		{"straight at -10", LookStraight, FaceMeasurement{YawDegrees: -10}, VerdictBroken},
		{"straight just inside", LookStraight, FaceMeasurement{YawDegrees: 9.999}, VerdictHeld},
		{"smile at +10", Smile, FaceMeasurement{YawDegrees: 10, SmilingProbability: 0.9}, VerdictBroken},
		{"smile at floor", Smile, FaceMeasurement{SmilingProbability: 0.30}, VerdictHeld},
		{"smile under floor", Smile, FaceMeasurement{SmilingProbability: 0.2999}, VerdictBroken},
		{"left at -10", TurnLeft, FaceMeasurement{YawDegrees: -10}, VerdictHeld},
		{"left at -9.99", TurnLeft, FaceMeasurement{YawDegrees: -9.99}, VerdictBroken},
		{"left turned right", TurnLeft, FaceMeasurement{YawDegrees: 30}, VerdictBroken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New([]Task{{Kind: tt.kind}})
			require.NoError(t, err)
			m, _, _ := newTestMachine(t, c)
			m.Start()

			v, err := m.Evaluate(tt.fm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestMachine_InvalidMeasurementLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		fm    FaceMeasurement
		field string
	}{
		{"nan yaw", FaceMeasurement{YawDegrees: math.NaN()}, "yaw"},
		{"inf yaw", FaceMeasurement{YawDegrees: math.Inf(-1)}, "yaw"},
		{"yaw out of range", FaceMeasurement{YawDegrees: 181}, "yaw"},
		{"nan smile", FaceMeasurement{SmilingProbability: math.NaN()}, "smile"},
		{"negative smile", FaceMeasurement{SmilingProbability: -1}, "smile"},
		{"smile above one", FaceMeasurement{SmilingProbability: 1.2}, "smile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clk, rec := newTestMachine(t, nil)
			m.Start()
			_, err := m.Evaluate(heldFor(LookStraight))
			require.NoError(t, err)
			before := m.Snapshot()

			v, err := m.Evaluate(tt.fm)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMeasurement))
			var merr *MeasurementError
			require.True(t, errors.As(err, &merr))
			assert.Equal(t, tt.field, merr.Field)
			assert.Equal(t, VerdictIgnored, v)

			assert.Equal(t, before, m.Snapshot())
			assert.Equal(t, 1, clk.Active())
			assert.Len(t, rec.Progress(), 1)
		})
	}
}

func TestMachine_StaleExpiryIsNoop(t *testing.T) {
	m, _, rec := newTestMachine(t, nil)
	m.Start()

	_, _ = m.Evaluate(heldFor(LookStraight))
	stale := m.Snapshot().Generation
	_, _ = m.Evaluate(brokenFor(LookStraight))
	_, _ = m.Evaluate(heldFor(LookStraight))
	current := m.Snapshot().Generation
	require.NotEqual(t, stale, current)

	assert.False(t, m.OnTimerExpired(stale), "cancelled timer must not advance")
	assert.Equal(t, 0, m.Snapshot().Index)

	assert.True(t, m.OnTimerExpired(current))
	assert.Equal(t, 1, m.Snapshot().Index)

	assert.False(t, m.OnTimerExpired(current), "second expiry of the same timer is a no-op")
	assert.Equal(t, 1, m.Snapshot().Index)
	assert.Equal(t, []Kind{LookStraight, Smile}, rec.advances())
}

func TestMachine_CompletedIsTerminal(t *testing.T) {
	c, err := New([]Task{{Kind: TurnLeft}}, WithHold(time.Second))
	require.NoError(t, err)
	m, clk, rec := newTestMachine(t, c)
	m.Start()

	feed(t, m, clk, heldFor(TurnLeft), time.Second)
	require.Equal(t, 1, rec.Completions())

	v, err := m.Evaluate(brokenFor(TurnLeft))
	require.NoError(t, err)
	assert.Equal(t, VerdictIgnored, v)
	feed(t, m, clk, heldFor(TurnLeft), 2*time.Second)

	assert.Equal(t, 1, rec.Completions(), "completion is reported exactly once")
	assert.Equal(t, 0, clk.Active())
}

func TestMachine_ResetMatchesFreshMachine(t *testing.T) {
	m, clk, _ := newTestMachine(t, nil)
	m.Start()
	feed(t, m, clk, heldFor(LookStraight), 3*time.Second)
	feed(t, m, clk, heldFor(Smile), time.Second)
	require.True(t, m.Snapshot().TimerPending)

	m.Reset()
	clk.Advance(10 * time.Second)

	fresh, _, _ := newTestMachine(t, nil)
	got, want := m.Snapshot(), fresh.Snapshot()
	assert.Equal(t, want.Index, got.Index)
	assert.Equal(t, want.Task, got.Task)
	assert.Equal(t, want.Running, got.Running)
	assert.Equal(t, want.Completed, got.Completed)
	assert.Equal(t, want.TimerPending, got.TimerPending)
	assert.Equal(t, 0, clk.Active())
}

func TestMachine_StopCancelsTimer(t *testing.T) {
	m, clk, rec := newTestMachine(t, nil)
	m.Start()
	_, _ = m.Evaluate(heldFor(LookStraight))
	require.Equal(t, 1, clk.Active())

	m.Stop()
	clk.Advance(5 * time.Second)

	assert.Equal(t, 0, m.Snapshot().Index)
	assert.Len(t, rec.Progress(), 1)

	v, err := m.Evaluate(heldFor(LookStraight))
	require.NoError(t, err)
	assert.Equal(t, VerdictIgnored, v)
}

func TestMachine_RestartAfterCompletion(t *testing.T) {
	c, err := New([]Task{{Kind: LookStraight}, {Kind: TurnLeft}}, WithHold(500*time.Millisecond))
	require.NoError(t, err)
	m, clk, rec := newTestMachine(t, c)

	m.Start()
	feed(t, m, clk, heldFor(LookStraight), 500*time.Millisecond)
	feed(t, m, clk, heldFor(TurnLeft), 500*time.Millisecond)
	require.Equal(t, 1, rec.Completions())

	m.Start()
	assert.Equal(t, 0, m.Snapshot().Index)
	assert.False(t, m.Snapshot().Completed)
	feed(t, m, clk, heldFor(LookStraight), 500*time.Millisecond)
	feed(t, m, clk, heldFor(TurnLeft), 500*time.Millisecond)
	assert.Equal(t, 2, rec.Completions())
}

func TestMachine_CompletionSummary(t *testing.T) {
	c, err := New([]Task{{Kind: Smile}}, WithHold(2*time.Second))
	require.NoError(t, err)

	clk := newFakeClock()
	var got Summary
	l := ListenerFuncs{OnAllTasksCompleted: func(s Summary) { got = s }}
	m := NewMachine(c, l, WithScheduler(clk), WithClock(clk))

	m.Start()
	clk.Advance(time.Second)
	feed(t, m, clk, heldFor(Smile), 2*time.Second)

	assert.Equal(t, 1, got.TaskCount)
	assert.Equal(t, 3*time.Second, got.Elapsed)
}

func TestMachine_NilListener(t *testing.T) {
	clk := newFakeClock()
	m := NewMachine(Default(), nil, WithScheduler(clk), WithClock(clk))

	assert.NotPanics(t, func() {
		m.Start()
		feed(t, m, clk, heldFor(LookStraight), 3*time.Second)
	})
	assert.Equal(t, 1, m.Snapshot().Index)
}

func TestMachine_RealTimerWithConcurrentCallers(t *testing.T) {
	c, err := New(DefaultTasks(), WithHold(time.Millisecond))
	require.NoError(t, err)
	m := NewMachine(c, nil)
	m.Start()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = m.Snapshot()
			}
		}
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && !m.Snapshot().Completed {
		st := m.Snapshot()
		_, err := m.Evaluate(heldFor(st.Task.Kind))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	st := m.Snapshot()
	assert.True(t, st.Completed)
	assert.Equal(t, c.TaskCount()-1, st.Index)
	assert.False(t, st.TimerPending)
}
