package challenge

import (
	"log/slog"
	"sync"
	"time"
)

// State is a point-in-time view of a Machine.
type State struct {
	Index        int  `json:"index"`
	Task         Task `json:"task"`
	TaskCount    int  `json:"task_count"`
	Running      bool `json:"running"`
	Completed    bool `json:"completed"`
	TimerPending bool `json:"timer_pending"`
	// Generation increases every time a debounce timer is started or
	// cancelled. Expiries carrying an older generation are ignored.
	Generation uint64 `json:"generation"`
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithScheduler sets the scheduler used for the debounce timer.
func WithScheduler(s Scheduler) MachineOption {
	return func(m *Machine) { m.sched = s }
}

// WithClock sets the clock used to measure elapsed challenge time.
func WithClock(c Clock) MachineOption {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// Machine is the challenge state machine.
//
// States are InProgress(index) and Completed. Only a debounce timer expiry
// changes the index; frame evaluation starts and cancels the timer and
// reports pose status.
//
// A Machine is safe for concurrent use: every method, including the debounce
// timer callback, runs under one mutex, so evaluation and expiry never
// interleave. Listener events are delivered while that mutex is held and
// must not call back into the Machine. Session additionally routes expiries
// onto its own goroutine so events arrive in one place.
type Machine struct {
	mu sync.Mutex

	challenge *Challenge
	listener  Listener
	sched     Scheduler
	clock     Clock
	logger    *slog.Logger

	index     int
	timer     Timer
	gen       uint64
	running   bool
	completed bool
	startedAt time.Time
}

// NewMachine creates a machine for c. A nil listener discards events.
func NewMachine(c *Challenge, l Listener, opts ...MachineOption) *Machine {
	if l == nil {
		l = NopListener{}
	}
	m := &Machine{
		challenge: c,
		listener:  l,
		sched:     RealScheduler{},
		clock:     RealScheduler{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Challenge returns the challenge definition.
func (m *Machine) Challenge() *Challenge {
	return m.challenge
}

// Start begins (or restarts) the challenge at the first task and emits
// TaskInProgress for it.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimer()
	m.index = 0
	m.running = true
	m.completed = false
	m.startedAt = m.clock.Now()

	m.logger.Debug("challenge started", "tasks", m.challenge.TaskCount())
	m.emitProgress(CauseStart)
}

// Reset returns the machine to its freshly constructed state. No event is
// emitted; call Start to begin again.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimer()
	m.index = 0
	m.running = false
	m.completed = false
	m.startedAt = time.Time{}
}

// Stop ends the session: the pending timer is cancelled and later frames
// are ignored. The current index is kept for inspection.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimer()
	m.running = false
}

// Evaluate classifies one frame against the active task.
//
// A broken pose cancels the debounce timer and re-emits TaskInProgress for
// the current task. A held pose starts the timer unless one is already
// running. Invalid measurements return an error wrapping
// ErrInvalidMeasurement and leave the state untouched. Frames arriving
// before Start or after completion return VerdictIgnored.
func (m *Machine) Evaluate(fm FaceMeasurement) (Verdict, error) {
	if err := fm.Validate(); err != nil {
		m.logger.Debug("measurement rejected", "error", err)
		return VerdictIgnored, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.completed {
		return VerdictIgnored, nil
	}

	task, _ := m.challenge.TaskAt(m.index)
	if !task.Kind.Holds(fm, m.challenge.thresholds) {
		m.cancelTimer()
		m.emitProgress(CausePoseLost)
		return VerdictBroken, nil
	}

	m.startTimer()
	return VerdictHeld, nil
}

// OnTimerExpired applies the expiry of the timer started with generation
// gen. It reports whether the expiry took effect; expiries for cancelled
// or superseded timers are no-ops.
func (m *Machine) OnTimerExpired(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil || gen != m.gen {
		m.logger.Debug("stale timer expiry ignored", "gen", gen, "current", m.gen)
		return false
	}
	m.timer = nil

	if !m.running || m.completed {
		return false
	}

	if !m.challenge.IsLastTask(m.index) {
		m.index++
		m.emitProgress(CauseAdvance)
		return true
	}

	m.completed = true
	elapsed := m.clock.Now().Sub(m.startedAt)
	m.logger.Info("challenge completed", "tasks", m.challenge.TaskCount(), "elapsed", elapsed)
	m.listener.AllTasksCompleted(Summary{
		TaskCount: m.challenge.TaskCount(),
		Elapsed:   elapsed,
	})
	return true
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Machine) snapshot() State {
	task, _ := m.challenge.TaskAt(m.index)
	return State{
		Index:        m.index,
		Task:         task,
		TaskCount:    m.challenge.TaskCount(),
		Running:      m.running,
		Completed:    m.completed,
		TimerPending: m.timer != nil,
		Generation:   m.gen,
	}
}

func (m *Machine) startTimer() {
	if m.timer != nil {
		// Sustained holding must not restart the countdown.
		m.logger.Debug("debounce timer already running", "task", m.index, "gen", m.gen)
		return
	}
	m.gen++
	gen := m.gen
	m.timer = m.sched.AfterFunc(m.challenge.hold, func() {
		m.OnTimerExpired(gen)
	})
}

func (m *Machine) cancelTimer() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.gen++
}

func (m *Machine) emitProgress(cause Cause) {
	task, _ := m.challenge.TaskAt(m.index)
	m.listener.TaskInProgress(Progress{
		Task:  task,
		Index: m.index,
		Count: m.challenge.TaskCount(),
		Cause: cause,
	})
}
