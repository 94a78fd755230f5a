package challenge

import "time"

// Cause says why a TaskInProgress event was emitted.
type Cause int

const (
	// CauseStart is emitted once when the challenge starts.
	CauseStart Cause = iota
	// CauseAdvance is emitted when the previous task was held long enough.
	CauseAdvance
	// CausePoseLost is emitted on every frame where the active pose breaks.
	CausePoseLost
)

// String returns the wire name of the cause.
func (c Cause) String() string {
	switch c {
	case CauseStart:
		return "start"
	case CauseAdvance:
		return "advance"
	case CausePoseLost:
		return "pose_lost"
	default:
		return "unknown"
	}
}

// Progress describes the task the user should be performing.
type Progress struct {
	Task  Task
	Index int
	Count int
	Cause Cause
}

// Summary describes a completed challenge.
type Summary struct {
	TaskCount int
	Elapsed   time.Duration
}

// Listener receives challenge events. Implementations must not call back
// into the Machine or Session that is delivering the event.
type Listener interface {
	TaskInProgress(p Progress)
	AllTasksCompleted(s Summary)
}

// NopListener ignores every event. Embed it to implement only the methods
// you care about.
type NopListener struct{}

// TaskInProgress does nothing.
func (NopListener) TaskInProgress(Progress) {}

// AllTasksCompleted does nothing.
func (NopListener) AllTasksCompleted(Summary) {}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are no-ops.
type ListenerFuncs struct {
	OnTaskInProgress    func(Progress)
	OnAllTasksCompleted func(Summary)
}

// TaskInProgress calls OnTaskInProgress if set.
func (f ListenerFuncs) TaskInProgress(p Progress) {
	if f.OnTaskInProgress != nil {
		f.OnTaskInProgress(p)
	}
}

// AllTasksCompleted calls OnAllTasksCompleted if set.
func (f ListenerFuncs) AllTasksCompleted(s Summary) {
	if f.OnAllTasksCompleted != nil {
		f.OnAllTasksCompleted(s)
	}
}

// MultiListener delivers each event to every listener in order.
type MultiListener []Listener

// TaskInProgress fans out to all listeners.
func (ml MultiListener) TaskInProgress(p Progress) {
	for _, l := range ml {
		l.TaskInProgress(p)
	}
}

// AllTasksCompleted fans out to all listeners.
func (ml MultiListener) AllTasksCompleted(s Summary) {
	for _, l := range ml {
		l.AllTasksCompleted(s)
	}
}
