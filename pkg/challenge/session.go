package challenge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const defaultInboxSize = 64

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	id        string
	inboxSize int
	sched     Scheduler
	clock     Clock
	logger    *slog.Logger
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(c *sessionConfig) { c.id = id }
}

// WithInboxSize sets how many pending commands the session buffers.
func WithInboxSize(n int) SessionOption {
	return func(c *sessionConfig) {
		if n > 0 {
			c.inboxSize = n
		}
	}
}

// WithSessionScheduler sets the underlying timer scheduler. Expiries are
// always routed through the session inbox regardless of the scheduler.
func WithSessionScheduler(s Scheduler) SessionOption {
	return func(c *sessionConfig) { c.sched = s }
}

// WithSessionClock sets the clock handed to the machine.
func WithSessionClock(clk Clock) SessionOption {
	return func(c *sessionConfig) { c.clock = clk }
}

// WithSessionLogger sets the structured logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) { c.logger = l }
}

// Session owns one Machine and applies every operation on a single
// goroutine, the one running Run. Frames may be submitted from any
// goroutine; debounce timer expiries are posted into the same inbox, so
// evaluation and expiry never interleave.
//
// Listener events are delivered on the Run goroutine in emission order.
type Session struct {
	id      string
	machine *Machine
	inbox   chan func()
	done    chan struct{}
	logger  *slog.Logger
	created time.Time
}

// NewSession creates a session for c. Call Run before any other method.
func NewSession(c *Challenge, l Listener, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		id:        uuid.New().String(),
		inboxSize: defaultInboxSize,
		sched:     RealScheduler{},
		clock:     RealScheduler{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		id:      cfg.id,
		inbox:   make(chan func(), cfg.inboxSize),
		done:    make(chan struct{}),
		logger:  cfg.logger.With("session", cfg.id),
		created: cfg.clock.Now(),
	}

	routed := SchedulerFunc(func(d time.Duration, f func()) Timer {
		return cfg.sched.AfterFunc(d, func() { s.post(f) })
	})
	s.machine = NewMachine(c, l,
		WithScheduler(routed),
		WithClock(cfg.clock),
		WithLogger(s.logger),
	)
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// Challenge returns the challenge definition.
func (s *Session) Challenge() *Challenge {
	return s.machine.Challenge()
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run applies queued operations until ctx is cancelled. Any pending timer is
// cancelled on exit. Run returns ctx.Err().
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.logger.Debug("session running")

	for {
		select {
		case <-ctx.Done():
			s.machine.Stop()
			s.logger.Debug("session stopped", "reason", ctx.Err())
			return ctx.Err()
		case fn := <-s.inbox:
			fn()
		}
	}
}

// Start begins the challenge at the first task.
func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, s.machine.Start)
}

// Reset returns the machine to its initial state.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, s.machine.Reset)
}

// Stop cancels the pending timer and ignores later frames until Start.
func (s *Session) Stop(ctx context.Context) error {
	return s.do(ctx, s.machine.Stop)
}

// Evaluate hands one frame to the machine and waits for its verdict.
func (s *Session) Evaluate(ctx context.Context, fm FaceMeasurement) (Verdict, error) {
	var (
		verdict Verdict
		evalErr error
	)
	err := s.do(ctx, func() {
		verdict, evalErr = s.machine.Evaluate(fm)
	})
	if err != nil {
		return VerdictIgnored, err
	}
	return verdict, evalErr
}

// EvaluateState is Evaluate plus the machine state right after the frame,
// taken before any later timer expiry can run.
func (s *Session) EvaluateState(ctx context.Context, fm FaceMeasurement) (Verdict, State, error) {
	var (
		verdict Verdict
		st      State
		evalErr error
	)
	err := s.do(ctx, func() {
		verdict, evalErr = s.machine.Evaluate(fm)
		st = s.machine.Snapshot()
	})
	if err != nil {
		return VerdictIgnored, State{}, err
	}
	return verdict, st, evalErr
}

// Snapshot returns the machine state.
func (s *Session) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func() {
		st = s.machine.Snapshot()
	})
	return st, err
}

// do runs fn on the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	wrapped := func() {
		fn()
		close(reply)
	}

	select {
	case s.inbox <- wrapped:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-s.done:
		// Run may have exited after dequeuing; the reply can still be closed.
		select {
		case <-reply:
			return nil
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Posts after Run has exited are dropped.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}
