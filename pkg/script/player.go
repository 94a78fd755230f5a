package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-liveness/pkg/challenge"
)

// Sink receives the frames and actions of a script.
type Sink interface {
	Start(ctx context.Context) error
	Reset(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, m challenge.FaceMeasurement) error
}

// WaitFunc pauses between frames. It returns early with ctx.Err() when ctx
// is cancelled.
type WaitFunc func(ctx context.Context, d time.Duration) error

// PlayerOptions configures playback.
type PlayerOptions struct {
	// FrameRate overrides the script's fps when positive.
	FrameRate float64

	// Wait paces frames. Defaults to a real-time sleep.
	Wait WaitFunc

	// Now stamps CapturedAt on each frame. Defaults to time.Now.
	Now func() time.Time

	// OnFrame, when set, is called after each frame is sent.
	OnFrame func(frameID uint64)

	Logger *slog.Logger
}

// DefaultPlayerOptions returns real-time playback options.
func DefaultPlayerOptions() PlayerOptions {
	return PlayerOptions{
		Wait:   sleep,
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result summarizes a playback.
type Result struct {
	Frames   int           `json:"frames"`
	Rejected int           `json:"rejected"`
	Actions  int           `json:"actions"`
	Elapsed  time.Duration `json:"elapsed"`
	Stopped  bool          `json:"stopped"`
}

// Player replays scripts into a Sink at a fixed frame rate.
type Player struct {
	mu      sync.Mutex
	playing bool
	opts    PlayerOptions
	stopCh  chan struct{}
}

// NewPlayer creates a player. Zero-valued option fields take their defaults.
func NewPlayer(opts PlayerOptions) *Player {
	def := DefaultPlayerOptions()
	if opts.Wait == nil {
		opts.Wait = def.Wait
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	return &Player{opts: opts}
}

// Play runs every step of s against sink and blocks until the script ends,
// Stop is called or ctx is cancelled. Frames the sink rejects as invalid
// measurements are counted and skipped; any other sink error aborts playback.
func (p *Player) Play(ctx context.Context, s *Script, sink Sink) (Result, error) {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return Result{}, ErrAlreadyPlaying
	}
	p.playing = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
	}()

	fps := s.fps()
	if p.opts.FrameRate > 0 {
		fps = p.opts.FrameRate
	}
	interval := time.Duration(float64(time.Second) / fps)
	logger := p.opts.Logger.With("script", s.Name)

	// Cancel pacing as soon as Stop is called.
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-playCtx.Done():
		}
	}()

	var (
		res     Result
		frameID uint64
		started = p.opts.Now()
	)
	finish := func(err error) (Result, error) {
		res.Elapsed = p.opts.Now().Sub(started)
		select {
		case <-stopCh:
			res.Stopped = true
			return res, nil
		default:
		}
		return res, err
	}

	for i, st := range s.Steps {
		if st.Action != "" {
			logger.Debug("script action", "step", i, "action", st.Action)
			if err := p.apply(playCtx, sink, st.Action); err != nil {
				return finish(fmt.Errorf("step %d %s: %w", i, st.Action, err))
			}
			res.Actions++
			continue
		}

		logger.Debug("script step", "step", i, "note", st.Note, "yaw", st.Yaw, "smile", st.Smile, "duration", st.Duration)
		for n := st.Frames(fps); n > 0; n-- {
			frameID++
			m := st.Measurement()
			m.FrameID = frameID
			m.CapturedAt = p.opts.Now()

			err := sink.Send(playCtx, m)
			switch {
			case errors.Is(err, challenge.ErrInvalidMeasurement):
				res.Rejected++
			case err != nil:
				return finish(fmt.Errorf("step %d frame %d: %w", i, frameID, err))
			}
			res.Frames++
			if p.opts.OnFrame != nil {
				p.opts.OnFrame(frameID)
			}

			if err := p.opts.Wait(playCtx, interval); err != nil {
				return finish(err)
			}
		}
	}
	return finish(nil)
}

func (p *Player) apply(ctx context.Context, sink Sink, a Action) error {
	switch a {
	case ActionStart:
		return sink.Start(ctx)
	case ActionReset:
		return sink.Reset(ctx)
	case ActionStop:
		return sink.Stop(ctx)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidScript, a)
	}
}

// Stop halts playback. Play returns with Result.Stopped set.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.stopCh != nil {
		select {
		case <-p.stopCh:
		default:
			close(p.stopCh)
		}
	}
}

// Playing reports whether a script is being played.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
