package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-liveness/internal/log"
	"github.com/teslashibe/go-liveness/pkg/challenge"
	"github.com/teslashibe/go-liveness/pkg/protocol"
	"github.com/teslashibe/go-liveness/pkg/script"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a scripted face track",
	Long: `Replay a scripted face track against a challenge.

The script is an embedded name (see --list) or a path to a YAML file.
With --local the challenge runs in-process using the configured settings;
otherwise frames are streamed to a running server at --url.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("script", "three_tasks", "Embedded script name or YAML file path")
	simulateCmd.Flags().String("url", "ws://localhost:8090/ws/session", "Server session endpoint")
	simulateCmd.Flags().Float64("fps", 0, "Frame rate override (0 uses the script's)")
	simulateCmd.Flags().Bool("local", false, "Run the challenge in-process instead of against a server")
	simulateCmd.Flags().Bool("list", false, "List embedded scripts and exit")
	simulateCmd.Flags().Bool("progress", true, "Show a frame progress bar on stderr")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if mustGetBool(cmd, "list") {
		names, err := script.ListEmbedded()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)

	s, err := script.Load(mustGetString(cmd, "script"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fps := mustGetFloat64(cmd, "fps")
	opts := script.PlayerOptions{FrameRate: fps, Logger: log.L()}
	if mustGetBool(cmd, "progress") {
		bar := newFrameBar(s.FrameCount(fps))
		defer bar.Finish()
		opts.OnFrame = func(uint64) { _ = bar.Add(1) }
	}
	player := script.NewPlayer(opts)

	log.Info("playing script", "script", s.Name, "steps", len(s.Steps), "duration", s.Duration())

	var res script.Result
	if mustGetBool(cmd, "local") {
		def, err := cfg.Challenge.Build()
		if err != nil {
			return fmt.Errorf("challenge: %w", err)
		}
		res, err = simulateLocal(ctx, def, player, s)
		if err != nil {
			return err
		}
	} else {
		res, err = simulateRemote(ctx, mustGetString(cmd, "url"), player, s)
		if err != nil {
			return err
		}
	}

	log.Info("script finished",
		"frames", res.Frames,
		"rejected", res.Rejected,
		"actions", res.Actions,
		"elapsed", res.Elapsed,
	)
	return nil
}

func newFrameBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Frames"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// logListener logs challenge events.
type logListener struct {
	logger *slog.Logger
	done   chan challenge.Summary
}

func (l *logListener) TaskInProgress(p challenge.Progress) {
	l.logger.Info("task", "index", p.Index, "kind", p.Task.Kind, "prompt", p.Task.Prompt, "cause", p.Cause.String())
}

func (l *logListener) AllTasksCompleted(s challenge.Summary) {
	l.logger.Info("all tasks completed", "tasks", s.TaskCount, "elapsed", s.Elapsed)
	select {
	case l.done <- s:
	default:
	}
}

func simulateLocal(ctx context.Context, def *challenge.Challenge, player *script.Player, s *script.Script) (script.Result, error) {
	l := &logListener{logger: log.With("mode", "local"), done: make(chan challenge.Summary, 1)}
	session := challenge.NewSession(def, l, challenge.WithSessionLogger(log.L()))

	runCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		<-session.Done()
	}()
	go session.Run(runCtx)

	sink := &script.SessionSink{
		Session: session,
		OnVerdict: func(m challenge.FaceMeasurement, v challenge.Verdict) {
			log.Debug("frame", "frame", m.FrameID, "yaw", m.YawDegrees, "smile", m.SmilingProbability, "verdict", v)
		},
	}
	res, err := player.Play(ctx, s, sink)
	if err != nil {
		return res, err
	}

	select {
	case <-l.done:
	default:
		if st, err := session.Snapshot(ctx); err == nil {
			log.Warn("challenge not completed", "index", st.Index, "task", st.Task.Kind)
		}
	}
	return res, nil
}

// remoteDrain bounds how long to wait for trailing server messages.
const remoteDrain = 2 * time.Second

func simulateRemote(ctx context.Context, url string, player *script.Player, s *script.Script) (script.Result, error) {
	logger := log.With("mode", "remote")
	sink, err := script.DialWebSocket(ctx, url, logger)
	if err != nil {
		return script.Result{}, err
	}
	defer sink.Close()

	completed := make(chan struct{})
	go func() {
		for msg := range sink.Messages() {
			logServerMessage(logger, msg)
			if msg.Type == protocol.TypeCompleted {
				close(completed)
				return
			}
		}
	}()

	res, err := player.Play(ctx, s, sink)
	if err != nil && !errors.Is(err, context.Canceled) {
		return res, err
	}

	select {
	case <-completed:
	case <-time.After(remoteDrain):
		logger.Warn("no completion received")
	case <-ctx.Done():
	}
	return res, nil
}

func logServerMessage(logger *slog.Logger, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeSession:
		if d, err := msg.GetSessionData(); err == nil {
			logger.Info("session opened", "session", d.SessionID, "tasks", len(d.Tasks), "hold_ms", d.HoldMs)
		}
	case protocol.TypeProgress:
		if d, err := msg.GetProgressData(); err == nil {
			logger.Info("task", "index", d.Index, "kind", d.Kind, "prompt", d.Prompt, "cause", d.Cause)
		}
	case protocol.TypeCompleted:
		if d, err := msg.GetCompletedData(); err == nil {
			logger.Info("all tasks completed", "tasks", d.TaskCount, "elapsed_ms", d.ElapsedMs)
		}
	case protocol.TypeError:
		if d, err := msg.GetErrorData(); err == nil {
			logger.Debug("server error", "code", d.Code, "message", d.Message, "frame", d.FrameID)
		}
	case protocol.TypeVerdict:
		// per-frame noise
	default:
		logger.Debug("server message", "type", msg.Type)
	}
}
