package server

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-liveness/pkg/challenge"
	"github.com/teslashibe/go-liveness/pkg/protocol"
)

// connection is one client websocket and the challenge session it owns.
type connection struct {
	srv     *Server
	conn    *websocket.Conn
	session *challenge.Session
	limiter *rate.Limiter
	logger  *slog.Logger

	frames    atomic.Uint64
	completed atomic.Bool

	writeMu  sync.Mutex
	lastSeen atomic.Int64 // Unix milliseconds
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	ID        string           `json:"id"`
	Connected time.Time        `json:"connected"`
	LastSeen  time.Time        `json:"last_seen"`
	Frames    uint64           `json:"frames"`
	Completed bool             `json:"completed"`
	State     *challenge.State `json:"state,omitempty"`
}

func (c *connection) id() string {
	return c.session.ID()
}

func (c *connection) info() SessionInfo {
	return SessionInfo{
		ID:        c.id(),
		Connected: c.session.CreatedAt(),
		LastSeen:  time.UnixMilli(c.lastSeen.Load()),
		Frames:    c.frames.Load(),
		Completed: c.completed.Load(),
	}
}

// send writes msg to the client. Safe for concurrent use.
func (c *connection) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.srv.stats.messagesSent.Add(1)
	return nil
}

// emit sends a message to the client and mirrors it to dashboards.
func (c *connection) emit(t protocol.MessageType, payload interface{}) {
	msg, err := protocol.NewMessage(t, payload)
	if err != nil {
		c.logger.Error("encode message", "type", t, "error", err)
		return
	}
	if err := c.send(msg); err != nil {
		c.logger.Debug("send failed", "type", t, "error", err)
	}
	if err := c.srv.events.BroadcastMessage(msg); err != nil {
		c.logger.Debug("broadcast failed", "type", t, "error", err)
	}
}

func (c *connection) sendError(code string, err error, frameID uint64) {
	msg, mErr := protocol.NewErrorMessage(code, err.Error(), frameID)
	if mErr != nil {
		return
	}
	if sErr := c.send(msg); sErr != nil {
		c.logger.Debug("send error failed", "code", code, "error", sErr)
	}
}

// TaskInProgress forwards machine progress. It runs on the session goroutine.
func (c *connection) TaskInProgress(p challenge.Progress) {
	c.emit(protocol.TypeProgress, protocol.ProgressData{
		SessionID: c.id(),
		Index:     p.Index,
		Count:     p.Count,
		Kind:      p.Task.Kind.String(),
		Prompt:    p.Task.Prompt,
		Cause:     p.Cause.String(),
	})
}

// AllTasksCompleted forwards completion. It runs on the session goroutine.
func (c *connection) AllTasksCompleted(sum challenge.Summary) {
	c.completed.Store(true)
	c.srv.stats.sessionsCompleted.Add(1)
	c.logger.Info("challenge passed", "elapsed", sum.Elapsed)
	c.emit(protocol.TypeCompleted, protocol.CompletedData{
		SessionID: c.id(),
		TaskCount: sum.TaskCount,
		ElapsedMs: sum.Elapsed.Milliseconds(),
	})
}

func (s *Server) registerWSRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/session", websocket.New(s.handleSession))
	app.Get("/ws/events", s.eventsHandler())
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.cfg.MaxFPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(math.Ceil(s.cfg.MaxFPS))
	return rate.NewLimiter(rate.Limit(s.cfg.MaxFPS), burst)
}

// handleSession runs one challenge for the lifetime of the connection.
// The optional locale query parameter selects the prompt language.
func (s *Server) handleSession(ws *websocket.Conn) {
	def := s.challenge
	if locale := ws.Query("locale"); locale != "" {
		localized, err := localize(def, locale)
		if err != nil {
			s.logger.Warn("localize challenge", "locale", locale, "error", err)
		} else {
			def = localized
		}
	}

	c := &connection{
		srv:     s,
		conn:    ws,
		limiter: s.newLimiter(),
	}

	opts := append([]challenge.SessionOption{challenge.WithSessionLogger(s.logger)}, s.sessionOpts...)
	c.session = challenge.NewSession(def, c, opts...)
	c.lastSeen.Store(time.Now().UnixMilli())
	c.logger = s.logger.With("session", c.id())

	ctx, cancel := context.WithCancel(context.Background())
	go c.session.Run(ctx)

	s.stats.sessionsOpened.Add(1)
	count := s.addConnection(c)
	c.logger.Info("session connected", "sessions", count)

	defer func() {
		cancel()
		<-c.session.Done()
		count := s.removeConnection(c)
		c.logger.Info("session disconnected", "sessions", count, "completed", c.completed.Load())
		if err := s.events.Publish(protocol.TypeSessionClosed, protocol.SessionClosedData{
			SessionID: c.id(),
			Completed: c.completed.Load(),
		}); err != nil {
			c.logger.Debug("broadcast failed", "error", err)
		}
	}()

	c.emit(protocol.TypeSession, describe(c.id(), def))

	// Read loop
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.logger.Debug("read error", "error", err)
			return
		}
		c.lastSeen.Store(time.Now().UnixMilli())

		if err := c.handleMessage(ctx, data); err != nil {
			if errors.Is(err, challenge.ErrSessionClosed) {
				c.sendError(protocol.CodeSessionClosed, err, 0)
				return
			}
			c.logger.Debug("message failed", "error", err)
		}
	}
}

// handleMessage processes an incoming client message
func (c *connection) handleMessage(ctx context.Context, data []byte) error {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.sendError(protocol.CodeBadMessage, err, 0)
		return err
	}

	switch msg.Type {
	case protocol.TypeMeasurement:
		return c.handleMeasurement(ctx, msg)

	case protocol.TypeStart:
		return c.session.Start(ctx)

	case protocol.TypeReset:
		return c.session.Reset(ctx)

	case protocol.TypeStop:
		return c.session.Stop(ctx)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			ping = &protocol.PingData{}
		}
		pingTS := ping.Timestamp
		if pingTS == 0 {
			pingTS = msg.Timestamp
		}
		pong, err := protocol.NewPongMessage(ping.ID, pingTS, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		return c.send(pong)

	default:
		err := errors.New("unsupported message type " + string(msg.Type))
		c.sendError(protocol.CodeBadMessage, err, 0)
		return err
	}
}

func (c *connection) handleMeasurement(ctx context.Context, msg *protocol.Message) error {
	c.srv.stats.framesReceived.Add(1)

	m, err := msg.GetMeasurementData()
	if err != nil {
		c.srv.stats.framesRejected.Add(1)
		c.sendError(protocol.CodeBadMessage, err, 0)
		return err
	}

	if !c.limiter.Allow() {
		c.srv.stats.framesDropped.Add(1)
		c.sendError(protocol.CodeRateLimited, errors.New("frame rate exceeded"), m.FrameID)
		return nil
	}
	c.frames.Add(1)

	verdict, st, err := c.session.EvaluateState(ctx, challenge.FaceMeasurement{
		YawDegrees:         m.Yaw,
		SmilingProbability: m.Smile,
		FrameID:            m.FrameID,
		CapturedAt:         m.CapturedTime(),
	})
	if errors.Is(err, challenge.ErrInvalidMeasurement) {
		c.srv.stats.framesRejected.Add(1)
		c.sendError(protocol.CodeInvalidMeasurement, err, m.FrameID)
		return nil
	}
	if err != nil {
		return err
	}

	reply, err := protocol.NewVerdictMessage(m.FrameID, verdict.String(), st.Index)
	if err != nil {
		return err
	}
	return c.send(reply)
}

// describe builds the session message for a challenge.
func describe(id string, def *challenge.Challenge) protocol.SessionData {
	tasks := def.Tasks()
	out := make([]protocol.TaskData, len(tasks))
	for i, t := range tasks {
		out[i] = protocol.TaskData{Kind: t.Kind.String(), Prompt: t.Prompt}
	}
	th := def.Thresholds()
	return protocol.SessionData{
		SessionID:  id,
		Tasks:      out,
		HoldMs:     def.Hold().Milliseconds(),
		YawBand:    th.YawBandDegrees,
		SmileFloor: th.SmileFloor,
	}
}

// localize rebuilds def with prompts for locale, keeping order, hold and
// thresholds.
func localize(def *challenge.Challenge, locale string) (*challenge.Challenge, error) {
	tasks := def.Tasks()
	kinds := make([]challenge.Kind, len(tasks))
	for i, t := range tasks {
		kinds[i] = t.Kind
	}
	return challenge.New(challenge.TasksFor(kinds, locale),
		challenge.WithHold(def.Hold()),
		challenge.WithThresholds(def.Thresholds()),
	)
}
