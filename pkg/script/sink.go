package script

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-liveness/pkg/challenge"
	"github.com/teslashibe/go-liveness/pkg/protocol"
)

// SessionSink plays a script into an in-process challenge Session.
type SessionSink struct {
	Session *challenge.Session

	// OnVerdict, when set, is called with each evaluated frame.
	OnVerdict func(m challenge.FaceMeasurement, v challenge.Verdict)
}

// Start starts the session's challenge.
func (s *SessionSink) Start(ctx context.Context) error { return s.Session.Start(ctx) }

// Reset resets the session's challenge.
func (s *SessionSink) Reset(ctx context.Context) error { return s.Session.Reset(ctx) }

// Stop stops the session's challenge.
func (s *SessionSink) Stop(ctx context.Context) error { return s.Session.Stop(ctx) }

// Send evaluates one frame.
func (s *SessionSink) Send(ctx context.Context, m challenge.FaceMeasurement) error {
	v, err := s.Session.Evaluate(ctx, m)
	if err != nil {
		return err
	}
	if s.OnVerdict != nil {
		s.OnVerdict(m, v)
	}
	return nil
}

const (
	wsWriteWait   = 5 * time.Second
	wsInboxLength = 256
)

// WebSocketSink plays a script into a remote liveness server over
// /ws/session. Server replies are delivered on Messages.
type WebSocketSink struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu  sync.Mutex
	messages chan *protocol.Message
	done     chan struct{}
}

// DialWebSocket connects to a liveness server session endpoint, e.g.
// ws://localhost:8090/ws/session.
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger) (*WebSocketSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &WebSocketSink{
		conn:     conn,
		logger:   logger.With("url", url),
		messages: make(chan *protocol.Message, wsInboxLength),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Messages delivers server messages. It is closed when the connection ends.
func (s *WebSocketSink) Messages() <-chan *protocol.Message {
	return s.messages
}

func (s *WebSocketSink) readLoop() {
	defer close(s.messages)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			s.logger.Warn("unparseable server message", "error", err)
			continue
		}
		select {
		case s.messages <- msg:
		default:
			s.logger.Warn("message queue full, dropping", "type", msg.Type)
		}
	}
}

func (s *WebSocketSink) write(ctx context.Context, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *WebSocketSink) control(ctx context.Context, t protocol.MessageType) error {
	msg, err := protocol.NewMessage(t, nil)
	if err != nil {
		return err
	}
	return s.write(ctx, msg)
}

// Start sends a start message.
func (s *WebSocketSink) Start(ctx context.Context) error { return s.control(ctx, protocol.TypeStart) }

// Reset sends a reset message.
func (s *WebSocketSink) Reset(ctx context.Context) error { return s.control(ctx, protocol.TypeReset) }

// Stop sends a stop message.
func (s *WebSocketSink) Stop(ctx context.Context) error { return s.control(ctx, protocol.TypeStop) }

// Send sends one measurement. Rejections arrive later as error messages.
func (s *WebSocketSink) Send(ctx context.Context, m challenge.FaceMeasurement) error {
	data := protocol.MeasurementData{
		Yaw:     m.YawDegrees,
		Smile:   m.SmilingProbability,
		FrameID: m.FrameID,
	}
	if !m.CapturedAt.IsZero() {
		data.CapturedAt = m.CapturedAt.UnixMilli()
	}
	msg, err := protocol.NewMessage(protocol.TypeMeasurement, data)
	if err != nil {
		return err
	}
	return s.write(ctx, msg)
}

// Close sends a close frame and closes the connection.
func (s *WebSocketSink) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
