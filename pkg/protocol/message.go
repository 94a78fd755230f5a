// Package protocol defines the WebSocket message types exchanged between a
// frame source (browser, mobile client, simulator) and the liveness service,
// and between the service and its dashboards.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Service messages
	TypeStart       MessageType = "start"       // Begin (or restart) the challenge
	TypeMeasurement MessageType = "measurement" // One analyzed frame
	TypeReset       MessageType = "reset"       // Return to the initial state
	TypeStop        MessageType = "stop"        // End the challenge, ignore later frames

	// Service → Client messages
	TypeSession   MessageType = "session"   // Sent once after connect
	TypeProgress  MessageType = "progress"  // Current task changed or pose lost
	TypeCompleted MessageType = "completed" // All tasks held
	TypeVerdict   MessageType = "verdict"   // Per-frame classification
	TypeError     MessageType = "error"     // Request could not be applied

	// Service → Dashboard messages
	TypeSessionClosed MessageType = "session_closed"

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Error codes carried by ErrorData.
const (
	CodeBadMessage         = "bad_message"
	CodeInvalidMeasurement = "invalid_measurement"
	CodeRateLimited        = "rate_limited"
	CodeSessionClosed      = "session_closed"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes. A message without a type is
// rejected.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Client → Service Message Types
// =============================================================================

// MeasurementData is one frame's face measurement.
type MeasurementData struct {
	Yaw        float64 `json:"yaw"`                   // Degrees, negative = subject's left
	Smile      float64 `json:"smile"`                 // Smiling probability, 0.0 to 1.0
	FrameID    uint64  `json:"frame_id,omitempty"`    // Echoed back in the verdict
	CapturedAt int64   `json:"captured_at,omitempty"` // Unix milliseconds
}

// =============================================================================
// Service → Client Message Types
// =============================================================================

// TaskData describes one challenge task.
type TaskData struct {
	Kind   string `json:"kind"`
	Prompt string `json:"prompt"`
}

// SessionData describes a session and its challenge.
type SessionData struct {
	SessionID  string     `json:"session_id"`
	Tasks      []TaskData `json:"tasks"`
	HoldMs     int64      `json:"hold_ms"`
	YawBand    float64    `json:"yaw_band"`
	SmileFloor float64    `json:"smile_floor"`
}

// ProgressData announces the task the user should be performing.
type ProgressData struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Count     int    `json:"count"`
	Kind      string `json:"kind"`
	Prompt    string `json:"prompt"`
	Cause     string `json:"cause"` // "start", "advance", "pose_lost"
}

// CompletedData announces that every task was held.
type CompletedData struct {
	SessionID string `json:"session_id"`
	TaskCount int    `json:"task_count"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// VerdictData is the classification of one measurement.
type VerdictData struct {
	FrameID uint64 `json:"frame_id,omitempty"`
	Verdict string `json:"verdict"` // "held", "broken", "ignored"
	Index   int    `json:"index"`
}

// ErrorData reports a request the service could not apply.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	FrameID uint64 `json:"frame_id,omitempty"`
}

// SessionClosedData tells dashboards that a session ended.
type SessionClosedData struct {
	SessionID string `json:"session_id"`
	Completed bool   `json:"completed"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
