package protocol

import (
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewMeasurementMessage creates a measurement message
func NewMeasurementMessage(yaw, smile float64, frameID uint64) (*Message, error) {
	return NewMessage(TypeMeasurement, MeasurementData{
		Yaw:        yaw,
		Smile:      smile,
		FrameID:    frameID,
		CapturedAt: time.Now().UnixMilli(),
	})
}

// NewProgressMessage creates a progress message
func NewProgressMessage(p ProgressData) (*Message, error) {
	return NewMessage(TypeProgress, p)
}

// NewCompletedMessage creates a completion message
func NewCompletedMessage(sessionID string, taskCount int, elapsed time.Duration) (*Message, error) {
	return NewMessage(TypeCompleted, CompletedData{
		SessionID: sessionID,
		TaskCount: taskCount,
		ElapsedMs: elapsed.Milliseconds(),
	})
}

// NewVerdictMessage creates a per-frame verdict message
func NewVerdictMessage(frameID uint64, verdict string, index int) (*Message, error) {
	return NewMessage(TypeVerdict, VerdictData{
		FrameID: frameID,
		Verdict: verdict,
		Index:   index,
	})
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string, frameID uint64) (*Message, error) {
	return NewMessage(TypeError, ErrorData{
		Code:    code,
		Message: message,
		FrameID: frameID,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetMeasurementData extracts measurement data from a message
func (m *Message) GetMeasurementData() (*MeasurementData, error) {
	var data MeasurementData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CapturedTime converts CapturedAt to a time.Time. Zero stays zero.
func (d *MeasurementData) CapturedTime() time.Time {
	if d.CapturedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(d.CapturedAt)
}

// GetSessionData extracts session data from a message
func (m *Message) GetSessionData() (*SessionData, error) {
	var data SessionData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetProgressData extracts progress data from a message
func (m *Message) GetProgressData() (*ProgressData, error) {
	var data ProgressData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCompletedData extracts completion data from a message
func (m *Message) GetCompletedData() (*CompletedData, error) {
	var data CompletedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetVerdictData extracts verdict data from a message
func (m *Message) GetVerdictData() (*VerdictData, error) {
	var data VerdictData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
